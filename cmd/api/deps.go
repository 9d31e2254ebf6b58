// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/finchley/docflow/internal/blob"
	"github.com/finchley/docflow/internal/config"
	"github.com/finchley/docflow/internal/notify"
)

// newBlobStore prefers Azure when a connection string is configured and
// falls back to the local filesystem store otherwise.
func newBlobStore(cfg config.Config, logger *slog.Logger) (blob.Store, error) {
	if cfg.AzureConnString != "" {
		return blob.NewAzure(cfg.AzureConnString, cfg.BlobContainer, logger)
	}
	return blob.NewLocal(cfg.LocalBlobDir, logger)
}

func newNotifier(cfg config.Config, logger *slog.Logger) notify.Channel {
	if cfg.NotifyWebhookURL == "" {
		return notify.Noop{}
	}
	return notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, nil, logger)
}
