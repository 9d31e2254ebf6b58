// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/finchley/docflow/internal/blob"
	"github.com/finchley/docflow/internal/config"
	"github.com/finchley/docflow/internal/executor"
	"github.com/finchley/docflow/internal/fieldextract"
	"github.com/finchley/docflow/internal/inference"
	"github.com/finchley/docflow/internal/logging"
	"github.com/finchley/docflow/internal/notify"
	"github.com/finchley/docflow/internal/persistence/postgres"
	"github.com/finchley/docflow/internal/repository"
	"github.com/finchley/docflow/internal/textextract"
	"github.com/finchley/docflow/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema bootstrap failed: %v", err)
		}
	}

	docRepo := repository.NewDocumentRepository(pool, logger)
	wfRepo := repository.NewWorkflowRepository(pool, logger)
	approvalRepo := repository.NewApprovalRepository(pool, logger)
	eventRepo := repository.NewEventRepository(pool, logger)

	blobs, err := newBlobStore(cfg, logger)
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}

	ai := inference.NewHTTPClient(inference.Config{
		BaseURL: cfg.InferenceBaseURL,
		Timeout: cfg.InferenceTimeout,
	}, nil, logger)

	engine, gate := executor.New(executor.Config{
		RejectionPolicy: cfg.ApprovalRejectionPolicy,
	}, executor.Deps{
		Documents: docRepo,
		Workflows: wfRepo,
		Approvals: approvalRepo,
		Events:    eventRepo,
		Blobs:     blobs,
		Text:      textextract.NewPipeline(textextract.Config{}, ai, logger),
		Fields:    fieldextract.NewEngine(fieldextract.Config{}, ai, logger),
		Notifier:  newNotifier(cfg, logger),
		Logger:    logger,
	})

	w := worker.New(worker.Deps{
		Queue:         docRepo,
		Runner:        engine,
		Sweeper:       gate,
		Logger:        logger,
		Interval:      cfg.WorkerInterval,
		SweepInterval: cfg.SweepInterval,
	})

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

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
