// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
)

// Webhook posts signed JSON messages to a single configured endpoint. The
// receiving side correlates updates by the message reference.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(url, secret string, client *http.Client, logger *slog.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{url: strings.TrimSpace(url), secret: secret, client: client, logger: logger}
}

type webhookPayload struct {
	Ref      string         `json:"ref"`
	Channel  string         `json:"channel"`
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
	Meta     map[string]any `json:"meta,omitempty"`
	Update   bool           `json:"update"`
	PostedAt time.Time      `json:"posted_at"`
}

func (w *Webhook) PostMessage(ctx context.Context, channel string, msg Message) (string, error) {
	ref := uuid.NewString()
	err := w.deliver(ctx, webhookPayload{
		Ref:      ref,
		Channel:  channel,
		Subject:  msg.Subject,
		Body:     msg.Body,
		Meta:     msg.Meta,
		PostedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (w *Webhook) UpdateMessage(ctx context.Context, channel, ref string, msg Message) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("notify: empty message reference")
	}
	return w.deliver(ctx, webhookPayload{
		Ref:      ref,
		Channel:  channel,
		Subject:  msg.Subject,
		Body:     msg.Body,
		Meta:     msg.Meta,
		Update:   true,
		PostedAt: time.Now().UTC(),
	})
}

func (w *Webhook) deliver(ctx context.Context, payload webhookPayload) error {
	if w.url == "" {
		return fmt.Errorf("notify: webhook url not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	signature := signPayload(w.secret, body)

	var lastErr error
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("notify: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(webhookHeaderSig, signature)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("notification delivery failed",
				"ref", payload.Ref,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				w.logger.Info("notification delivered",
					"ref", payload.Ref,
					"update", payload.Update,
					"attempt", attempt,
					"response_status", resp.StatusCode,
				)
				return nil
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			w.logger.Warn("notification delivery failed",
				"ref", payload.Ref,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < webhookRetryAttempts {
			wait := webhookRetryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("notify: canceled before retry: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("notify: retries exhausted: %w", lastErr)
}

func signPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
