// SPDX-License-Identifier: Apache-2.0

// Package inference wraps the external model-serving endpoints consumed as a
// black box: zero-shot classification, entity tagging, and image-to-text.
// Every call is time-bounded and assumed fallible; callers own the fallback.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Entity is one tagged span of text.
type Entity struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"` // organization | person | money | date
	Score float64 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
}

// Classification pairs candidate labels with scores, highest first.
type Classification struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// Top returns the best label and its score, or ok=false when empty.
func (c Classification) Top() (label string, score float64, ok bool) {
	if len(c.Labels) == 0 || len(c.Scores) == 0 {
		return "", 0, false
	}
	return c.Labels[0], c.Scores[0], true
}

// Client is the inference surface the engine depends on. The zero
// dependency case (service down, not configured) is handled by callers
// degrading to pattern extraction, never by this package guessing.
type Client interface {
	Classify(ctx context.Context, text string, labels []string) (Classification, error)
	TagEntities(ctx context.Context, text string) ([]Entity, error)
	ImageToText(ctx context.Context, data []byte) (string, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// HTTPClient talks JSON to the model server. One instance is constructed per
// process and passed by reference; there is no ambient global model state.
type HTTPClient struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewHTTPClient(cfg Config, client *http.Client, logger *slog.Logger) *HTTPClient {
	cfg.defaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{cfg: cfg, client: client, logger: logger}
}

type classifyRequest struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

type entitiesRequest struct {
	Text string `json:"text"`
}

type entitiesResponse struct {
	Entities []Entity `json:"entities"`
}

type ocrRequest struct {
	ImageB64 string `json:"image_b64"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

func (h *HTTPClient) Classify(ctx context.Context, text string, labels []string) (Classification, error) {
	var out Classification
	err := h.post(ctx, "/classify", classifyRequest{Text: text, Labels: labels}, &out)
	if err != nil {
		return Classification{}, err
	}
	if len(out.Labels) != len(out.Scores) {
		return Classification{}, fmt.Errorf("classify: label/score length mismatch (%d vs %d)", len(out.Labels), len(out.Scores))
	}
	return out, nil
}

func (h *HTTPClient) TagEntities(ctx context.Context, text string) ([]Entity, error) {
	var out entitiesResponse
	if err := h.post(ctx, "/entities", entitiesRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

func (h *HTTPClient) ImageToText(ctx context.Context, data []byte) (string, error) {
	var out ocrResponse
	req := ocrRequest{ImageB64: base64.StdEncoding.EncodeToString(data)}
	if err := h.post(ctx, "/ocr", req, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (h *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	started := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("inference: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL+path, bytes.NewReader(bs))
	if err != nil {
		return fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("inference call failed",
			"path", path,
			"elapsed_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return fmt.Errorf("inference: %s: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		h.logger.Warn("inference non-2xx response", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("inference: %s: non-2xx status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("inference: %s: decode response: %w", path, err)
	}

	h.logger.Debug("inference call ok",
		"path", path,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return nil
}
