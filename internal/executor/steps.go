// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finchley/docflow/internal/blob"
	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/notify"
)

// pauseRequest tells the run loop to suspend the execution until the
// referenced approval is decided.
type pauseRequest struct {
	approvalID uuid.UUID
}

// dispatch routes a step to its handler. Handler panics are converted to
// step failures so a bad config or payload can never take the process down.
func (e *Engine) dispatch(ctx context.Context, doc *domain.Document, wf *domain.WorkflowDefinition, step domain.Step) (output map[string]any, pause *pauseRequest, err error) {
	defer func() {
		if r := recover(); r != nil {
			output, pause = nil, nil
			err = fmt.Errorf("step handler panic: %v", r)
		}
	}()

	switch step.Type {
	case domain.StepExtractText:
		output, err = e.handleExtractText(ctx, doc, step)
	case domain.StepAnalyzeContent:
		output, err = e.handleAnalyzeContent(ctx, doc, wf, step)
	case domain.StepSendNotification:
		output = e.handleSendNotification(ctx, doc, step)
	case domain.StepStoreData:
		output = e.handleStoreData(ctx, doc, step)
	case domain.StepRequireApproval:
		output, pause, err = e.handleRequireApproval(ctx, doc, wf, step)
	default:
		err = fmt.Errorf("%w: unknown step type %q", domain.ErrInvalidStep, step.Type)
	}
	return output, pause, err
}

// handleExtractText pulls the raw bytes, runs the extraction pipeline and
// persists text plus stats on the document before returning.
func (e *Engine) handleExtractText(ctx context.Context, doc *domain.Document, step domain.Step) (map[string]any, error) {
	data, err := blob.ReadAll(ctx, e.deps.Blobs, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("read document bytes: %w", err)
	}

	mimeType := doc.MimeType
	if cfg := step.Config.ExtractText; cfg != nil && cfg.ForceOCR {
		// forcing OCR routes the bytes down the image path
		mimeType = "image/forced"
	}

	res := e.deps.Text.Extract(ctx, data, mimeType)

	stats := domain.ExtractionStats{
		Source:          res.Source,
		Confidence:      res.Confidence,
		CorruptionScore: res.Stats.CorruptionScore,
		Pages:           res.Stats.Pages,
		TextLength:      res.Stats.TextLength,
		PrintableRatio:  res.Stats.PrintableRatio,
		DurationMs:      res.Stats.Duration.Milliseconds(),
	}
	if err := e.deps.Documents.SaveExtraction(ctx, doc.ID, res.Text, stats); err != nil {
		return nil, fmt.Errorf("persist extraction: %w", err)
	}
	doc.ExtractedText = res.Text
	doc.ExtractionStats = &stats

	return map[string]any{
		"source":           res.Source,
		"confidence":       res.Confidence,
		"corruption_score": res.Stats.CorruptionScore,
		"text_length":      res.Stats.TextLength,
	}, nil
}

// handleAnalyzeContent requires text from a previous extract_text step.
func (e *Engine) handleAnalyzeContent(ctx context.Context, doc *domain.Document, wf *domain.WorkflowDefinition, step domain.Step) (map[string]any, error) {
	if doc.ExtractedText == "" {
		return nil, fmt.Errorf("%w: analyze_content needs a prior extract_text step", domain.ErrMissingExtractedText)
	}

	category := ""
	if cfg := step.Config.AnalyzeContent; cfg != nil {
		category = cfg.Category
	}
	if category == "" {
		category = wf.Trigger.Category
	}
	if category == "" {
		category = "general"
	}

	res := e.deps.Fields.Extract(ctx, doc.ExtractedText, category)
	if err := e.deps.Documents.SaveStructuredFields(ctx, doc.ID, res.Fields); err != nil {
		return nil, fmt.Errorf("persist structured fields: %w", err)
	}
	doc.StructuredFields = res.Fields

	return map[string]any{
		"category":     category,
		"fields_found": res.FieldsFound,
		"total_fields": res.TotalFields,
		"coverage":     res.Coverage(),
		"used_ai":      res.UsedAI,
	}, nil
}

// handleSendNotification posts to every configured channel concurrently.
// Per-channel failures are aggregated into the result, never returned as an
// error: notification delivery is best effort.
func (e *Engine) handleSendNotification(ctx context.Context, doc *domain.Document, step domain.Step) map[string]any {
	channels := []string{"default"}
	message := fmt.Sprintf("Document %s (%s) processed", doc.ID, doc.Filename)
	if cfg := step.Config.SendNotification; cfg != nil {
		if len(cfg.Channels) > 0 {
			channels = cfg.Channels
		}
		if cfg.Message != "" {
			message = cfg.Message
		}
	}

	msg := notify.Message{
		Subject: "Workflow notification",
		Body:    message,
		Meta: map[string]any{
			"document_id": doc.ID.String(),
			"filename":    doc.Filename,
			"status":      string(doc.Status),
		},
	}

	var mu sync.Mutex
	var failures []string
	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range channels {
		g.Go(func() error {
			if _, err := e.deps.Notifier.PostMessage(gctx, channel, msg); err != nil {
				e.logger.Warn("notification channel failed",
					"document_id", doc.ID,
					"channel", channel,
					"error", err,
				)
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", channel, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return map[string]any{
		"channels":  channels,
		"delivered": len(channels) - len(failures),
		"failures":  failures,
	}
}

// handleStoreData pushes the extraction results to the configured targets.
// Like notifications, target failures are aggregated, not fatal.
func (e *Engine) handleStoreData(ctx context.Context, doc *domain.Document, step domain.Step) map[string]any {
	targets := []string{"blob"}
	if cfg := step.Config.StoreData; cfg != nil && len(cfg.Targets) > 0 {
		targets = cfg.Targets
	}

	var mu sync.Mutex
	var failures []string
	record := func(target string, err error) {
		e.logger.Warn("store_data target failed",
			"document_id", doc.ID,
			"target", target,
			"error", err,
		)
		mu.Lock()
		failures = append(failures, fmt.Sprintf("%s: %v", target, err))
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		g.Go(func() error {
			switch target {
			case "blob":
				if err := e.exportSnapshot(gctx, doc); err != nil {
					record(target, err)
				}
			case "webhook":
				_, err := e.deps.Notifier.PostMessage(gctx, "data", notify.Message{
					Subject: "Extracted document data",
					Body:    fmt.Sprintf("Structured fields for document %s", doc.ID),
					Meta: map[string]any{
						"document_id": doc.ID.String(),
						"fields":      doc.StructuredFields,
					},
				})
				if err != nil {
					record(target, err)
				}
			default:
				record(target, fmt.Errorf("unknown target"))
			}
			return nil
		})
	}
	_ = g.Wait()

	return map[string]any{
		"targets":   targets,
		"delivered": len(targets) - len(failures),
		"failures":  failures,
	}
}

// exportSnapshot writes a JSON summary of the document's extraction results
// next to the original bytes.
func (e *Engine) exportSnapshot(ctx context.Context, doc *domain.Document) error {
	snapshot := map[string]any{
		"document_id":       doc.ID,
		"filename":          doc.Filename,
		"extraction_stats":  doc.ExtractionStats,
		"structured_fields": doc.StructuredFields,
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := fmt.Sprintf("exports/%s.json", doc.ID)
	return e.deps.Blobs.Upload(ctx, key, bytes.NewReader(payload), "application/json")
}

// handleRequireApproval creates the approval request and asks the run loop
// to pause. The step's result stays PENDING until the decision arrives.
func (e *Engine) handleRequireApproval(ctx context.Context, doc *domain.Document, wf *domain.WorkflowDefinition, step domain.Step) (map[string]any, *pauseRequest, error) {
	req := CreateApprovalRequest{
		DocumentID: doc.ID,
		WorkflowID: wf.ID,
		StepName:   step.Name,
		Expiry:     step.ApprovalExpiry(),
	}
	if cfg := step.Config.RequireApproval; cfg != nil {
		req.RequesterID = cfg.RequesterID
		req.Channel = cfg.Channel
	}

	approval, err := e.gate.CreateApproval(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("create approval: %w", err)
	}

	output := map[string]any{"approval_id": approval.ID}
	if approval.ExpiresAt != nil {
		output["expires_at"] = approval.ExpiresAt
	}
	return output, &pauseRequest{approvalID: approval.ID}, nil
}
