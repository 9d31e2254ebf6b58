// SPDX-License-Identifier: Apache-2.0

// Package selector decides which workflow definition applies to a document.
// Selection is advisory and read-only: it never mutates the document or
// starts an execution.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/finchley/docflow/internal/domain"
)

// Mode controls how a workflow is chosen.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
	ModeHybrid Mode = "hybrid"
)

// autoOverrideThreshold is the auto-classifier confidence above which a
// hybrid selection lets auto override the manual choice.
const autoOverrideThreshold = 0.8

// DefinitionStore is the read-only slice of the workflow repository the
// selector needs.
type DefinitionStore interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error)
	FindWorkflowByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error)
	FindActiveWorkflowByCategory(ctx context.Context, category string) (*domain.WorkflowDefinition, error)
}

// Options are the caller-provided selection inputs.
type Options struct {
	ExplicitID       *uuid.UUID
	ExplicitCategory string
	Mode             Mode
}

// Alternative records a choice that was computed but not selected.
type Alternative struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Method     string    `json:"method"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
}

// Selection is the selector verdict.
type Selection struct {
	WorkflowID   uuid.UUID     `json:"workflow_id"`
	Method       string        `json:"method"`
	Confidence   float64       `json:"confidence"`
	Reason       string        `json:"reason"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

type Config struct {
	// CategoryRoutes maps a document category to a workflow name.
	CategoryRoutes map[string]string
	// DefaultWorkflowName is the canonical fallback used when nothing else
	// resolves. Manual selection never returns an empty workflow.
	DefaultWorkflowName string
}

func (c *Config) defaults() {
	if c.DefaultWorkflowName == "" {
		c.DefaultWorkflowName = "default-intake"
	}
}

type Selector struct {
	cfg    Config
	store  DefinitionStore
	logger *slog.Logger
}

func New(cfg Config, store DefinitionStore, logger *slog.Logger) *Selector {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{cfg: cfg, store: store, logger: logger}
}

// Select resolves a workflow for the document according to the mode.
func (s *Selector) Select(ctx context.Context, doc *domain.Document, opts Options) (Selection, error) {
	var sel Selection
	var err error

	switch opts.Mode {
	case ModeAuto:
		sel, err = s.selectAuto(ctx, doc)
	case ModeHybrid:
		sel, err = s.selectHybrid(ctx, doc, opts)
	default:
		sel, err = s.selectManual(ctx, opts)
	}
	if err != nil {
		return Selection{}, err
	}

	s.logger.Info("workflow selected",
		"document_id", doc.ID,
		"workflow_id", sel.WorkflowID,
		"method", sel.Method,
		"confidence", sel.Confidence,
		"reason", sel.Reason,
	)
	return sel, nil
}

// selectManual resolves explicit id, then explicit category, then the
// canonical default. It never yields an empty workflow while the default
// definition exists.
func (s *Selector) selectManual(ctx context.Context, opts Options) (Selection, error) {
	if opts.ExplicitID != nil {
		wf, err := s.store.GetWorkflow(ctx, *opts.ExplicitID)
		switch {
		case err == nil && wf.Status == domain.WorkflowActive:
			return Selection{
				WorkflowID: wf.ID,
				Method:     string(ModeManual),
				Confidence: 1.0,
				Reason:     "explicitly requested workflow",
			}, nil
		case err == nil:
			return Selection{}, fmt.Errorf("workflow %s: %w", wf.ID, domain.ErrWorkflowInactive)
		case !errors.Is(err, domain.ErrWorkflowNotFound):
			return Selection{}, err
		}
		// unknown id falls through to category and default resolution
	}

	if cat := strings.TrimSpace(opts.ExplicitCategory); cat != "" {
		if wf, ok, err := s.resolveCategory(ctx, cat); err != nil {
			return Selection{}, err
		} else if ok {
			return Selection{
				WorkflowID: wf.ID,
				Method:     string(ModeManual),
				Confidence: 0.9,
				Reason:     fmt.Sprintf("category %q routed to workflow %q", cat, wf.Name),
			}, nil
		}
	}

	wf, err := s.store.FindWorkflowByName(ctx, s.cfg.DefaultWorkflowName)
	if err != nil {
		return Selection{}, fmt.Errorf("resolve default workflow %q: %w", s.cfg.DefaultWorkflowName, err)
	}
	return Selection{
		WorkflowID: wf.ID,
		Method:     string(ModeManual),
		Confidence: 0.3,
		Reason:     "no explicit match, canonical default workflow",
	}, nil
}

func (s *Selector) selectAuto(ctx context.Context, doc *domain.Document) (Selection, error) {
	category, confidence := classify(doc)

	if wf, ok, err := s.resolveCategory(ctx, category); err != nil {
		return Selection{}, err
	} else if ok {
		return Selection{
			WorkflowID: wf.ID,
			Method:     string(ModeAuto),
			Confidence: confidence,
			Reason:     fmt.Sprintf("classified as %q from filename/mime/size signals", category),
		}, nil
	}

	wf, err := s.store.FindWorkflowByName(ctx, s.cfg.DefaultWorkflowName)
	if err != nil {
		return Selection{}, fmt.Errorf("resolve default workflow %q: %w", s.cfg.DefaultWorkflowName, err)
	}
	return Selection{
		WorkflowID: wf.ID,
		Method:     string(ModeAuto),
		Confidence: 0.3,
		Reason:     fmt.Sprintf("classified as %q but no workflow handles it, canonical default", category),
	}, nil
}

// selectHybrid computes both verdicts. When they disagree, auto wins only
// with confidence above the override threshold; the loser is always kept
// as an alternative.
func (s *Selector) selectHybrid(ctx context.Context, doc *domain.Document, opts Options) (Selection, error) {
	manual, err := s.selectManual(ctx, opts)
	if err != nil {
		return Selection{}, err
	}
	auto, err := s.selectAuto(ctx, doc)
	if err != nil {
		return Selection{}, err
	}

	if manual.WorkflowID == auto.WorkflowID {
		manual.Method = string(ModeHybrid)
		if auto.Confidence > manual.Confidence {
			manual.Confidence = auto.Confidence
		}
		manual.Reason = "manual and auto selection agree"
		return manual, nil
	}

	if auto.Confidence > autoOverrideThreshold {
		auto.Method = string(ModeHybrid)
		auto.Reason = "auto override: " + auto.Reason
		auto.Alternatives = append(auto.Alternatives, Alternative{
			WorkflowID: manual.WorkflowID,
			Method:     string(ModeManual),
			Confidence: manual.Confidence,
			Reason:     manual.Reason,
		})
		return auto, nil
	}

	manual.Method = string(ModeHybrid)
	manual.Alternatives = append(manual.Alternatives, Alternative{
		WorkflowID: auto.WorkflowID,
		Method:     string(ModeAuto),
		Confidence: auto.Confidence,
		Reason:     auto.Reason,
	})
	return manual, nil
}

// resolveCategory tries trigger-rule matching first, then the configured
// category route.
func (s *Selector) resolveCategory(ctx context.Context, category string) (*domain.WorkflowDefinition, bool, error) {
	wf, err := s.store.FindActiveWorkflowByCategory(ctx, category)
	if err == nil {
		return wf, true, nil
	}
	if !errors.Is(err, domain.ErrWorkflowNotFound) {
		return nil, false, err
	}

	name, ok := s.cfg.CategoryRoutes[category]
	if !ok {
		return nil, false, nil
	}
	wf, err = s.store.FindWorkflowByName(ctx, name)
	if errors.Is(err, domain.ErrWorkflowNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if wf.Status != domain.WorkflowActive {
		return nil, false, nil
	}
	return wf, true, nil
}
