// SPDX-License-Identifier: Apache-2.0

// Package fieldextract turns extracted document text into a structured field
// map. Category-specific extractors layer AI entity tagging and zero-shot
// role classification over a regex baseline that is always available, so a
// total inference outage reduces coverage and confidence but never fails.
package fieldextract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/inference"
	"github.com/finchley/docflow/internal/metrics"
)

const (
	aiMethod      = domain.MethodAI
	patternMethod = domain.MethodPattern
)

// Result is the structured output for one document.
type Result struct {
	Category    string
	Fields      map[string]domain.FieldValue
	FieldsFound int
	TotalFields int
	UsedAI      bool
}

// Coverage is the coarse fields-found ratio surfaced to reviewers.
func (r Result) Coverage() float64 {
	if r.TotalFields == 0 {
		return 0
	}
	return float64(r.FieldsFound) / float64(r.TotalFields)
}

type Config struct {
	// Threshold is the minimum confidence at which an AI-derived value is
	// preferred over the pattern baseline.
	Threshold float64
	// ContextWindow is the number of bytes of surrounding text used when
	// classifying an entity's semantic role.
	ContextWindow int
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.65
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 60
	}
}

type Engine struct {
	cfg    Config
	ai     inference.Client
	logger *slog.Logger
}

// NewEngine builds the extraction engine. ai may be nil; extraction then
// runs on the pattern baseline alone.
func NewEngine(cfg Config, ai inference.Client, logger *slog.Logger) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, ai: ai, logger: logger}
}

// Extract resolves every field of the category's table against the text. It
// never returns an error: inference failures degrade to the regex layer.
func (e *Engine) Extract(ctx context.Context, text, category string) Result {
	specs := fieldsForCategory(category)
	res := Result{
		Category:    category,
		Fields:      make(map[string]domain.FieldValue, len(specs)),
		TotalFields: len(specs),
	}

	entities := e.tagEntities(ctx, text)
	res.UsedAI = entities != nil

	for _, spec := range specs {
		strategies := e.strategiesFor(ctx, spec, text, entities)
		c, ok := pick(e.cfg.Threshold, strategies...)
		if !ok {
			continue
		}
		res.Fields[spec.name] = domain.FieldValue{
			Value:      c.value,
			Confidence: clamp01(c.confidence),
			Method:     c.method,
		}
		res.FieldsFound++
	}

	e.logger.Info("field extraction finished",
		"category", category,
		"fields_found", res.FieldsFound,
		"total_fields", res.TotalFields,
		"used_ai", res.UsedAI,
	)
	return res
}

// tagEntities fetches and validates the entity layer once per document.
// A nil return means the AI subsystem is unusable for this extraction.
func (e *Engine) tagEntities(ctx context.Context, text string) []inference.Entity {
	if e.ai == nil {
		return nil
	}
	ents, err := e.ai.TagEntities(ctx, text)
	if err != nil {
		metrics.IncInferenceFallback()
		e.logger.Warn("entity tagging unavailable, falling back to patterns", "error", err)
		return nil
	}
	if err := validateEntities(ents); err != nil {
		metrics.IncInferenceFallback()
		e.logger.Warn("entity payload failed schema validation", "error", err)
		return nil
	}
	return ents
}

func (e *Engine) strategiesFor(ctx context.Context, spec fieldSpec, text string, entities []inference.Entity) []strategy {
	var strategies []strategy

	switch spec.kind {
	case kindMoney:
		strategies = append(strategies, func() (candidate, bool) {
			return e.aiMoney(ctx, spec.role, text, entities)
		})
		if spec.pattern != nil {
			strategies = append(strategies, func() (candidate, bool) { return spec.pattern(text) })
		}
		if spec.role == "total" {
			// last resort: the largest amount anywhere in the document
			strategies = append(strategies, func() (candidate, bool) {
				f, ok := maxAmount(text)
				if !ok {
					return candidate{}, false
				}
				return candidate{value: f, confidence: patternLooseConfidence, method: patternMethod}, true
			})
		}
	case kindDate:
		strategies = append(strategies, func() (candidate, bool) {
			return e.aiDate(ctx, spec.role, text, entities)
		})
		if spec.pattern != nil {
			strategies = append(strategies, func() (candidate, bool) { return spec.pattern(text) })
		}
		strategies = append(strategies, func() (candidate, bool) {
			d, ok := firstDate(text)
			if !ok {
				return candidate{}, false
			}
			return candidate{value: d, confidence: patternFirstConfidence, method: patternMethod}, true
		})
	case kindOrganization, kindPerson:
		want := "organization"
		if spec.kind == kindPerson {
			want = "person"
		}
		strategies = append(strategies, func() (candidate, bool) {
			return bestEntity(entities, want)
		})
		if spec.pattern != nil {
			strategies = append(strategies, func() (candidate, bool) { return spec.pattern(text) })
		}
	default:
		if spec.pattern != nil {
			strategies = append(strategies, func() (candidate, bool) { return spec.pattern(text) })
		}
	}
	return strategies
}

// aiMoney classifies each money entity by surrounding context and returns
// the best entity whose role matches.
func (e *Engine) aiMoney(ctx context.Context, role, text string, entities []inference.Entity) (candidate, bool) {
	if e.ai == nil || entities == nil {
		return candidate{}, false
	}

	var best candidate
	found := false
	for _, ent := range entities {
		if ent.Type != "money" {
			continue
		}
		amount, ok := parseAmount(ent.Text)
		if !ok {
			continue
		}
		window := contextWindow(text, ent, e.cfg.ContextWindow)
		cls, err := e.ai.Classify(ctx, window, moneyRoles)
		if err != nil {
			metrics.IncInferenceFallback()
			e.logger.Warn("money role classification failed", "error", err)
			return candidate{}, false
		}
		label, score, ok := cls.Top()
		if !ok || label != role {
			continue
		}
		if !found || score > best.confidence {
			best = candidate{value: amount, confidence: score, method: aiMethod}
			found = true
		}
	}
	return best, found
}

// aiDate classifies date entities against the needed role. When no entity
// clears anything useful, the first tagged date is returned at low
// confidence so the pattern layer can still win.
func (e *Engine) aiDate(ctx context.Context, role, text string, entities []inference.Entity) (candidate, bool) {
	if e.ai == nil || entities == nil {
		return candidate{}, false
	}

	var first string
	var best candidate
	found := false
	for _, ent := range entities {
		if ent.Type != "date" {
			continue
		}
		if first == "" {
			first = ent.Text
		}
		window := contextWindow(text, ent, e.cfg.ContextWindow)
		cls, err := e.ai.Classify(ctx, window, dateRoles)
		if err != nil {
			metrics.IncInferenceFallback()
			e.logger.Warn("date role classification failed", "error", err)
			return candidate{}, false
		}
		label, score, ok := cls.Top()
		if !ok || label != role {
			continue
		}
		if !found || score > best.confidence {
			best = candidate{value: normalizeDate(ent.Text), confidence: score, method: aiMethod}
			found = true
		}
	}
	if found {
		return best, true
	}
	if first != "" {
		return candidate{value: normalizeDate(first), confidence: 0.45, method: aiMethod}, true
	}
	return candidate{}, false
}

func bestEntity(entities []inference.Entity, entityType string) (candidate, bool) {
	var best candidate
	found := false
	for _, ent := range entities {
		if ent.Type != entityType || strings.TrimSpace(ent.Text) == "" {
			continue
		}
		if !found || ent.Score > best.confidence {
			best = candidate{value: strings.TrimSpace(ent.Text), confidence: ent.Score, method: aiMethod}
			found = true
		}
	}
	return best, found
}

// contextWindow returns the text surrounding an entity, preferring the
// tagged offsets and falling back to a substring search.
func contextWindow(text string, ent inference.Entity, radius int) string {
	start, end := ent.Start, ent.End
	if start < 0 || end <= start || end > len(text) {
		idx := strings.Index(text, ent.Text)
		if idx < 0 {
			return ent.Text
		}
		start, end = idx, idx+len(ent.Text)
	}
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
