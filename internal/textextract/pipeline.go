// SPDX-License-Identifier: Apache-2.0

// Package textextract recovers text from uploaded document bytes. The
// pipeline cascades primary parse, alternate parser configurations, OCR and
// raw-byte salvage, and always returns a labeled, confidence-scored result:
// malformed input degrades the result, it never raises an error.
package textextract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/finchley/docflow/internal/metrics"
)

// Provenance tags for extraction results.
const (
	SourcePrimary       = "primary-parse"
	SourceAlternate     = "alternate-parse"
	SourceOCR           = "ocr"
	SourceSalvage       = "salvage"
	SourceSalvageFailed = "salvage-failed"
)

// failedText is the human-readable soft-failure payload returned when every
// strategy has been exhausted. Callers treat it as data, not as an error.
const failedText = "[unreadable document: text extraction exhausted all parse, OCR and salvage strategies]"

const ocrUnavailableText = "[image document: OCR service unavailable, no text transcribed]"

// OCRClient is the image-to-text slice of the inference service. Calls are
// assumed slow and fallible.
type OCRClient interface {
	ImageToText(ctx context.Context, data []byte) (string, error)
}

// Stats describes how a result was obtained.
type Stats struct {
	CorruptionScore int           `json:"corruption_score"`
	Pages           int           `json:"pages,omitempty"`
	PrintableRatio  float64       `json:"printable_ratio"`
	TextLength      int           `json:"text_length"`
	Attempts        []string      `json:"attempts"`
	Duration        time.Duration `json:"-"`
}

// Result is the pipeline output. Text is never empty: exhausting every
// strategy yields an explicit failure string with confidence 0.
type Result struct {
	Text       string
	Source     string
	Confidence float64
	Stats      Stats
}

type Config struct {
	MaxPages   int
	OCRTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MaxPages <= 0 {
		c.MaxPages = 200
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = 30 * time.Second
	}
}

type Pipeline struct {
	cfg    Config
	ocr    OCRClient
	logger *slog.Logger
}

// NewPipeline builds the extraction pipeline. ocr may be nil; image-only
// documents then resolve to a labeled placeholder instead of failing.
func NewPipeline(cfg Config, ocr OCRClient, logger *slog.Logger) *Pipeline {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, ocr: ocr, logger: logger}
}

// Extract runs the fallback chain for the given bytes. It is total: any
// input, including empty or garbage buffers, produces a labeled result.
func (p *Pipeline) Extract(ctx context.Context, data []byte, mimeType string) Result {
	started := time.Now()
	score := CorruptionScore(data, mimeType)
	metrics.ObserveCorruptionScore(score)

	stats := Stats{CorruptionScore: score}
	res := p.extract(ctx, data, mimeType, score, &stats)

	stats.PrintableRatio = printableRuneRatio(res.Text)
	stats.TextLength = len(res.Text)
	stats.Duration = time.Since(started)
	res.Stats = stats

	metrics.IncExtractionSource(res.Source)
	p.logger.Info("text extraction finished",
		"mime_type", mimeType,
		"corruption_score", score,
		"source", res.Source,
		"confidence", res.Confidence,
		"text_length", stats.TextLength,
		"attempts", stats.Attempts,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return res
}

func (p *Pipeline) extract(ctx context.Context, data []byte, mimeType string, score int, stats *Stats) Result {
	isImage := strings.HasPrefix(mimeType, "image/")
	isText := strings.HasPrefix(mimeType, "text/")
	isPDF := mimeType == "application/pdf" || bytes.HasPrefix(data, pdfHeader)

	// Image content: structured parse cannot apply, OCR is justified.
	if isImage {
		if r, ok := p.tryOCR(ctx, data, stats); ok {
			return r
		}
		if p.ocr == nil {
			stats.Attempts = append(stats.Attempts, "ocr-unavailable")
			return Result{Text: ocrUnavailableText, Source: SourceOCR, Confidence: 0.1}
		}
		return p.trySalvage(data, stats)
	}

	// Heavily damaged buffers skip structured parsing entirely.
	if score >= 7 {
		if r, ok := p.tryOCR(ctx, data, stats); ok {
			return r
		}
		return p.trySalvage(data, stats)
	}

	if isText || (!isPDF && utf8.Valid(data)) {
		if r, ok := p.tryPlainText(data, score, stats); ok {
			return r
		}
		return p.trySalvage(data, stats)
	}

	if r, ok := p.tryPDF(data, score, stats); ok {
		return r
	}

	// Structured parse failed outright; OCR is structurally justified.
	if r, ok := p.tryOCR(ctx, data, stats); ok {
		return r
	}
	return p.trySalvage(data, stats)
}

func (p *Pipeline) tryPlainText(data []byte, score int, stats *Stats) (Result, bool) {
	source := SourcePrimary
	text := string(data)
	if score >= 4 || !utf8.Valid(data) {
		// relaxed: drop invalid sequences instead of rejecting the buffer
		text = strings.ToValidUTF8(text, "")
		source = SourceAlternate
	}
	stats.Attempts = append(stats.Attempts, "text:"+source)

	cleaned := Clean(text)
	if v := validateText(cleaned); !v.ok {
		p.logger.Debug("plain text rejected", "reason", v.reason)
		return Result{}, false
	}
	base := 0.75
	if source == SourceAlternate {
		base = 0.55
	}
	return Result{Text: cleaned, Source: source, Confidence: confidence(base, cleaned)}, true
}

func (p *Pipeline) tryPDF(data []byte, score int, stats *Stats) (Result, bool) {
	var configs []parserConfig
	var sources []string
	if score < 4 {
		configs = append(configs, strictParserConfig(p.cfg.MaxPages))
		sources = append(sources, SourcePrimary)
	}
	for _, alt := range alternateParserConfigs(p.cfg.MaxPages) {
		configs = append(configs, alt)
		sources = append(sources, SourceAlternate)
	}

	for i, cfg := range configs {
		stats.Attempts = append(stats.Attempts, "pdf:"+cfg.label)
		text, pages, err := parsePDF(data, cfg)
		if err != nil {
			p.logger.Debug("pdf parse failed", "config", cfg.label, "error", err)
			continue
		}
		stats.Pages = pages

		cleaned := Clean(text)
		if v := validateText(cleaned); !v.ok {
			p.logger.Debug("pdf text rejected", "config", cfg.label, "reason", v.reason)
			continue
		}

		base := 0.55
		if sources[i] == SourcePrimary {
			base = 0.75
		}
		return Result{Text: cleaned, Source: sources[i], Confidence: confidence(base, cleaned)}, true
	}
	return Result{}, false
}

func (p *Pipeline) tryOCR(ctx context.Context, data []byte, stats *Stats) (Result, bool) {
	if p.ocr == nil {
		return Result{}, false
	}
	stats.Attempts = append(stats.Attempts, "ocr")

	ocrCtx, cancel := context.WithTimeout(ctx, p.cfg.OCRTimeout)
	defer cancel()

	text, err := p.ocr.ImageToText(ocrCtx, data)
	if err != nil {
		p.logger.Warn("ocr failed", "error", err)
		return Result{}, false
	}

	cleaned := Clean(text)
	if v := validateText(cleaned); !v.ok {
		p.logger.Debug("ocr text rejected", "reason", v.reason)
		return Result{}, false
	}
	return Result{Text: cleaned, Source: SourceOCR, Confidence: confidence(0.45, cleaned)}, true
}

func (p *Pipeline) trySalvage(data []byte, stats *Stats) Result {
	for _, s := range salvageStrategies {
		stats.Attempts = append(stats.Attempts, "salvage:"+s.name)
		cleaned := Clean(s.recover(data))
		if v := validateText(cleaned); !v.ok {
			p.logger.Debug("salvage rejected", "strategy", s.name, "reason", v.reason)
			continue
		}
		return Result{Text: cleaned, Source: SourceSalvage, Confidence: confidence(0.25, cleaned)}
	}

	return Result{
		Text:       fmt.Sprintf("%s (corruption score %d)", failedText, stats.CorruptionScore),
		Source:     SourceSalvageFailed,
		Confidence: 0,
	}
}

// confidence adjusts a per-source base by printable ratio (positive), a
// capped length bonus, and penalties for repeated or binary-looking
// patterns, clamped to [0, 1].
func confidence(base float64, text string) float64 {
	c := base
	c += 0.2 * printableRuneRatio(text)

	lengthBonus := float64(len(text)) / 2000
	if lengthBonus > 1 {
		lengthBonus = 1
	}
	c += 0.1 * lengthBonus

	if topCharRatio(text) > 0.25 {
		c -= 0.2
	}
	if strings.ContainsRune(text, 0xfffd) {
		c -= 0.3
	}

	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
