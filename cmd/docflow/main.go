// SPDX-License-Identifier: Apache-2.0

// Operator CLI for poking at a running deployment: inspect a document's
// state, list workflow definitions, or run the extraction pipeline against
// a local file without going through the API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchley/docflow/internal/config"
	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/fieldextract"
	"github.com/finchley/docflow/internal/persistence/postgres"
	"github.com/finchley/docflow/internal/repository"
	"github.com/finchley/docflow/internal/selector"
	"github.com/finchley/docflow/internal/textextract"
)

func main() {
	logger := newLogger()

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "inspect":
		err = runInspect(ctx, logger, os.Args[2:])
	case "workflows":
		err = runWorkflows(ctx, logger)
	case "extract":
		err = runExtract(ctx, logger, os.Args[2:])
	case "select":
		err = runSelect(ctx, logger, os.Args[2:])
	default:
		printUsage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// runInspect prints a document's record, execution state and approval
// history as one JSON object.
func runInspect(ctx context.Context, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: inspect <document-id>")
	}
	docID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", args[0], err)
	}

	pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	docs := repository.NewDocumentRepository(pool, logger)
	approvals := repository.NewApprovalRepository(pool, logger)

	doc, err := docs.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	history, err := approvals.ListApprovalsForDocument(ctx, docID)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"document":  doc,
		"approvals": history,
	})
}

func runWorkflows(ctx context.Context, logger *slog.Logger) error {
	pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	defs, err := repository.NewWorkflowRepository(pool, logger).ListWorkflows(ctx)
	if err != nil {
		return err
	}
	return printJSON(defs)
}

// runExtract runs the text and field pipelines on a local file. No OCR and
// no inference backend are wired in, so the output shows what the pattern
// baseline alone recovers.
func runExtract(ctx context.Context, logger *slog.Logger, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: extract <path> [category]")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	category := "general"
	if len(args) == 2 {
		category = args[1]
	}

	mimeType := mime.TypeByExtension(filepath.Ext(args[0]))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	text := textextract.NewPipeline(textextract.Config{}, nil, logger).
		Extract(ctx, data, mimeType)
	fields := fieldextract.NewEngine(fieldextract.Config{}, nil, logger).
		Extract(ctx, text.Text, category)

	return printJSON(map[string]any{
		"source":     text.Source,
		"confidence": text.Confidence,
		"stats":      text.Stats,
		"category":   fields.Category,
		"fields":     fields.Fields,
		"coverage":   fields.Coverage(),
	})
}

// runSelect shows which workflow the selector would route a file to,
// without uploading it. The file itself is not read: routing uses name,
// mime type and size only.
func runSelect(ctx context.Context, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: select <path>")
	}

	info, err := os.Stat(args[0])
	if err != nil {
		return err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(args[0]))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	wfs := repository.NewWorkflowRepository(pool, logger)
	doc := &domain.Document{
		ID:        uuid.New(),
		Filename:  filepath.Base(args[0]),
		MimeType:  mimeType,
		SizeBytes: info.Size(),
	}

	sel, err := selector.New(selector.Config{}, wfs, logger).
		Select(ctx, doc, selector.Options{Mode: selector.ModeAuto})
	if err != nil {
		return err
	}
	return printJSON(sel)
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg := config.Load()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	return pool, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printUsage(w *os.File) {
	_, _ = fmt.Fprintln(w, "usage: docflow <inspect <document-id> | workflows | extract <path> [category] | select <path>>")
}
