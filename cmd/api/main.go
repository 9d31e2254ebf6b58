// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finchley/docflow/internal/config"
	"github.com/finchley/docflow/internal/executor"
	"github.com/finchley/docflow/internal/fieldextract"
	"github.com/finchley/docflow/internal/inference"
	"github.com/finchley/docflow/internal/logging"
	"github.com/finchley/docflow/internal/persistence/postgres"
	"github.com/finchley/docflow/internal/repository"
	"github.com/finchley/docflow/internal/selector"
	"github.com/finchley/docflow/internal/textextract"
	httptransport "github.com/finchley/docflow/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
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

	handler := httptransport.NewRouter(httptransport.Deps{
		Documents:  docRepo,
		Workflows:  wfRepo,
		Approvals:  approvalRepo,
		Events:     eventRepo,
		Blobs:      blobs,
		Runner:     engine,
		Gate:       gate,
		Selector:   selector.New(selector.Config{}, wfRepo, logger),
		Health:     postgres.NewSchemaHealthChecker(pool),
		Logger:     logger,
		AdminToken: cfg.AdminToken,
		Version:    Version,
		Commit:     Commit,
		BuildDate:  BuildDate,

		UploadLimitPerMinute: cfg.UploadRateLimit,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
