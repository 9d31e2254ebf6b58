// SPDX-License-Identifier: Apache-2.0

// Package worker drives workflow executions that were attached but not
// started synchronously, and sweeps overdue approval requests.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/repository"
)

// Queue lists executions waiting for a runner or for reconciliation.
type Queue interface {
	ListPendingExecutions(ctx context.Context, limit int) ([]repository.ExecutionRef, error)
	ListPausedExecutions(ctx context.Context, limit int) ([]repository.ExecutionRef, error)
}

// Runner starts or resumes one workflow execution.
type Runner interface {
	Execute(ctx context.Context, documentID uuid.UUID, workflowID uuid.UUID) error
}

// Sweeper finalizes overdue approvals and reconciles their executions.
type Sweeper interface {
	ExpireOverdue(ctx context.Context, limit int) ([]*domain.ApprovalRequest, error)
	ApplyExpiredOutcome(ctx context.Context, approval *domain.ApprovalRequest) error
	ReconcileStalled(ctx context.Context, documentID uuid.UUID) error
}

type Deps struct {
	Queue   Queue
	Runner  Runner
	Sweeper Sweeper
	Logger  *slog.Logger

	// Interval paces the pending-execution poll; SweepInterval paces the
	// approval expiry sweep.
	Interval      time.Duration
	SweepInterval time.Duration
	// Concurrency bounds parallel execution starts per poll.
	Concurrency int
	// BatchSize caps how many pending executions one poll picks up.
	BatchSize int
}

type Worker struct {
	queue       Queue
	runner      Runner
	sweeper     Sweeper
	logger      *slog.Logger
	interval    time.Duration
	sweepEvery  time.Duration
	concurrency int
	batchSize   int
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	sweepEvery := deps.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	return &Worker{
		queue:       deps.Queue,
		runner:      deps.Runner,
		sweeper:     deps.Sweeper,
		logger:      l,
		interval:    interval,
		sweepEvery:  sweepEvery,
		concurrency: concurrency,
		batchSize:   batchSize,
	}
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	pollTicker := time.NewTicker(w.interval)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(w.sweepEvery)
	defer sweepTicker.Stop()

	w.logger.Info("worker started",
		"poll_interval", w.interval,
		"sweep_interval", w.sweepEvery,
		"concurrency", w.concurrency,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return ctx.Err()
		case <-pollTicker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error("process pending executions failed", "error", err)
			}
		case <-sweepTicker.C:
			if err := w.SweepOnce(ctx); err != nil {
				w.logger.Error("approval expiry sweep failed", "error", err)
			}
		}
	}
}

// ProcessOnce picks up pending executions and runs them with bounded
// concurrency. Execution failures are terminal per document and are not
// returned: the executor has already recorded them.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	refs, err := w.queue.ListPendingExecutions(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	w.logger.Info("picked up pending executions", "count", len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			if err := w.runner.Execute(gctx, ref.DocumentID, ref.WorkflowID); err != nil {
				w.logger.Error("execution failed",
					"document_id", ref.DocumentID,
					"workflow_id", ref.WorkflowID,
					"error", err,
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// SweepOnce expires overdue approvals, reconciles each owning execution,
// then walks the remaining paused executions for approvals that reached a
// terminal status without their resume going through. The phases are
// separate so a reconciliation failure never blocks the expiry of other
// requests.
func (w *Worker) SweepOnce(ctx context.Context) error {
	expired, err := w.sweeper.ExpireOverdue(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		w.logger.Info("expired overdue approvals", "count", len(expired))
	}

	for _, approval := range expired {
		if err := w.sweeper.ApplyExpiredOutcome(ctx, approval); err != nil {
			w.logger.Error("reconcile expired approval failed",
				"approval_id", approval.ID,
				"document_id", approval.DocumentID,
				"error", err,
			)
		}
	}

	return w.reconcileStalled(ctx)
}

// reconcileStalled picks executions still PAUSED_FOR_APPROVAL and asks the
// sweeper to re-check each against its approval. A decided approval whose
// resume was lost to a crash or transient store failure gets driven to its
// outcome here; executions on still-pending approvals are untouched.
func (w *Worker) reconcileStalled(ctx context.Context) error {
	refs, err := w.queue.ListPausedExecutions(ctx, w.batchSize)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if err := w.sweeper.ReconcileStalled(ctx, ref.DocumentID); err != nil {
			w.logger.Error("reconcile stalled execution failed",
				"document_id", ref.DocumentID,
				"error", err,
			)
		}
	}
	return nil
}
