// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/repository"
)

type fakeQueue struct {
	refs      []repository.ExecutionRef
	paused    []repository.ExecutionRef
	err       error
	pausedErr error
}

func (f *fakeQueue) ListPendingExecutions(_ context.Context, limit int) ([]repository.ExecutionRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.refs) > limit {
		return f.refs[:limit], nil
	}
	return f.refs, nil
}

func (f *fakeQueue) ListPausedExecutions(_ context.Context, limit int) ([]repository.ExecutionRef, error) {
	if f.pausedErr != nil {
		return nil, f.pausedErr
	}
	if len(f.paused) > limit {
		return f.paused[:limit], nil
	}
	return f.paused, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []uuid.UUID
	errs  map[uuid.UUID]error
}

func (f *fakeRunner) Execute(_ context.Context, documentID uuid.UUID, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, documentID)
	return f.errs[documentID]
}

type fakeSweeper struct {
	expired       []*domain.ApprovalRequest
	expireErr     error
	reconciled    []uuid.UUID
	reconcileErrs map[uuid.UUID]error
	stalled       []uuid.UUID
	stalledErrs   map[uuid.UUID]error
}

func (f *fakeSweeper) ExpireOverdue(_ context.Context, _ int) ([]*domain.ApprovalRequest, error) {
	return f.expired, f.expireErr
}

func (f *fakeSweeper) ApplyExpiredOutcome(_ context.Context, approval *domain.ApprovalRequest) error {
	f.reconciled = append(f.reconciled, approval.ID)
	return f.reconcileErrs[approval.ID]
}

func (f *fakeSweeper) ReconcileStalled(_ context.Context, documentID uuid.UUID) error {
	f.stalled = append(f.stalled, documentID)
	return f.stalledErrs[documentID]
}

func testWorker(queue Queue, runner Runner, sweeper Sweeper) *Worker {
	return New(Deps{
		Queue:   queue,
		Runner:  runner,
		Sweeper: sweeper,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestProcessOnceRunsAllPending(t *testing.T) {
	refs := []repository.ExecutionRef{
		{DocumentID: uuid.New(), WorkflowID: uuid.New()},
		{DocumentID: uuid.New(), WorkflowID: uuid.New()},
		{DocumentID: uuid.New(), WorkflowID: uuid.New()},
	}
	runner := &fakeRunner{}
	w := testWorker(&fakeQueue{refs: refs}, runner, &fakeSweeper{})

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(runner.calls))
	}
}

func TestProcessOnceExecutionFailureDoesNotStopBatch(t *testing.T) {
	bad := uuid.New()
	refs := []repository.ExecutionRef{
		{DocumentID: bad, WorkflowID: uuid.New()},
		{DocumentID: uuid.New(), WorkflowID: uuid.New()},
	}
	runner := &fakeRunner{errs: map[uuid.UUID]error{bad: errors.New("boom")}}
	w := testWorker(&fakeQueue{refs: refs}, runner, &fakeSweeper{})

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected both executions attempted, got %d", len(runner.calls))
	}
}

func TestProcessOnceEmptyQueue(t *testing.T) {
	runner := &fakeRunner{}
	w := testWorker(&fakeQueue{}, runner, &fakeSweeper{})

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no executions, got %d", len(runner.calls))
	}
}

func TestProcessOnceListErrorPropagates(t *testing.T) {
	listErr := errors.New("db down")
	w := testWorker(&fakeQueue{err: listErr}, &fakeRunner{}, &fakeSweeper{})

	if err := w.ProcessOnce(context.Background()); !errors.Is(err, listErr) {
		t.Fatalf("expected list error, got %v", err)
	}
}

func TestSweepOnceReconcilesEveryExpiry(t *testing.T) {
	a1 := &domain.ApprovalRequest{ID: uuid.New(), DocumentID: uuid.New(), Status: domain.ApprovalExpired}
	a2 := &domain.ApprovalRequest{ID: uuid.New(), DocumentID: uuid.New(), Status: domain.ApprovalExpired}
	sweeper := &fakeSweeper{
		expired:       []*domain.ApprovalRequest{a1, a2},
		reconcileErrs: map[uuid.UUID]error{a1.ID: errors.New("boom")},
	}
	w := testWorker(&fakeQueue{}, &fakeRunner{}, sweeper)

	if err := w.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	// a1's reconciliation failure must not block a2
	if len(sweeper.reconciled) != 2 {
		t.Fatalf("expected 2 reconciliations, got %d", len(sweeper.reconciled))
	}
}

func TestSweepOnceExpireErrorPropagates(t *testing.T) {
	expireErr := errors.New("db down")
	w := testWorker(&fakeQueue{}, &fakeRunner{}, &fakeSweeper{expireErr: expireErr})

	if err := w.SweepOnce(context.Background()); !errors.Is(err, expireErr) {
		t.Fatalf("expected expire error, got %v", err)
	}
}

func TestSweepOnceChecksPausedExecutions(t *testing.T) {
	d1, d2 := uuid.New(), uuid.New()
	queue := &fakeQueue{paused: []repository.ExecutionRef{
		{DocumentID: d1, WorkflowID: uuid.New()},
		{DocumentID: d2, WorkflowID: uuid.New()},
	}}
	sweeper := &fakeSweeper{
		stalledErrs: map[uuid.UUID]error{d1: errors.New("boom")},
	}
	w := testWorker(queue, &fakeRunner{}, sweeper)

	// no expiries in the batch: paused executions are still re-checked,
	// and one failure does not block the rest
	if err := w.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if len(sweeper.stalled) != 2 || sweeper.stalled[0] != d1 || sweeper.stalled[1] != d2 {
		t.Fatalf("expected both paused executions re-checked, got %v", sweeper.stalled)
	}
}

func TestSweepOnceListPausedErrorPropagates(t *testing.T) {
	listErr := errors.New("db down")
	w := testWorker(&fakeQueue{pausedErr: listErr}, &fakeRunner{}, &fakeSweeper{})

	if err := w.SweepOnce(context.Background()); !errors.Is(err, listErr) {
		t.Fatalf("expected list error, got %v", err)
	}
}
