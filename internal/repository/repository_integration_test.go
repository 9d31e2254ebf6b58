//go:build integration

// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchley/docflow/internal/domain"
)

func TestDocumentRepositoryIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docRepo := NewDocumentRepository(pool, logger)

	doc := &domain.Document{
		StorageKey: "docs/invoice.pdf",
		Filename:   "invoice.pdf",
		MimeType:   "application/pdf",
		SizeBytes:  2048,
		Status:     domain.DocumentUploaded,
	}
	if err := docRepo.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}

	got, err := docRepo.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Filename != "invoice.pdf" || got.Status != domain.DocumentUploaded {
		t.Fatalf("unexpected document: %+v", got)
	}
	if got.Execution != nil {
		t.Fatalf("expected no execution on a fresh document")
	}

	if err := docRepo.SaveExtraction(ctx, doc.ID, "INVOICE #42", domain.ExtractionStats{
		Source:     "primary-parse",
		Confidence: 0.95,
		TextLength: 11,
	}); err != nil {
		t.Fatalf("save extraction: %v", err)
	}

	if err := docRepo.SaveStructuredFields(ctx, doc.ID, map[string]domain.FieldValue{
		"invoice_number": {Value: "42", Confidence: 0.9, Method: domain.MethodPattern},
		"total_amount":   {Value: 250.00, Confidence: 0.8, Method: domain.MethodAI},
	}); err != nil {
		t.Fatalf("save structured fields: %v", err)
	}

	got, err = docRepo.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document after writes: %v", err)
	}
	if got.ExtractedText != "INVOICE #42" {
		t.Fatalf("expected extracted text to persist, got %q", got.ExtractedText)
	}
	if got.ExtractionStats == nil || got.ExtractionStats.Source != "primary-parse" {
		t.Fatalf("expected extraction stats to round trip, got %+v", got.ExtractionStats)
	}
	if got.StructuredFields["invoice_number"].Value != "42" {
		t.Fatalf("expected structured fields to round trip, got %+v", got.StructuredFields)
	}
	// numbers come back as float64 through jsonb
	if got.StructuredFields["total_amount"].Value != 250.00 {
		t.Fatalf("expected numeric field to round trip, got %+v", got.StructuredFields["total_amount"])
	}

	if _, err := docRepo.GetDocument(ctx, uuid.New()); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestAttachAndClaimExecutionIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docRepo := NewDocumentRepository(pool, logger)

	doc := &domain.Document{
		StorageKey: "docs/a.txt",
		Filename:   "a.txt",
		MimeType:   "text/plain",
		SizeBytes:  10,
		Status:     domain.DocumentUploaded,
	}
	if err := docRepo.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}

	workflowID := uuid.New()
	ok, err := docRepo.AttachExecution(ctx, doc.ID, workflowID)
	if err != nil {
		t.Fatalf("attach execution: %v", err)
	}
	if !ok {
		t.Fatal("expected first attach to win")
	}

	// second attach must lose without overwriting
	ok, err = docRepo.AttachExecution(ctx, doc.ID, uuid.New())
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if ok {
		t.Fatal("expected second attach to be rejected")
	}

	refs, err := docRepo.ListPendingExecutions(ctx, 10)
	if err != nil {
		t.Fatalf("list pending executions: %v", err)
	}
	if len(refs) != 1 || refs[0].WorkflowID != workflowID {
		t.Fatalf("expected one pending execution for the first workflow, got %+v", refs)
	}

	startedAt := time.Now().UTC().Truncate(time.Second)
	ok, err = docRepo.MarkExecutionRunning(ctx, doc.ID, startedAt)
	if err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if !ok {
		t.Fatal("expected PENDING->RUNNING claim to succeed")
	}

	// the claim is one-shot
	ok, err = docRepo.MarkExecutionRunning(ctx, doc.ID, startedAt)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("expected second claim to lose")
	}

	got, err := docRepo.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Execution == nil || got.Execution.Status != domain.ExecutionRunning {
		t.Fatalf("expected RUNNING execution, got %+v", got.Execution)
	}
	if got.Execution.WorkflowID != workflowID {
		t.Fatalf("expected workflow %s, got %s", workflowID, got.Execution.WorkflowID)
	}
	if got.Execution.StartedAt == nil {
		t.Fatal("expected started_at to be stamped")
	}
}

func TestWorkflowRepositoryIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wfRepo := NewWorkflowRepository(pool, logger)

	wf := &domain.WorkflowDefinition{
		Name:    "invoice-intake-" + uuid.NewString()[:8],
		Status:  domain.WorkflowActive,
		Trigger: domain.TriggerRule{Category: "invoice"},
		Steps: []domain.Step{
			{Name: "extract", Type: domain.StepExtractText, Position: 1, Enabled: true},
			{Name: "analyze", Type: domain.StepAnalyzeContent, Position: 2, Enabled: true},
		},
	}
	if err := wfRepo.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	got, err := wfRepo.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got.Name != wf.Name || len(got.Steps) != 2 {
		t.Fatalf("unexpected workflow: %+v", got)
	}
	if got.Trigger.Category != "invoice" {
		t.Fatalf("expected trigger category invoice, got %q", got.Trigger.Category)
	}

	byName, err := wfRepo.FindWorkflowByName(ctx, wf.Name)
	if err != nil {
		t.Fatalf("find by name: %v", err)
	}
	if byName.ID != wf.ID {
		t.Fatalf("expected %s, got %s", wf.ID, byName.ID)
	}

	byCategory, err := wfRepo.FindActiveWorkflowByCategory(ctx, "invoice")
	if err != nil {
		t.Fatalf("find by category: %v", err)
	}
	if byCategory.ID != wf.ID {
		t.Fatalf("expected %s, got %s", wf.ID, byCategory.ID)
	}

	if err := wfRepo.UpdateWorkflowStatus(ctx, wf.ID, domain.WorkflowInactive); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if _, err := wfRepo.FindActiveWorkflowByCategory(ctx, "invoice"); !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Fatalf("expected inactive workflow excluded from category lookup, got %v", err)
	}

	at := time.Now().UTC()
	if err := wfRepo.RecordWorkflowRun(ctx, wf.ID, at); err != nil {
		t.Fatalf("record run: %v", err)
	}
	got, err = wfRepo.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get workflow after run: %v", err)
	}
	if got.ExecutionCount != 1 || got.LastRunAt == nil {
		t.Fatalf("expected run metadata, got count=%d last=%v", got.ExecutionCount, got.LastRunAt)
	}
}

func TestApprovalRepositoryIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docRepo := NewDocumentRepository(pool, logger)
	apRepo := NewApprovalRepository(pool, logger)

	doc := &domain.Document{
		StorageKey: "docs/b.txt",
		Filename:   "b.txt",
		MimeType:   "text/plain",
		SizeBytes:  5,
		Status:     domain.DocumentUploaded,
	}
	if err := docRepo.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	a := &domain.ApprovalRequest{
		DocumentID:  doc.ID,
		WorkflowID:  uuid.New(),
		StepName:    "approve",
		Status:      domain.ApprovalPending,
		RequesterID: "ops",
		ExpiresAt:   &past,
	}
	if err := apRepo.CreateApproval(ctx, a); err != nil {
		t.Fatalf("create approval: %v", err)
	}

	got, err := apRepo.GetApproval(ctx, a.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if got.Status != domain.ApprovalPending || got.RequesterID != "ops" {
		t.Fatalf("unexpected approval: %+v", got)
	}

	overdue, err := apRepo.ListOverdueApprovals(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != a.ID {
		t.Fatalf("expected the expired request, got %+v", overdue)
	}

	now := time.Now().UTC()
	got.Status = domain.ApprovalApproved
	got.ApproverID = "alex"
	got.DecisionReason = "checked"
	got.DecidedAt = &now
	if err := apRepo.UpdateApproval(ctx, got); err != nil {
		t.Fatalf("update approval: %v", err)
	}

	// a second finalization loses the compare-and-set and changes nothing
	late := *got
	late.Status = domain.ApprovalRejected
	late.ApproverID = "sam"
	if err := apRepo.UpdateApproval(ctx, &late); !errors.Is(err, domain.ErrApprovalNotPending) {
		t.Fatalf("expected ErrApprovalNotPending, got %v", err)
	}
	if after, err := apRepo.GetApproval(ctx, a.ID); err != nil || after.Status != domain.ApprovalApproved || after.ApproverID != "alex" {
		t.Fatalf("first decision must stand, got %+v (%v)", after, err)
	}

	overdue, err = apRepo.ListOverdueApprovals(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("list overdue after decision: %v", err)
	}
	if len(overdue) != 0 {
		t.Fatalf("decided requests must not appear in the sweep, got %+v", overdue)
	}

	forDoc, err := apRepo.ListApprovalsForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list for document: %v", err)
	}
	if len(forDoc) != 1 || forDoc[0].ApproverID != "alex" {
		t.Fatalf("expected decided approval, got %+v", forDoc)
	}

	if _, err := apRepo.GetApproval(ctx, uuid.New()); !errors.Is(err, domain.ErrApprovalNotFound) {
		t.Fatalf("expected ErrApprovalNotFound, got %v", err)
	}
}

func TestEventRepositoryIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docRepo := NewDocumentRepository(pool, logger)
	evRepo := NewEventRepository(pool, logger)

	doc := &domain.Document{
		StorageKey: "docs/c.txt",
		Filename:   "c.txt",
		MimeType:   "text/plain",
		SizeBytes:  5,
		Status:     domain.DocumentUploaded,
	}
	if err := docRepo.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}

	types := []string{
		domain.EventExecutionStarted,
		domain.EventStepCompleted,
		domain.EventExecutionComplete,
	}
	for _, typ := range types {
		if err := evRepo.AppendEvent(ctx, doc.ID, typ, map[string]any{"step": "extract"}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}

	events, err := evRepo.ListEventsAfter(ctx, doc.ID, 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Type != types[i] {
			t.Fatalf("event %d: expected %s, got %s", i, types[i], ev.Type)
		}
	}

	// cursor pagination picks up after the given seq
	tail, err := evRepo.ListEventsAfter(ctx, doc.ID, events[1].Seq, 10)
	if err != nil {
		t.Fatalf("list events after cursor: %v", err)
	}
	if len(tail) != 1 || tail[0].Type != domain.EventExecutionComplete {
		t.Fatalf("expected only the last event, got %+v", tail)
	}
}

func truncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE TABLE events, approval_requests, documents, workflow_definitions RESTART IDENTITY CASCADE`)
	return err
}

func integrationPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create pgx pool (%v)", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	return pool
}
