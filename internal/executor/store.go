// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finchley/docflow/internal/domain"
)

// DocumentStore is the persistence surface the executor mutates documents
// through. Updates are partial: each method touches only the named fields.
type DocumentStore interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus) error
	SaveExtraction(ctx context.Context, id uuid.UUID, text string, stats domain.ExtractionStats) error
	SaveStructuredFields(ctx context.Context, id uuid.UUID, fields map[string]domain.FieldValue) error
	SaveExecutionState(ctx context.Context, id uuid.UUID, state *domain.WorkflowExecutionState) error

	// AttachExecution creates a PENDING execution for the workflow if the
	// document has none yet. It returns false without touching anything
	// when an execution already exists, so concurrent attachers cannot
	// overwrite one another.
	AttachExecution(ctx context.Context, id uuid.UUID, workflowID uuid.UUID) (bool, error)

	// MarkExecutionRunning atomically transitions the document's execution
	// from PENDING to RUNNING and stamps the start time. It returns false
	// when the execution was already in any other state, which is how
	// concurrent duplicate invocations are collapsed to one run.
	MarkExecutionRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
}

// WorkflowStore reads definitions and records run metadata.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error)

	// RecordWorkflowRun bumps the execution count and last-run timestamp.
	// Called only on full completion, never per step.
	RecordWorkflowRun(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ApprovalStore persists approval requests.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *domain.ApprovalRequest) error
	GetApproval(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)

	// UpdateApproval writes the request back only if the stored row is
	// still PENDING, and returns ErrApprovalNotPending otherwise. The
	// guard makes finalization a compare-and-set, so racing deciders and
	// the expiry sweep cannot overwrite each other's terminal status.
	UpdateApproval(ctx context.Context, a *domain.ApprovalRequest) error

	ListOverdueApprovals(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error)
}

// EventStore appends to the per-document audit log. Appends are best-effort
// from the executor's point of view: a failed append is logged, not fatal.
type EventStore interface {
	AppendEvent(ctx context.Context, documentID uuid.UUID, eventType string, payload map[string]any) error
}
