// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/selector"
)

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]*domain.Document, error)
	AttachExecution(ctx context.Context, id uuid.UUID, workflowID uuid.UUID) (bool, error)
}

type WorkflowAdmin interface {
	CreateWorkflow(ctx context.Context, wf *domain.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]*domain.WorkflowDefinition, error)
	UpdateWorkflow(ctx context.Context, wf *domain.WorkflowDefinition) error
	UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status domain.WorkflowStatus) error
}

type ApprovalReader interface {
	GetApproval(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)
	ListApprovalsForDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.ApprovalRequest, error)
}

type EventStreamer interface {
	ListEventsAfter(ctx context.Context, documentID uuid.UUID, afterSeq int64, limit int) ([]domain.EventRecord, error)
}

// WorkflowRunner starts or resumes a workflow execution. Invocations are
// idempotent for finished or already-running executions.
type WorkflowRunner interface {
	Execute(ctx context.Context, documentID uuid.UUID, workflowID uuid.UUID) error
}

// DecisionGate applies a human decision to a pending approval request.
type DecisionGate interface {
	ProcessDecision(ctx context.Context, id uuid.UUID, decision domain.Decision, approverID, reason string) (*domain.ApprovalRequest, error)
}

type WorkflowSelector interface {
	Select(ctx context.Context, doc *domain.Document, opts selector.Options) (selector.Selection, error)
}

// BlobUploader is the slice of blob storage the upload endpoint needs.
type BlobUploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
