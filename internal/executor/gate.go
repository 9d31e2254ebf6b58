// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/metrics"
	"github.com/finchley/docflow/internal/notify"
)

// Gate owns the approval lifecycle: creation by a require_approval step,
// finalization by an external decision, and the periodic expiry sweep.
type Gate struct {
	deps   Deps
	engine *Engine
	logger *slog.Logger
}

// CreateApprovalRequest carries everything a require_approval step knows.
type CreateApprovalRequest struct {
	DocumentID  uuid.UUID
	WorkflowID  uuid.UUID
	StepName    string
	RequesterID string
	Channel     string
	Expiry      time.Duration
}

// CreateApproval persists a PENDING request and announces it on the
// configured channel. Notification failure never fails the creation; the
// request simply has no notification reference to update later.
func (g *Gate) CreateApproval(ctx context.Context, req CreateApprovalRequest) (*domain.ApprovalRequest, error) {
	now := g.deps.Now().UTC()
	approval := &domain.ApprovalRequest{
		ID:          uuid.New(),
		DocumentID:  req.DocumentID,
		WorkflowID:  req.WorkflowID,
		StepName:    req.StepName,
		Status:      domain.ApprovalPending,
		RequesterID: req.RequesterID,
		CreatedAt:   now,
	}
	if req.Expiry > 0 {
		expires := now.Add(req.Expiry)
		approval.ExpiresAt = &expires
	}

	if err := g.deps.Approvals.CreateApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}
	metrics.IncApprovalStatus(domain.ApprovalPending)

	ref, err := g.deps.Notifier.PostMessage(ctx, req.Channel, g.approvalMessage(approval, "Approval required"))
	if err != nil {
		g.logger.Warn("approval notification failed",
			"approval_id", approval.ID,
			"document_id", approval.DocumentID,
			"error", err,
		)
	} else if ref != "" {
		approval.NotificationRef = ref
		if err := g.deps.Approvals.UpdateApproval(ctx, approval); err != nil {
			g.logger.Warn("storing notification reference failed",
				"approval_id", approval.ID,
				"error", err,
			)
		}
	}

	g.logger.Info("approval created",
		"approval_id", approval.ID,
		"document_id", approval.DocumentID,
		"step", approval.StepName,
		"expires_at", approval.ExpiresAt,
	)
	return approval, nil
}

// ProcessDecision finalizes a PENDING approval. A request whose expiry has
// already passed is forced to EXPIRED and the decision is refused. On
// APPROVED the owning execution resumes; on REJECTED the configured
// rejection policy is applied.
func (g *Gate) ProcessDecision(ctx context.Context, id uuid.UUID, decision domain.Decision, approverID, reason string) (*domain.ApprovalRequest, error) {
	approval, err := g.deps.Approvals.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if approval.Status.Terminal() {
		return approval, fmt.Errorf("approval %s is %s: %w", approval.ID, approval.Status, domain.ErrApprovalNotPending)
	}

	now := g.deps.Now().UTC()
	if approval.Overdue(now) {
		if err := g.expire(ctx, approval); err != nil {
			return approval, err
		}
		if err := g.engine.applyApprovalOutcome(ctx, approval); err != nil {
			g.logger.Error("applying expired approval outcome failed",
				"approval_id", approval.ID,
				"error", err,
			)
		}
		return approval, fmt.Errorf("approval %s expired at %s: %w", approval.ID, approval.ExpiresAt, domain.ErrApprovalExpired)
	}

	var status domain.ApprovalStatus
	switch decision {
	case domain.DecisionApprove:
		status = domain.ApprovalApproved
	case domain.DecisionReject:
		status = domain.ApprovalRejected
	default:
		return approval, fmt.Errorf("decision %q: %w", decision, domain.ErrInvalidDecision)
	}

	approval.Status = status
	approval.ApproverID = approverID
	approval.DecisionReason = reason
	approval.DecidedAt = &now
	if err := g.deps.Approvals.UpdateApproval(ctx, approval); err != nil {
		return approval, fmt.Errorf("persist decision: %w", err)
	}

	metrics.IncApprovalStatus(status)
	g.updateNotification(ctx, approval, fmt.Sprintf("Approval %s", status))
	g.appendEvent(ctx, approval, domain.EventApprovalDecided)
	g.logger.Info("approval decided",
		"approval_id", approval.ID,
		"document_id", approval.DocumentID,
		"status", status,
		"approver_id", approverID,
	)

	if status == domain.ApprovalApproved {
		if err := g.engine.resumeAfterApproval(ctx, approval); err != nil {
			return approval, fmt.Errorf("resume execution: %w", err)
		}
	} else {
		if err := g.engine.applyApprovalOutcome(ctx, approval); err != nil {
			return approval, fmt.Errorf("apply rejection: %w", err)
		}
	}
	return approval, nil
}

// ExpireOverdue sweeps PENDING approvals whose deadline has passed. The
// sweep itself only finalizes approvals and updates notifications; the
// owning executions are reconciled by the caller through the returned list.
func (g *Gate) ExpireOverdue(ctx context.Context, limit int) ([]*domain.ApprovalRequest, error) {
	now := g.deps.Now().UTC()
	overdue, err := g.deps.Approvals.ListOverdueApprovals(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue approvals: %w", err)
	}

	var expired []*domain.ApprovalRequest
	for _, approval := range overdue {
		if err := g.expire(ctx, approval); err != nil {
			g.logger.Error("expiring approval failed",
				"approval_id", approval.ID,
				"error", err,
			)
			continue
		}
		expired = append(expired, approval)
	}

	if len(expired) > 0 {
		g.logger.Info("expired overdue approvals", "count", len(expired))
	}
	return expired, nil
}

// ApplyExpiredOutcome lets the caller reconcile an execution paused on an
// approval that the sweep expired.
func (g *Gate) ApplyExpiredOutcome(ctx context.Context, approval *domain.ApprovalRequest) error {
	return g.engine.applyApprovalOutcome(ctx, approval)
}

// ReconcileStalled re-drives a paused execution whose approval already
// reached a terminal status. A crash between finalizing the approval and
// updating the execution strands the document in PAUSED_FOR_APPROVAL; the
// sweep calls this to finish what the decision started. Executions paused
// on a still-PENDING approval are left alone.
func (g *Gate) ReconcileStalled(ctx context.Context, documentID uuid.UUID) error {
	doc, err := g.deps.Documents.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Execution == nil || doc.Execution.Status != domain.ExecutionPaused || doc.Execution.PendingApprovalID == nil {
		return nil
	}

	approval, err := g.deps.Approvals.GetApproval(ctx, *doc.Execution.PendingApprovalID)
	if err != nil {
		return fmt.Errorf("load approval: %w", err)
	}

	switch approval.Status {
	case domain.ApprovalPending:
		return nil
	case domain.ApprovalApproved:
		g.logger.Info("resuming stalled execution",
			"document_id", doc.ID,
			"approval_id", approval.ID,
		)
		return g.engine.resumeAfterApproval(ctx, approval)
	default:
		g.logger.Info("applying stalled approval outcome",
			"document_id", doc.ID,
			"approval_id", approval.ID,
			"status", approval.Status,
		)
		return g.engine.applyApprovalOutcome(ctx, approval)
	}
}

func (g *Gate) expire(ctx context.Context, approval *domain.ApprovalRequest) error {
	approval.Status = domain.ApprovalExpired
	if err := g.deps.Approvals.UpdateApproval(ctx, approval); err != nil {
		return fmt.Errorf("persist expiry: %w", err)
	}
	metrics.IncApprovalStatus(domain.ApprovalExpired)
	g.updateNotification(ctx, approval, "Approval expired")
	g.appendEvent(ctx, approval, domain.EventApprovalExpired)
	return nil
}

func (g *Gate) updateNotification(ctx context.Context, approval *domain.ApprovalRequest, subject string) {
	if approval.NotificationRef == "" {
		return
	}
	msg := g.approvalMessage(approval, subject)
	if err := g.deps.Notifier.UpdateMessage(ctx, "", approval.NotificationRef, msg); err != nil {
		g.logger.Warn("approval notification update failed",
			"approval_id", approval.ID,
			"error", err,
		)
	}
}

func (g *Gate) approvalMessage(approval *domain.ApprovalRequest, subject string) notify.Message {
	return notify.Message{
		Subject: subject,
		Body:    fmt.Sprintf("Document %s, step %q", approval.DocumentID, approval.StepName),
		Meta: map[string]any{
			"approval_id": approval.ID.String(),
			"document_id": approval.DocumentID.String(),
			"step":        approval.StepName,
			"status":      string(approval.Status),
		},
	}
}

func (g *Gate) appendEvent(ctx context.Context, approval *domain.ApprovalRequest, eventType string) {
	payload := map[string]any{
		"approval_id": approval.ID,
		"step":        approval.StepName,
		"status":      approval.Status,
	}
	if err := g.deps.Events.AppendEvent(ctx, approval.DocumentID, eventType, payload); err != nil {
		g.logger.Warn("event append failed",
			"document_id", approval.DocumentID,
			"event_type", eventType,
			"error", err,
		)
	}
}
