// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// Terminal reports whether the approval can no longer change. PENDING is
// the only non-terminal status.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalPending
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ApprovalRequest bridges an automated execution to an external human
// decision. NotificationRef points at the channel message announcing the
// request so the gate can update it in place once decided.
type ApprovalRequest struct {
	ID              uuid.UUID      `json:"id"`
	DocumentID      uuid.UUID      `json:"document_id"`
	WorkflowID      uuid.UUID      `json:"workflow_id"`
	StepName        string         `json:"step_name"`
	Status          ApprovalStatus `json:"status"`
	RequesterID     string         `json:"requester_id,omitempty"`
	ApproverID      string         `json:"approver_id,omitempty"`
	DecisionReason  string         `json:"decision_reason,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	DecidedAt       *time.Time     `json:"decided_at,omitempty"`
	NotificationRef string         `json:"notification_ref,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Overdue reports whether the request has an expiry in the past.
func (a *ApprovalRequest) Overdue(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}
