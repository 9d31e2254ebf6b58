// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionPending  ExecutionStatus = "PENDING"
	ExecutionRunning  ExecutionStatus = "RUNNING"
	ExecutionPaused   ExecutionStatus = "PAUSED_FOR_APPROVAL"
	ExecutionComplete ExecutionStatus = "COMPLETED"
	ExecutionFailed   ExecutionStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionComplete || s == ExecutionFailed
}

type StepResultStatus string

const (
	StepResultCompleted StepResultStatus = "COMPLETED"
	StepResultFailed    StepResultStatus = "FAILED"
	StepResultPending   StepResultStatus = "PENDING"
)

// StepResult records the outcome of one step. Once written it is never
// rewritten; the single exception is the pending result of a
// require_approval step, which is finalized when the decision arrives.
// Output is an open string-keyed map so step handlers can attach
// type-specific payloads without widening this struct.
type StepResult struct {
	StepName    string           `json:"step_name"`
	Status      StepResultStatus `json:"status"`
	Output      map[string]any   `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// WorkflowExecutionState tracks one run of a workflow against a document.
// Steps append strictly in execution order.
type WorkflowExecutionState struct {
	WorkflowID        uuid.UUID       `json:"workflow_id"`
	Status            ExecutionStatus `json:"status"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	Steps             []StepResult    `json:"steps"`
	PendingApprovalID *uuid.UUID      `json:"pending_approval_id,omitempty"`
}

// HasResult reports whether the named step already produced a StepResult.
func (e *WorkflowExecutionState) HasResult(stepName string) bool {
	for _, r := range e.Steps {
		if r.StepName == stepName {
			return true
		}
	}
	return false
}
