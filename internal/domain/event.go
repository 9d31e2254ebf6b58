// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types appended to a document's execution log.
const (
	EventExecutionStarted  = "EXECUTION_STARTED"
	EventStepCompleted     = "STEP_COMPLETED"
	EventStepFailed        = "STEP_FAILED"
	EventExecutionPaused   = "EXECUTION_PAUSED"
	EventExecutionResumed  = "EXECUTION_RESUMED"
	EventExecutionComplete = "EXECUTION_COMPLETED"
	EventExecutionFailed   = "EXECUTION_FAILED"
	EventApprovalDecided   = "APPROVAL_DECIDED"
	EventApprovalExpired   = "APPROVAL_EXPIRED"
)

type EventRecord struct {
	ID         uuid.UUID       `json:"id"`
	Seq        int64           `json:"seq"`
	DocumentID uuid.UUID       `json:"document_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
