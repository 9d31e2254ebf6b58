// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "DRAFT"
	WorkflowActive   WorkflowStatus = "ACTIVE"
	WorkflowInactive WorkflowStatus = "INACTIVE"
)

// TriggerRule decides which documents a workflow applies to. Category is
// matched against the selector's document categories; an empty category
// makes the workflow eligible as a default.
type TriggerRule struct {
	Category string `json:"category,omitempty"`
}

// WorkflowDefinition is an ordered list of steps. Definitions are immutable
// while a run is in flight; ExecutionCount and LastRunAt move only when an
// execution fully completes.
type WorkflowDefinition struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Status         WorkflowStatus `json:"status"`
	Trigger        TriggerRule    `json:"trigger"`
	Template       bool           `json:"template"`
	Steps          []Step         `json:"steps"`
	ExecutionCount int            `json:"execution_count"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate checks the definition is well formed: a name, at least one step,
// valid steps, and unique step names and positions.
func (w WorkflowDefinition) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidWorkflow)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidWorkflow)
	}

	names := make(map[string]struct{}, len(w.Steps))
	positions := make(map[int]struct{}, len(w.Steps))
	for _, s := range w.Steps {
		if err := s.Validate(); err != nil {
			return err
		}
		if s.Name == "" {
			return fmt.Errorf("%w: step without a name", ErrInvalidWorkflow)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("%w: duplicate step name %q", ErrInvalidWorkflow, s.Name)
		}
		if _, dup := positions[s.Position]; dup {
			return fmt.Errorf("%w: duplicate step position %d", ErrInvalidWorkflow, s.Position)
		}
		names[s.Name] = struct{}{}
		positions[s.Position] = struct{}{}
	}
	return nil
}

// OrderedSteps returns enabled steps sorted by ascending position.
func (w WorkflowDefinition) OrderedSteps() []Step {
	out := make([]Step, 0, len(w.Steps))
	for _, s := range w.Steps {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
