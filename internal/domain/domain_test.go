// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStepValidateMatchingConfig(t *testing.T) {
	s := Step{
		Name:     "approve",
		Type:     StepRequireApproval,
		Position: 2,
		Enabled:  true,
		Config: StepConfig{
			RequireApproval: &ApprovalConfig{ExpiresInHours: 24},
		},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.ApprovalExpiry(); got != 24*time.Hour {
		t.Fatalf("expected 24h expiry, got %s", got)
	}
}

func TestStepValidateMismatchedConfig(t *testing.T) {
	s := Step{
		Name: "extract",
		Type: StepExtractText,
		Config: StepConfig{
			StoreData: &StoreDataConfig{Targets: []string{"crm"}},
		},
	}
	if err := s.Validate(); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
}

func TestStepValidateUnknownType(t *testing.T) {
	s := Step{Name: "x", Type: StepType("transmogrify")}
	if err := s.Validate(); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
}

func TestWorkflowValidateDuplicates(t *testing.T) {
	w := WorkflowDefinition{
		Name: "dup",
		Steps: []Step{
			{Name: "a", Type: StepExtractText, Position: 1, Enabled: true},
			{Name: "a", Type: StepAnalyzeContent, Position: 2, Enabled: true},
		},
	}
	if err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got %v", err)
	}
}

func TestOrderedStepsSkipsDisabledAndSorts(t *testing.T) {
	w := WorkflowDefinition{
		Name: "order",
		Steps: []Step{
			{Name: "store", Type: StepStoreData, Position: 3, Enabled: true},
			{Name: "extract", Type: StepExtractText, Position: 1, Enabled: true},
			{Name: "notify", Type: StepSendNotification, Position: 2, Enabled: false},
			{Name: "analyze", Type: StepAnalyzeContent, Position: 2, Enabled: true},
		},
	}
	got := w.OrderedSteps()
	want := []string{"extract", "analyze", "store"}
	if len(got) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("position %d: expected %q, got %q", i, name, got[i].Name)
		}
	}
}

func TestApprovalOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	a := &ApprovalRequest{Status: ApprovalPending}
	if a.Overdue(now) {
		t.Fatal("approval without expiry must never be overdue")
	}
	a.ExpiresAt = &future
	if a.Overdue(now) {
		t.Fatal("future expiry must not be overdue")
	}
	a.ExpiresAt = &past
	if !a.Overdue(now) {
		t.Fatal("past expiry must be overdue")
	}
}

func TestStatusTerminality(t *testing.T) {
	if ExecutionPaused.Terminal() || ExecutionRunning.Terminal() || ExecutionPending.Terminal() {
		t.Fatal("non-terminal execution status reported terminal")
	}
	if !ExecutionComplete.Terminal() || !ExecutionFailed.Terminal() {
		t.Fatal("terminal execution status reported non-terminal")
	}
	if ApprovalPending.Terminal() {
		t.Fatal("PENDING approval must be non-terminal")
	}
	for _, s := range []ApprovalStatus{ApprovalApproved, ApprovalRejected, ApprovalExpired} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}
