// SPDX-License-Identifier: Apache-2.0

// Package executor runs workflow definitions against documents. An execution
// is a sequential, non-reentrant state machine: PENDING -> RUNNING ->
// {COMPLETED, FAILED, PAUSED_FOR_APPROVAL}. Paused state is fully
// externalized; resumption reloads everything from the store and may happen
// on a different process instance than the one that paused.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finchley/docflow/internal/blob"
	"github.com/finchley/docflow/internal/config"
	"github.com/finchley/docflow/internal/domain"
	"github.com/finchley/docflow/internal/fieldextract"
	"github.com/finchley/docflow/internal/metrics"
	"github.com/finchley/docflow/internal/notify"
	"github.com/finchley/docflow/internal/textextract"
)

// TextExtractor is the extraction pipeline slice the executor dispatches to.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) textextract.Result
}

// FieldExtractor turns extracted text into structured fields.
type FieldExtractor interface {
	Extract(ctx context.Context, text, category string) fieldextract.Result
}

type Config struct {
	// RejectionPolicy decides whether a rejected or expired approval fails
	// the whole workflow or only the approval step.
	RejectionPolicy config.RejectionPolicy
}

// Deps bundles everything the engine and gate need. Notifier, Logger and
// Now receive working defaults when left nil.
type Deps struct {
	Documents DocumentStore
	Workflows WorkflowStore
	Approvals ApprovalStore
	Events    EventStore
	Blobs     blob.Store
	Text      TextExtractor
	Fields    FieldExtractor
	Notifier  notify.Channel
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d *Deps) defaults() {
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

type Engine struct {
	cfg    Config
	deps   Deps
	gate   *Gate
	logger *slog.Logger
}

// New builds the engine together with its approval gate. The two are
// mutually wired: require_approval steps create requests through the gate,
// and decided requests drive the engine's resume/fail paths.
func New(cfg Config, deps Deps) (*Engine, *Gate) {
	deps.defaults()
	if cfg.RejectionPolicy == "" {
		cfg.RejectionPolicy = config.RejectionFailsWorkflow
	}

	e := &Engine{cfg: cfg, deps: deps, logger: deps.Logger.With("component", "executor")}
	g := &Gate{
		deps:   deps,
		engine: e,
		logger: deps.Logger.With("component", "approvals"),
	}
	e.gate = g
	return e, g
}

// Execute is the idempotent entry point: it attaches an execution for the
// workflow if none exists yet, then attempts the single PENDING -> RUNNING
// transition. Observing any non-PENDING state is a no-op, so duplicate and
// concurrent invocations for the same document collapse to one run.
func (e *Engine) Execute(ctx context.Context, documentID, workflowID uuid.UUID) error {
	doc, err := e.deps.Documents.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if doc.Execution == nil {
		wf, err := e.deps.Workflows.GetWorkflow(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		if wf.Status != domain.WorkflowActive {
			return fmt.Errorf("workflow %s: %w", wf.ID, domain.ErrWorkflowInactive)
		}
		if _, err := e.deps.Documents.AttachExecution(ctx, doc.ID, wf.ID); err != nil {
			return fmt.Errorf("attach execution: %w", err)
		}
		doc.Execution = &domain.WorkflowExecutionState{
			WorkflowID: wf.ID,
			Status:     domain.ExecutionPending,
		}
	}

	started := e.deps.Now().UTC()
	ok, err := e.deps.Documents.MarkExecutionRunning(ctx, doc.ID, started)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		e.logger.Info("execution already claimed or finished, skipping",
			"document_id", doc.ID,
			"status", doc.Execution.Status,
		)
		return nil
	}

	doc.Execution.Status = domain.ExecutionRunning
	doc.Execution.StartedAt = &started
	metrics.IncExecutionStatus(domain.ExecutionRunning)
	e.appendEvent(ctx, doc.ID, domain.EventExecutionStarted, map[string]any{
		"workflow_id": doc.Execution.WorkflowID,
	})

	if err := e.deps.Documents.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentProcessing); err != nil {
		return fmt.Errorf("mark document processing: %w", err)
	}
	doc.Status = domain.DocumentProcessing

	wf, err := e.deps.Workflows.GetWorkflow(ctx, doc.Execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	e.logger.Info("execution started",
		"document_id", doc.ID,
		"workflow_id", wf.ID,
		"workflow", wf.Name,
	)
	return e.runSteps(ctx, doc, wf)
}

// runSteps dispatches enabled steps in ascending position order, skipping
// any step that already has a result. External FAILED marking is honored
// between steps, never mid-step.
func (e *Engine) runSteps(ctx context.Context, doc *domain.Document, wf *domain.WorkflowDefinition) error {
	for _, step := range wf.OrderedSteps() {
		if doc.Execution.HasResult(step.Name) {
			continue
		}

		fresh, err := e.deps.Documents.GetDocument(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("reload document before step %q: %w", step.Name, err)
		}
		if fresh.Execution == nil || fresh.Execution.Status != domain.ExecutionRunning {
			e.logger.Warn("execution no longer running, halting between steps",
				"document_id", doc.ID,
				"step", step.Name,
			)
			return nil
		}

		stepStart := e.deps.Now()
		output, pause, err := e.dispatch(ctx, doc, wf, step)
		metrics.ObserveStepDuration(step.Type, e.deps.Now().Sub(stepStart))

		switch {
		case err != nil:
			return e.failExecution(ctx, doc, step, err)
		case pause != nil:
			return e.pauseExecution(ctx, doc, step, pause, output)
		default:
			if err := e.completeStep(ctx, doc, step, output); err != nil {
				return err
			}
		}
	}
	return e.finishExecution(ctx, doc, wf)
}

func (e *Engine) completeStep(ctx context.Context, doc *domain.Document, step domain.Step, output map[string]any) error {
	doc.Execution.Steps = append(doc.Execution.Steps, domain.StepResult{
		StepName:    step.Name,
		Status:      domain.StepResultCompleted,
		Output:      output,
		CompletedAt: e.deps.Now().UTC(),
	})
	if err := e.deps.Documents.SaveExecutionState(ctx, doc.ID, doc.Execution); err != nil {
		return fmt.Errorf("persist step result %q: %w", step.Name, err)
	}

	metrics.IncStepResult(step.Type, domain.StepResultCompleted)
	e.appendEvent(ctx, doc.ID, domain.EventStepCompleted, map[string]any{
		"step": step.Name,
		"type": step.Type,
	})
	e.logger.Info("step completed", "document_id", doc.ID, "step", step.Name, "type", step.Type)
	return nil
}

func (e *Engine) pauseExecution(ctx context.Context, doc *domain.Document, step domain.Step, pause *pauseRequest, output map[string]any) error {
	doc.Execution.Steps = append(doc.Execution.Steps, domain.StepResult{
		StepName:    step.Name,
		Status:      domain.StepResultPending,
		Output:      output,
		CompletedAt: e.deps.Now().UTC(),
	})
	doc.Execution.Status = domain.ExecutionPaused
	doc.Execution.PendingApprovalID = &pause.approvalID

	if err := e.deps.Documents.SaveExecutionState(ctx, doc.ID, doc.Execution); err != nil {
		return fmt.Errorf("persist paused execution: %w", err)
	}

	metrics.IncExecutionStatus(domain.ExecutionPaused)
	metrics.IncStepResult(step.Type, domain.StepResultPending)
	e.appendEvent(ctx, doc.ID, domain.EventExecutionPaused, map[string]any{
		"step":        step.Name,
		"approval_id": pause.approvalID,
	})
	e.logger.Info("execution paused for approval",
		"document_id", doc.ID,
		"step", step.Name,
		"approval_id", pause.approvalID,
	)
	return nil
}

func (e *Engine) failExecution(ctx context.Context, doc *domain.Document, step domain.Step, cause error) error {
	now := e.deps.Now().UTC()
	doc.Execution.Steps = append(doc.Execution.Steps, domain.StepResult{
		StepName:    step.Name,
		Status:      domain.StepResultFailed,
		Error:       cause.Error(),
		CompletedAt: now,
	})
	doc.Execution.Status = domain.ExecutionFailed
	doc.Execution.FinishedAt = &now

	if err := e.deps.Documents.SaveExecutionState(ctx, doc.ID, doc.Execution); err != nil {
		return fmt.Errorf("persist failed execution: %w", err)
	}
	if err := e.deps.Documents.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentFailed); err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}

	metrics.IncStepResult(step.Type, domain.StepResultFailed)
	metrics.IncExecutionStatus(domain.ExecutionFailed)
	e.appendEvent(ctx, doc.ID, domain.EventStepFailed, map[string]any{
		"step":  step.Name,
		"error": cause.Error(),
	})
	e.appendEvent(ctx, doc.ID, domain.EventExecutionFailed, map[string]any{
		"step": step.Name,
	})
	e.logger.Error("execution failed",
		"document_id", doc.ID,
		"step", step.Name,
		"error", cause,
	)
	return fmt.Errorf("step %q: %w", step.Name, cause)
}

func (e *Engine) finishExecution(ctx context.Context, doc *domain.Document, wf *domain.WorkflowDefinition) error {
	now := e.deps.Now().UTC()
	doc.Execution.Status = domain.ExecutionComplete
	doc.Execution.FinishedAt = &now

	if err := e.deps.Documents.SaveExecutionState(ctx, doc.ID, doc.Execution); err != nil {
		return fmt.Errorf("persist completed execution: %w", err)
	}
	if err := e.deps.Documents.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentCompleted); err != nil {
		return fmt.Errorf("mark document completed: %w", err)
	}
	if err := e.deps.Workflows.RecordWorkflowRun(ctx, wf.ID, now); err != nil {
		e.logger.Warn("workflow run metadata update failed", "workflow_id", wf.ID, "error", err)
	}

	metrics.IncExecutionStatus(domain.ExecutionComplete)
	e.appendEvent(ctx, doc.ID, domain.EventExecutionComplete, map[string]any{
		"workflow_id": wf.ID,
	})
	e.logger.Info("execution completed", "document_id", doc.ID, "workflow_id", wf.ID)
	return nil
}

// resumeAfterApproval finalizes the pending approval step result and
// continues from the first incomplete step. Called by the gate on APPROVED.
func (e *Engine) resumeAfterApproval(ctx context.Context, approval *domain.ApprovalRequest) error {
	doc, err := e.deps.Documents.GetDocument(ctx, approval.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Execution == nil || doc.Execution.Status != domain.ExecutionPaused {
		return fmt.Errorf("document %s is not paused for approval", doc.ID)
	}
	if doc.Execution.PendingApprovalID == nil || *doc.Execution.PendingApprovalID != approval.ID {
		return fmt.Errorf("approval %s does not match the pending approval", approval.ID)
	}

	e.finalizeApprovalStep(doc, approval, domain.StepResultCompleted, "")
	doc.Execution.Status = domain.ExecutionRunning
	doc.Execution.PendingApprovalID = nil
	if err := e.deps.Documents.SaveExecutionState(ctx, doc.ID, doc.Execution); err != nil {
		return fmt.Errorf("persist resumed execution: %w", err)
	}

	metrics.IncExecutionStatus(domain.ExecutionRunning)
	e.appendEvent(ctx, doc.ID, domain.EventExecutionResumed, map[string]any{
		"approval_id": approval.ID,
		"approver_id": approval.ApproverID,
	})
	e.logger.Info("execution resumed after approval",
		"document_id", doc.ID,
		"approval_id", approval.ID,
	)

	wf, err := e.deps.Workflows.GetWorkflow(ctx, doc.Execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	return e.runSteps(ctx, doc, wf)
}

// applyApprovalOutcome handles a REJECTED or EXPIRED approval according to
// the configured rejection policy.
func (e *Engine) applyApprovalOutcome(ctx context.Context, approval *domain.ApprovalRequest) error {
	doc, err := e.deps.Documents.GetDocument(ctx, approval.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Execution == nil || doc.Execution.Status != domain.ExecutionPaused {
		// already reconciled, nothing to do
		return nil
	}
	if doc.Execution.PendingApprovalID == nil || *doc.Execution.PendingApprovalID != approval.ID {
		return nil
	}

	cause := fmt.Sprintf("approval %s", approval.Status)
	if approval.DecisionReason != "" {
		cause += ": " + approval.DecisionReason
	}

	e.finalizeApprovalStep(doc, approval, domain.StepResultFailed, cause)
	doc.Execution.PendingApprovalID = nil

	if e.cfg.RejectionPolicy == config.RejectionFailsStep {
		// the step fails, the rest of the workflow continues
		doc.Execution.Status = domain.ExecutionRunning
		if err := e.deps.Documents.SaveExecutionState(ctx, doc.ID, doc.Execution); err != nil {
			return fmt.Errorf("persist resumed execution: %w", err)
		}
		metrics.IncExecutionStatus(domain.ExecutionRunning)
		e.appendEvent(ctx, doc.ID, domain.EventExecutionResumed, map[string]any{
			"approval_id": approval.ID,
			"outcome":     approval.Status,
		})
		wf, err := e.deps.Workflows.GetWorkflow(ctx, doc.Execution.WorkflowID)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		return e.runSteps(ctx, doc, wf)
	}

	now := e.deps.Now().UTC()
	doc.Execution.Status = domain.ExecutionFailed
	doc.Execution.FinishedAt = &now
	if err := e.deps.Documents.SaveExecutionState(ctx, doc.ID, doc.Execution); err != nil {
		return fmt.Errorf("persist failed execution: %w", err)
	}
	if err := e.deps.Documents.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentFailed); err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}

	metrics.IncExecutionStatus(domain.ExecutionFailed)
	e.appendEvent(ctx, doc.ID, domain.EventExecutionFailed, map[string]any{
		"approval_id": approval.ID,
		"outcome":     approval.Status,
	})
	e.logger.Info("execution failed by approval outcome",
		"document_id", doc.ID,
		"approval_id", approval.ID,
		"outcome", approval.Status,
	)
	return nil
}

// finalizeApprovalStep resolves the single PENDING step result left by a
// require_approval step. Completed and failed results are never touched.
func (e *Engine) finalizeApprovalStep(doc *domain.Document, approval *domain.ApprovalRequest, status domain.StepResultStatus, errText string) {
	for i := range doc.Execution.Steps {
		r := &doc.Execution.Steps[i]
		if r.StepName != approval.StepName || r.Status != domain.StepResultPending {
			continue
		}
		r.Status = status
		r.Error = errText
		r.CompletedAt = e.deps.Now().UTC()
		if r.Output == nil {
			r.Output = map[string]any{}
		}
		r.Output["decision"] = string(approval.Status)
		if approval.ApproverID != "" {
			r.Output["approver_id"] = approval.ApproverID
		}
		return
	}
}

func (e *Engine) appendEvent(ctx context.Context, documentID uuid.UUID, eventType string, payload map[string]any) {
	if err := e.deps.Events.AppendEvent(ctx, documentID, eventType, payload); err != nil {
		e.logger.Warn("event append failed",
			"document_id", documentID,
			"event_type", eventType,
			"error", err,
		)
	}
}
