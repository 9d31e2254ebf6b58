package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchley/docflow/internal/domain"
)

type WorkflowRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWorkflowRepository(pool *pgxpool.Pool, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		pool:   pool,
		logger: logger,
	}
}

const workflowColumns = `id, name, status, COALESCE(trigger_category, ''), is_template, steps,
	       execution_count, last_run_at, created_at, updated_at`

func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, wf *domain.WorkflowDefinition) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}

	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflow_definitions (id, name, status, trigger_category, is_template, steps)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`,
		wf.ID, wf.Name, wf.Status, wf.Trigger.Category, wf.Template, steps,
	)
	if err != nil {
		r.logger.Error("insert workflow failed", "workflow_id", wf.ID, "name", wf.Name, "error", err)
		return err
	}

	r.logger.Info("workflow created", "workflow_id", wf.ID, "name", wf.Name)
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflow_definitions WHERE id=$1`,
		id,
	)

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkflowNotFound
		}
		r.logger.Error("get workflow failed", "workflow_id", id, "error", err)
		return nil, err
	}
	return wf, nil
}

func (r *WorkflowRepository) FindWorkflowByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflow_definitions WHERE name=$1`,
		name,
	)

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkflowNotFound
		}
		r.logger.Error("find workflow by name failed", "name", name, "error", err)
		return nil, err
	}
	return wf, nil
}

// FindActiveWorkflowByCategory returns the oldest ACTIVE workflow whose
// trigger matches the category. Oldest wins so routing stays stable when
// newer variants are drafted alongside.
func (r *WorkflowRepository) FindActiveWorkflowByCategory(ctx context.Context, category string) (*domain.WorkflowDefinition, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+workflowColumns+`
		FROM workflow_definitions
		WHERE status=$1 AND trigger_category=$2
		ORDER BY created_at ASC
		LIMIT 1
	`, domain.WorkflowActive, category)

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkflowNotFound
		}
		r.logger.Error("find workflow by category failed", "category", category, "error", err)
		return nil, err
	}
	return wf, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+workflowColumns+` FROM workflow_definitions ORDER BY created_at ASC`,
	)
	if err != nil {
		r.logger.Error("list workflows failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var wfs []*domain.WorkflowDefinition
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			r.logger.Error("scan workflow failed", "error", err)
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("list workflows rows failed", "error", err)
		return nil, err
	}
	return wfs, nil
}

func (r *WorkflowRepository) UpdateWorkflow(ctx context.Context, wf *domain.WorkflowDefinition) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE workflow_definitions
		SET name=$2,
		    status=$3,
		    trigger_category=NULLIF($4, ''),
		    is_template=$5,
		    steps=$6,
		    updated_at=NOW()
		WHERE id=$1
	`,
		wf.ID, wf.Name, wf.Status, wf.Trigger.Category, wf.Template, steps,
	)
	if err != nil {
		r.logger.Error("update workflow failed", "workflow_id", wf.ID, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}

	r.logger.Info("workflow updated", "workflow_id", wf.ID, "name", wf.Name)
	return nil
}

func (r *WorkflowRepository) UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status domain.WorkflowStatus) error {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE workflow_definitions SET status=$2, updated_at=NOW() WHERE id=$1`,
		id, status,
	)
	if err != nil {
		r.logger.Error("update workflow status failed", "workflow_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

func (r *WorkflowRepository) RecordWorkflowRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE workflow_definitions
		SET execution_count = execution_count + 1,
		    last_run_at=$2,
		    updated_at=NOW()
		WHERE id=$1
	`, id, at)
	if err != nil {
		r.logger.Error("record workflow run failed", "workflow_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*domain.WorkflowDefinition, error) {
	var (
		wf       domain.WorkflowDefinition
		stepsRaw []byte
	)
	if err := row.Scan(
		&wf.ID, &wf.Name, &wf.Status, &wf.Trigger.Category, &wf.Template, &stepsRaw,
		&wf.ExecutionCount, &wf.LastRunAt, &wf.CreatedAt, &wf.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(stepsRaw) > 0 {
		if err := json.Unmarshal(stepsRaw, &wf.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	return &wf, nil
}
