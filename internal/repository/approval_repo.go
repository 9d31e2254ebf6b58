package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchley/docflow/internal/domain"
)

type ApprovalRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewApprovalRepository(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{
		pool:   pool,
		logger: logger,
	}
}

const approvalColumns = `id, document_id, workflow_id, step_name, status,
	       COALESCE(requester_id, ''), COALESCE(approver_id, ''), COALESCE(decision_reason, ''),
	       expires_at, decided_at, COALESCE(notification_ref, ''), created_at`

func (r *ApprovalRepository) CreateApproval(ctx context.Context, a *domain.ApprovalRequest) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO approval_requests
			(id, document_id, workflow_id, step_name, status, requester_id, expires_at, notification_ref)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''))
	`,
		a.ID, a.DocumentID, a.WorkflowID, a.StepName, a.Status,
		a.RequesterID, a.ExpiresAt, a.NotificationRef,
	)
	if err != nil {
		r.logger.Error("insert approval failed",
			"approval_id", a.ID,
			"document_id", a.DocumentID,
			"error", err,
		)
		return err
	}

	r.logger.Info("approval created",
		"approval_id", a.ID,
		"document_id", a.DocumentID,
		"step", a.StepName,
	)
	return nil
}

func (r *ApprovalRepository) GetApproval(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE id=$1`,
		id,
	)

	a, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrApprovalNotFound
		}
		r.logger.Error("get approval failed", "approval_id", id, "error", err)
		return nil, err
	}
	return a, nil
}

// UpdateApproval persists changes to an approval that is still PENDING in
// the database. The status guard on the UPDATE makes finalization a
// compare-and-set: two racing deciders cannot both win, and a decision can
// never overwrite an expiry (or vice versa). Returns ErrApprovalNotPending
// when the row is missing or already terminal.
func (r *ApprovalRepository) UpdateApproval(ctx context.Context, a *domain.ApprovalRequest) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE approval_requests
		SET status=$2,
		    approver_id=NULLIF($3, ''),
		    decision_reason=NULLIF($4, ''),
		    decided_at=$5,
		    notification_ref=NULLIF($6, '')
		WHERE id=$1 AND status=$7
	`,
		a.ID, a.Status, a.ApproverID, a.DecisionReason, a.DecidedAt, a.NotificationRef,
		domain.ApprovalPending,
	)
	if err != nil {
		r.logger.Error("update approval failed", "approval_id", a.ID, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrApprovalNotPending
	}
	return nil
}

// ListOverdueApprovals returns PENDING requests whose expiry has passed,
// oldest expiry first, capped at limit for the sweep loop.
func (r *ApprovalRepository) ListOverdueApprovals(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE status=$1 AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`, domain.ApprovalPending, now, limit)
	if err != nil {
		r.logger.Error("list overdue approvals failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	return collectApprovals(rows, r.logger)
}

func (r *ApprovalRepository) ListApprovalsForDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.ApprovalRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		r.logger.Error("list approvals for document failed", "document_id", documentID, "error", err)
		return nil, err
	}
	defer rows.Close()

	return collectApprovals(rows, r.logger)
}

func collectApprovals(rows pgx.Rows, logger *slog.Logger) ([]*domain.ApprovalRequest, error) {
	var out []*domain.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			logger.Error("scan approval failed", "error", err)
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		logger.Error("approval rows failed", "error", err)
		return nil, err
	}
	return out, nil
}

func scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var a domain.ApprovalRequest
	if err := row.Scan(
		&a.ID, &a.DocumentID, &a.WorkflowID, &a.StepName, &a.Status,
		&a.RequesterID, &a.ApproverID, &a.DecisionReason,
		&a.ExpiresAt, &a.DecidedAt, &a.NotificationRef, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
