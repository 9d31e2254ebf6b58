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

type DocumentRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDocumentRepository(pool *pgxpool.Pool, logger *slog.Logger) *DocumentRepository {
	return &DocumentRepository{
		pool:   pool,
		logger: logger,
	}
}

// ExecutionRef identifies one attached execution for worker pickup.
type ExecutionRef struct {
	DocumentID uuid.UUID
	WorkflowID uuid.UUID
}

const documentColumns = `id, storage_key, filename, mime_type, size_bytes, status,
	       COALESCE(extracted_text, ''), extraction_stats, structured_fields, execution,
	       created_at, updated_at`

func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, storage_key, filename, mime_type, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		doc.ID, doc.StorageKey, doc.Filename, doc.MimeType, doc.SizeBytes, doc.Status,
	)
	if err != nil {
		r.logger.Error("insert document failed", "document_id", doc.ID, "error", err)
		return err
	}

	r.logger.Info("document created", "document_id", doc.ID, "filename", doc.Filename)
	return nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id=$1`,
		id,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		r.logger.Error("get document failed", "document_id", id, "error", err)
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) ListDocuments(ctx context.Context, limit, offset int) ([]*domain.Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		r.logger.Error("list documents failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			r.logger.Error("scan document failed", "error", err)
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("list documents rows failed", "error", err)
		return nil, err
	}
	return docs, nil
}

func (r *DocumentRepository) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus) error {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE documents SET status=$2, updated_at=NOW() WHERE id=$1`,
		id, status,
	)
	if err != nil {
		r.logger.Error("update document status failed", "document_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) SaveExtraction(ctx context.Context, id uuid.UUID, text string, stats domain.ExtractionStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal extraction stats: %w", err)
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET extracted_text=$2,
		    extraction_stats=$3,
		    updated_at=NOW()
		WHERE id=$1
	`, id, text, payload)
	if err != nil {
		r.logger.Error("save extraction failed", "document_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) SaveStructuredFields(ctx context.Context, id uuid.UUID, fields map[string]domain.FieldValue) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal structured fields: %w", err)
	}

	cmd, err := r.pool.Exec(ctx,
		`UPDATE documents SET structured_fields=$2, updated_at=NOW() WHERE id=$1`,
		id, payload,
	)
	if err != nil {
		r.logger.Error("save structured fields failed", "document_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) SaveExecutionState(ctx context.Context, id uuid.UUID, state *domain.WorkflowExecutionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}

	cmd, err := r.pool.Exec(ctx,
		`UPDATE documents SET execution=$2, updated_at=NOW() WHERE id=$1`,
		id, payload,
	)
	if err != nil {
		r.logger.Error("save execution state failed", "document_id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// AttachExecution creates a PENDING execution only when the document has
// none. The WHERE guard makes concurrent attachers race on a single row
// update, so exactly one wins.
func (r *DocumentRepository) AttachExecution(ctx context.Context, id uuid.UUID, workflowID uuid.UUID) (bool, error) {
	state := domain.WorkflowExecutionState{
		WorkflowID: workflowID,
		Status:     domain.ExecutionPending,
		Steps:      []domain.StepResult{},
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("marshal execution state: %w", err)
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET execution=$2, updated_at=NOW()
		WHERE id=$1 AND execution IS NULL
	`, id, payload)
	if err != nil {
		r.logger.Error("attach execution failed", "document_id", id, "error", err)
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// MarkExecutionRunning claims a PENDING execution. The status guard in the
// WHERE clause collapses concurrent duplicate invocations to one runner.
func (r *DocumentRepository) MarkExecutionRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET execution = jsonb_set(
		        jsonb_set(execution, '{status}', '"RUNNING"'),
		        '{started_at}', to_jsonb($2::timestamptz)
		    ),
		    updated_at = NOW()
		WHERE id=$1 AND execution->>'status' = 'PENDING'
	`, id, startedAt)
	if err != nil {
		r.logger.Error("mark execution running failed", "document_id", id, "error", err)
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ListPendingExecutions returns attached-but-unstarted executions, oldest
// first, for the worker loop to pick up.
func (r *DocumentRepository) ListPendingExecutions(ctx context.Context, limit int) ([]ExecutionRef, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, (execution->>'workflow_id')::uuid
		FROM documents
		WHERE execution->>'status' = 'PENDING'
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		r.logger.Error("list pending executions failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	return collectExecutionRefs(rows, r.logger)
}

// ListPausedExecutions returns executions waiting on an approval, oldest
// first. The sweep walks these to catch executions whose approval reached a
// terminal status without the resume going through.
func (r *DocumentRepository) ListPausedExecutions(ctx context.Context, limit int) ([]ExecutionRef, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, (execution->>'workflow_id')::uuid
		FROM documents
		WHERE execution->>'status' = 'PAUSED_FOR_APPROVAL'
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		r.logger.Error("list paused executions failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	return collectExecutionRefs(rows, r.logger)
}

func collectExecutionRefs(rows pgx.Rows, logger *slog.Logger) ([]ExecutionRef, error) {
	var refs []ExecutionRef
	for rows.Next() {
		var ref ExecutionRef
		if err := rows.Scan(&ref.DocumentID, &ref.WorkflowID); err != nil {
			logger.Error("scan execution ref failed", "error", err)
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		logger.Error("execution ref rows failed", "error", err)
		return nil, err
	}
	return refs, nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		doc       domain.Document
		statsRaw  []byte
		fieldsRaw []byte
		execRaw   []byte
	)
	if err := row.Scan(
		&doc.ID, &doc.StorageKey, &doc.Filename, &doc.MimeType, &doc.SizeBytes, &doc.Status,
		&doc.ExtractedText, &statsRaw, &fieldsRaw, &execRaw,
		&doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(statsRaw) > 0 {
		doc.ExtractionStats = &domain.ExtractionStats{}
		if err := json.Unmarshal(statsRaw, doc.ExtractionStats); err != nil {
			return nil, fmt.Errorf("decode extraction stats: %w", err)
		}
	}
	if len(fieldsRaw) > 0 {
		if err := json.Unmarshal(fieldsRaw, &doc.StructuredFields); err != nil {
			return nil, fmt.Errorf("decode structured fields: %w", err)
		}
	}
	if len(execRaw) > 0 {
		doc.Execution = &domain.WorkflowExecutionState{}
		if err := json.Unmarshal(execRaw, doc.Execution); err != nil {
			return nil, fmt.Errorf("decode execution state: %w", err)
		}
	}
	return &doc, nil
}
