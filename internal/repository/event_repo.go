// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchley/docflow/internal/domain"
)

// EventRepository appends to and reads the per-document audit log. The seq
// column is a bigserial so readers can page with an after-cursor without
// relying on timestamps.
type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *EventRepository) AppendEvent(ctx context.Context, documentID uuid.UUID, eventType string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO events (id, document_id, type, payload) VALUES ($1, $2, $3, $4)`,
		uuid.New(), documentID, eventType, raw,
	)
	if err != nil {
		r.logger.Error("insert event failed",
			"document_id", documentID,
			"type", eventType,
			"error", err,
		)
		return err
	}
	return nil
}

// ListEventsAfter returns events for a document with seq greater than
// afterSeq, in append order. Pass 0 to read from the beginning.
func (r *EventRepository) ListEventsAfter(ctx context.Context, documentID uuid.UUID, afterSeq int64, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, seq, document_id, type, payload, created_at
		FROM events
		WHERE document_id=$1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, documentID, afterSeq, limit)
	if err != nil {
		r.logger.Error("list events failed", "document_id", documentID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.DocumentID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			r.logger.Error("scan event failed", "error", err)
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("list events rows failed", "error", err)
		return nil, err
	}
	return out, nil
}
