package postgres

import (
	"context"
	"fmt"

	"github.com/rezkam/taskstream/internal/application/outbox"
	"github.com/rezkam/taskstream/internal/event"
)

// EnqueueOutbox stages an envelope for publication in the caller's
// transaction and returns the assigned row ID.
func (s *Store) EnqueueOutbox(ctx context.Context, topic string, env *event.Envelope) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO outbox (user_id, topic, envelope_json, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id`, env.UserID, topic, env).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue outbox row: %w", mapError(err))
	}
	return id, nil
}

// MarkDelivered stamps outbox rows that were published.
func (s *Store) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE outbox SET delivered_at = now()
		WHERE id = ANY($1) AND delivered_at IS NULL`, ids)
	if err != nil {
		return fmt.Errorf("failed to mark outbox rows delivered: %w", mapError(err))
	}
	return nil
}

// ListUndelivered returns undelivered entries ordered by (user_id, id), the
// per-user FIFO the sweeper relies on.
func (s *Store) ListUndelivered(ctx context.Context, limit int) ([]outbox.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, topic, envelope_json, created_at
		FROM outbox WHERE delivered_at IS NULL
		ORDER BY user_id ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered outbox rows: %w", mapError(err))
	}
	defer rows.Close()

	var entries []outbox.Entry
	for rows.Next() {
		var e outbox.Entry
		e.Envelope = &event.Envelope{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Topic, e.Envelope, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", mapError(err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox rows: %w", mapError(err))
	}
	return entries, nil
}
