package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rezkam/taskstream/internal/domain"
)

// InsertAuditEntry appends one audit row. The unique index on event_id turns
// a duplicate delivery into ErrConflict, which consumers treat as success.
func (s *Store) InsertAuditEntry(ctx context.Context, e *domain.AuditLogEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (id, event_id, event_type, user_id, task_id, details, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.EventID, e.EventType, e.UserID, e.TaskID, e.Details, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", mapError(err))
	}
	return nil
}

// ListAuditEntriesBefore returns audit rows older than the cutoff in
// timestamp order; the archiver's export scan.
func (s *Store) ListAuditEntriesBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_id, event_type, user_id, task_id, details, ts
		FROM audit_log WHERE ts < $1
		ORDER BY ts ASC, id ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", mapError(err))
	}
	defer rows.Close()

	var entries []*domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.UserID, &e.TaskID, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", mapError(err))
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit rows: %w", mapError(err))
	}
	return entries, nil
}

// DeleteAuditEntries removes the given rows after a successful export. This
// is the only sanctioned removal path for the append-only table.
func (s *Store) DeleteAuditEntries(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM audit_log WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}
