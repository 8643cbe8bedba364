package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/taskstream/internal/domain"
)

// InsertReminder persists a new reminder row.
func (s *Store) InsertReminder(ctx context.Context, r *domain.Reminder) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO reminders (id, task_id, user_id, remind_at, status, delivery_method, retry_count, created_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.TaskID, r.UserID, r.RemindAt, string(r.Status), r.DeliveryMethod,
		r.RetryCount, r.CreatedAt, r.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert reminder: %w", mapError(err))
	}
	return nil
}

// GetReminder loads a reminder by ID.
func (s *Store) GetReminder(ctx context.Context, reminderID string) (*domain.Reminder, error) {
	var r domain.Reminder
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT id, task_id, user_id, remind_at, status, delivery_method, retry_count, created_at, sent_at
		FROM reminders WHERE id = $1`, reminderID).
		Scan(&r.ID, &r.TaskID, &r.UserID, &r.RemindAt, &status, &r.DeliveryMethod,
			&r.RetryCount, &r.CreatedAt, &r.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrReminderNotFound, reminderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", mapError(err))
	}
	r.Status = domain.ReminderStatus(status)
	return &r, nil
}

// MarkReminderSent moves pending → sent. The status guard in the WHERE
// clause keeps the transition monotonic under concurrent firings.
func (s *Store) MarkReminderSent(ctx context.Context, reminderID string, sentAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'sent', sent_at = $2
		WHERE id = $1 AND status = 'pending'`, reminderID, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", mapError(err))
	}
	return checkRowsAffected(tag.RowsAffected(), domain.ErrReminderNotFound, reminderID)
}

// MarkReminderFailed moves pending → failed.
func (s *Store) MarkReminderFailed(ctx context.Context, reminderID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'failed'
		WHERE id = $1 AND status = 'pending'`, reminderID)
	if err != nil {
		return fmt.Errorf("failed to mark reminder failed: %w", mapError(err))
	}
	return checkRowsAffected(tag.RowsAffected(), domain.ErrReminderNotFound, reminderID)
}

// IncrementReminderRetry bumps retry_count and returns the new value.
func (s *Store) IncrementReminderRetry(ctx context.Context, reminderID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		UPDATE reminders SET retry_count = retry_count + 1
		WHERE id = $1 RETURNING retry_count`, reminderID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", domain.ErrReminderNotFound, reminderID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment reminder retry: %w", mapError(err))
	}
	return count, nil
}
