package notification

import (
	"context"
	"time"

	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

// Repository is the storage surface behind the notifier. Reminder and task
// lookups here are unscoped by user: the notifier is an internal component
// acting on rows referenced by durable jobs, not on caller input.
type Repository interface {
	// Atomic executes fn inside a database transaction.
	Atomic(ctx context.Context, fn func(Repository) error) error

	// GetReminder loads a reminder by ID.
	// Returns domain.ErrReminderNotFound when absent.
	GetReminder(ctx context.Context, reminderID string) (*domain.Reminder, error)

	// GetTaskByID loads a task by primary key.
	// Returns domain.ErrTaskNotFound when absent.
	GetTaskByID(ctx context.Context, taskID string) (*domain.Task, error)

	// MarkReminderSent sets status = sent with the given timestamp.
	MarkReminderSent(ctx context.Context, reminderID string, sentAt time.Time) error

	// MarkReminderFailed sets the terminal failed status.
	MarkReminderFailed(ctx context.Context, reminderID string) error

	// IncrementReminderRetry bumps retry_count and returns the new value.
	IncrementReminderRetry(ctx context.Context, reminderID string) (int, error)

	// InsertAuditEntry appends one audit row.
	InsertAuditEntry(ctx context.Context, e *domain.AuditLogEntry) error

	// EnqueueOutbox stages an envelope in the current transaction.
	EnqueueOutbox(ctx context.Context, topic string, env *event.Envelope) (int64, error)

	// MarkDelivered stamps outbox rows published directly.
	MarkDelivered(ctx context.Context, ids []int64) error
}
