package task

import (
	"context"

	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

// Repository defines the storage operations behind the mutation service.
// Every row-returning method scopes by user ID and reports a mismatched
// owner as not found; existence never leaks across users.
type Repository interface {
	// Atomic executes fn inside a database transaction. All writes made
	// through the Repository passed to fn commit or roll back together.
	Atomic(ctx context.Context, fn func(Repository) error) error

	// === Task rows ===

	// InsertTask persists a new task.
	// Returns domain.ErrConflict on constraint violation.
	InsertTask(ctx context.Context, t *domain.Task) error

	// GetTask loads a task by (user, id).
	// Returns domain.ErrTaskNotFound when absent or owned by another user.
	GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error)

	// GetTaskForUpdate is GetTask with a row lock; only valid inside Atomic.
	GetTaskForUpdate(ctx context.Context, userID, taskID string) (*domain.Task, error)

	// UpdateTask writes all mutable columns of the task row.
	UpdateTask(ctx context.Context, t *domain.Task) error

	// DeleteTask removes the task row. Reminders cascade; if the task is a
	// recurrence template its rule cascades, detaching descendants.
	DeleteTask(ctx context.Context, userID, taskID string) error

	// ListTasks returns one page of the user's tasks.
	ListTasks(ctx context.Context, userID string, params domain.ListTasksParams) (*domain.TaskPage, error)

	// === Recurrence ===

	// InsertRecurrenceRule persists a rule created alongside its template.
	InsertRecurrenceRule(ctx context.Context, r *domain.RecurrenceRule) error

	// GetRecurrenceRule loads a rule by ID.
	// Returns domain.ErrRuleNotFound when absent.
	GetRecurrenceRule(ctx context.Context, ruleID string) (*domain.RecurrenceRule, error)

	// PendingSiblingExists reports whether the chain already has an
	// uncompleted instance. The recurring generator's idempotency check.
	PendingSiblingExists(ctx context.Context, ruleID string) (bool, error)

	// === Reminders ===

	// InsertReminder persists a new reminder.
	InsertReminder(ctx context.Context, r *domain.Reminder) error

	// === Outbox ===

	// EnqueueOutbox stages an envelope for publication in the same
	// transaction as the business write. Returns the outbox row ID.
	EnqueueOutbox(ctx context.Context, topic string, env *event.Envelope) (int64, error)

	// MarkDelivered stamps outbox rows that were published directly.
	MarkDelivered(ctx context.Context, ids []int64) error
}
