package domain

import "time"

// CreateTaskParams are the recognised inputs for creating a task.
// The option set is closed: unknown fields are a transport-level error.
type CreateTaskParams struct {
	Title       string
	Description *string
	Priority    Priority
	Tags        []string
	DueAt       *time.Time

	// Recurrence, when set, creates a RecurrenceRule alongside the task.
	Recurrence *RecurrenceInput

	// Reminders to schedule at creation. Each RemindAt must be in the
	// future and not after DueAt.
	Reminders []ReminderInput
}

// RecurrenceInput describes a recurrence rule to create with a task.
type RecurrenceInput struct {
	Pattern  RecurrencePattern
	Interval int
}

// ReminderInput describes a reminder to create with a task.
type ReminderInput struct {
	RemindAt       time.Time
	DeliveryMethod string
}

// UpdateTaskParams carries a partial task update. Nil fields are untouched.
type UpdateTaskParams struct {
	Title       *string
	Description *string
	Priority    *Priority
	Tags        *[]string
	DueAt       *time.Time

	// ClearDueAt removes the due date. Mutually exclusive with DueAt.
	ClearDueAt bool

	// ClearDescription removes the description. Mutually exclusive with
	// Description.
	ClearDescription bool
}

// IsEmpty reports whether the patch modifies nothing.
func (p UpdateTaskParams) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Tags == nil && p.DueAt == nil && !p.ClearDueAt && !p.ClearDescription
}

// TaskStatusFilter narrows list results by completion state.
type TaskStatusFilter string

const (
	StatusFilterAll       TaskStatusFilter = ""
	StatusFilterPending   TaskStatusFilter = "pending"
	StatusFilterCompleted TaskStatusFilter = "completed"
)

// ListTasksParams contains filters, sorting, and pagination for task listing.
//
// Common use cases:
//   - "My overdue tasks": DueBefore=now(), SortBy="due_at"
//   - "High priority open work": Priority=high, Status=pending
//   - Cursor pagination: Limit=50, Cursor from the previous page
type ListTasksParams struct {
	Status    TaskStatusFilter
	Priority  *Priority
	Tag       *string    // matches case-insensitively against the tag list
	DueBefore *time.Time
	DueAfter  *time.Time

	// SortBy: "created_at" (default), "due_at", or "priority".
	// Order is always descending for created_at, ascending otherwise.
	SortBy string

	Limit  int
	Cursor string // opaque keyset cursor from a previous page
}

// TaskPage is one page of list results.
type TaskPage struct {
	Tasks      []*Task
	NextCursor string // empty when there are no more pages
}
