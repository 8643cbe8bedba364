package domain

import "time"

// Task is a user's todo item. All timestamps are absolute UTC.
//
// The UserID scopes every operation: a task is invisible to any other user,
// and repository lookups treat a mismatched UserID as not found.
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description *string
	Completed   bool
	Priority    Priority
	Tags        []string

	// DueAt is optional. When set at creation it must be strictly in the
	// future; the recurring generator is the only writer allowed to set it
	// on an already-materialised chain.
	DueAt *time.Time

	// RecurrenceID links the task to its RecurrenceRule. Nil for one-off
	// tasks and for descendants whose rule was deleted.
	RecurrenceID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecurrenceRule describes how a task repeats.
//
// Metadata freezes the template attributes (title, description, priority,
// tags) at creation time. Generated instances are built from this snapshot,
// so later edits to the template task never silently mutate future instances.
type RecurrenceRule struct {
	ID       string
	TaskID   string // the template task
	UserID   string
	Pattern  RecurrencePattern
	Interval int
	Metadata RuleMetadata
	CreatedAt time.Time
}

// RuleMetadata is the captured template snapshot copied onto each generated
// instance. Stored as JSONB.
type RuleMetadata struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Priority    Priority `json:"priority"`
	Tags        []string `json:"tags,omitempty"`
}

// Reminder is a scheduled future notification about a task.
type Reminder struct {
	ID             string
	TaskID         string
	UserID         string
	RemindAt       time.Time
	Status         ReminderStatus
	DeliveryMethod string
	RetryCount     int
	CreatedAt      time.Time
	SentAt         *time.Time
}

// AuditLogEntry is an immutable change record. The table is append-only;
// no update or delete path exists in the API surface (the archiver's
// post-export trim is the only sanctioned removal).
type AuditLogEntry struct {
	ID        string
	EventID   string
	EventType string
	UserID    string
	TaskID    *string
	Details   map[string]any
	Timestamp time.Time
}

// Priority orders tasks by urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RecurrencePattern is the closed set of supported repeat cadences.
type RecurrencePattern string

const (
	RecurrenceDaily   RecurrencePattern = "daily"
	RecurrenceWeekly  RecurrencePattern = "weekly"
	RecurrenceMonthly RecurrencePattern = "monthly"
)

// ReminderStatus moves pending → sent or pending → failed, never backward.
type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderSent    ReminderStatus = "sent"
	ReminderFailed  ReminderStatus = "failed"
)

// DefaultDeliveryMethod is used when a reminder does not name a transport.
const DefaultDeliveryMethod = "webhook"

// MaxReminderRetries is the terminal retry ceiling for reminder delivery.
const MaxReminderRetries = 3
