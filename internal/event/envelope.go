// Package event defines the wire envelope shared by every topic, the typed
// payload variants, and the schema version compatibility policy.
//
// The envelope is a tagged variant: Type discriminates, and the payload is
// decoded per variant via TaskPayload or ReminderPayload. Consumers dispatch
// on Type, never by inspecting the raw payload.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/taskstream/internal/domain"
)

// Topic names. The partition key on every topic is the user ID, which gives
// per-user ordering within a consumer group.
const (
	TopicTaskEvents  = "task-events"
	TopicReminders   = "reminders"
	TopicTaskUpdates = "task-updates"
)

// Type is the reverse-dotted event discriminant.
type Type string

const (
	TypeTaskCreated   Type = "task.created"
	TypeTaskUpdated   Type = "task.updated"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskDeleted   Type = "task.deleted"

	TypeReminderCreated Type = "reminder.created"
	TypeReminderSent    Type = "reminder.sent"
	TypeReminderSkipped Type = "reminder.skipped"
	TypeReminderFailed  Type = "reminder.failed"
)

// Envelope is the wire record carried on every topic.
//
// Unknown JSON fields are ignored on decode (forward compatibility); the
// schema version gate is the only rejection path.
type Envelope struct {
	Type          Type            `json:"event_type"`
	ID            string          `json:"event_id"`
	TaskID        *string         `json:"task_id"`
	UserID        string          `json:"user_id"`
	Data          json.RawMessage `json:"task_data"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
}

// TaskData is the payload for every task.* variant.
// ChangedFields is populated only for task.updated.
type TaskData struct {
	Task          TaskSnapshot `json:"task"`
	ChangedFields []string     `json:"changed_fields,omitempty"`
}

// ReminderData is the payload for every reminder.* variant.
type ReminderData struct {
	ReminderID     string     `json:"reminder_id"`
	TaskID         string     `json:"task_id"`
	UserID         string     `json:"user_id"`
	RemindAt       time.Time  `json:"reminder_time"`
	Status         string     `json:"status"`
	DeliveryMethod string     `json:"delivery_method"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// TaskSnapshot is the JSON projection of a task used in event payloads and
// live-stream frames.
type TaskSnapshot struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Completed    bool       `json:"completed"`
	Priority     string     `json:"priority"`
	Tags         []string   `json:"tags,omitempty"`
	DueAt        *time.Time `json:"due_date,omitempty"`
	RecurrenceID *string    `json:"recurrence_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Snapshot projects a domain task into its wire form.
func Snapshot(t *domain.Task) TaskSnapshot {
	return TaskSnapshot{
		ID:           t.ID,
		UserID:       t.UserID,
		Title:        t.Title,
		Description:  t.Description,
		Completed:    t.Completed,
		Priority:     string(t.Priority),
		Tags:         t.Tags,
		DueAt:        t.DueAt,
		RecurrenceID: t.RecurrenceID,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// NewTaskEvent builds an envelope for a task.* variant.
func NewTaskEvent(typ Type, task *domain.Task, changedFields []string) (*Envelope, error) {
	data, err := json.Marshal(TaskData{Task: Snapshot(task), ChangedFields: changedFields})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	id := task.ID
	return &Envelope{
		Type:          typ,
		ID:            uuid.NewString(),
		TaskID:        &id,
		UserID:        task.UserID,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
	}, nil
}

// NewReminderEvent builds an envelope for a reminder.* variant.
func NewReminderEvent(typ Type, r *domain.Reminder, failureReason string) (*Envelope, error) {
	data, err := json.Marshal(ReminderData{
		ReminderID:     r.ID,
		TaskID:         r.TaskID,
		UserID:         r.UserID,
		RemindAt:       r.RemindAt,
		Status:         string(r.Status),
		DeliveryMethod: r.DeliveryMethod,
		SentAt:         r.SentAt,
		FailureReason:  failureReason,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reminder payload: %w", err)
	}
	taskID := r.TaskID
	return &Envelope{
		Type:          typ,
		ID:            uuid.NewString(),
		TaskID:        &taskID,
		UserID:        r.UserID,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
	}, nil
}

// TaskPayload decodes the task.* variant payload.
func (e *Envelope) TaskPayload() (*TaskData, error) {
	switch e.Type {
	case TypeTaskCreated, TypeTaskUpdated, TypeTaskCompleted, TypeTaskDeleted:
	default:
		return nil, fmt.Errorf("event %s carries no task payload", e.Type)
	}
	var d TaskData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode task payload: %w", err)
	}
	return &d, nil
}

// ReminderPayload decodes the reminder.* variant payload.
func (e *Envelope) ReminderPayload() (*ReminderData, error) {
	switch e.Type {
	case TypeReminderCreated, TypeReminderSent, TypeReminderSkipped, TypeReminderFailed:
	default:
		return nil, fmt.Errorf("event %s carries no reminder payload", e.Type)
	}
	var d ReminderData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode reminder payload: %w", err)
	}
	return &d, nil
}

// Encode marshals the envelope for publishing.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope and enforces the schema version gate.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := CheckVersion(e.SchemaVersion); err != nil {
		return nil, err
	}
	return &e, nil
}
