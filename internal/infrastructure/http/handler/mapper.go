package handler

import (
	"time"

	"github.com/rezkam/taskstream/internal/application/scheduler"
	"github.com/rezkam/taskstream/internal/domain"
)

// taskJSON is the wire representation of a task.
type taskJSON struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Completed    bool       `json:"completed"`
	Priority     string     `json:"priority"`
	Tags         []string   `json:"tags"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	RecurrenceID *string    `json:"recurrence_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// reminderJSON is the wire representation of a reminder.
type reminderJSON struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id"`
	RemindAt       time.Time  `json:"remind_at"`
	Status         string     `json:"status"`
	DeliveryMethod string     `json:"delivery_method"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

// taskPageJSON is one page of list results.
type taskPageJSON struct {
	Tasks      []taskJSON `json:"tasks"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// deadJobJSON is the operator view of a dead scheduled job.
type deadJobJSON struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	DueAt     time.Time `json:"due_at"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toTaskJSON(t *domain.Task) taskJSON {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return taskJSON{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Completed:    t.Completed,
		Priority:     string(t.Priority),
		Tags:         tags,
		DueAt:        t.DueAt,
		RecurrenceID: t.RecurrenceID,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func toReminderJSON(rem *domain.Reminder) reminderJSON {
	return reminderJSON{
		ID:             rem.ID,
		TaskID:         rem.TaskID,
		RemindAt:       rem.RemindAt,
		Status:         string(rem.Status),
		DeliveryMethod: rem.DeliveryMethod,
		SentAt:         rem.SentAt,
	}
}

func toTaskPageJSON(page *domain.TaskPage) taskPageJSON {
	out := taskPageJSON{
		Tasks:      make([]taskJSON, len(page.Tasks)),
		NextCursor: page.NextCursor,
	}
	for i, t := range page.Tasks {
		out.Tasks[i] = toTaskJSON(t)
	}
	return out
}

func toDeadJobJSON(jobs []*scheduler.Job) []deadJobJSON {
	out := make([]deadJobJSON, len(jobs))
	for i, j := range jobs {
		out[i] = deadJobJSON{
			ID:        j.ID,
			Kind:      j.Kind,
			DueAt:     j.DueAt,
			Attempts:  j.Attempts,
			LastError: j.LastError,
			CreatedAt: j.CreatedAt,
		}
	}
	return out
}
