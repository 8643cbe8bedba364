package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/taskstream/internal/application/scheduler"
	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
	"github.com/rezkam/taskstream/internal/notification"
)

// JobEnqueuer is the slice of the job repository the scheduler consumer uses.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *scheduler.Job) error
}

// ReminderScheduler converts reminder.created events into durable scheduled
// jobs. The dedup key guarantees one firing job per reminder no matter how
// many times the creation event is delivered.
type ReminderScheduler struct {
	jobs JobEnqueuer
	now  func() time.Time
}

// NewReminderScheduler creates the scheduling half of the notification
// service.
func NewReminderScheduler(jobs JobEnqueuer) *ReminderScheduler {
	return &ReminderScheduler{
		jobs: jobs,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Handle is the bus handler for the reminders topic. Only reminder.created
// schedules work; sent/skipped/failed are outcomes and ack immediately.
func (s *ReminderScheduler) Handle(ctx context.Context, msg bus.Message) error {
	env, err := event.Decode(msg.Value)
	if err != nil {
		slog.ErrorContext(ctx, "dropping undecodable reminder message",
			"topic", msg.Topic, "error", err)
		return nil
	}
	if env.Type != event.TypeReminderCreated {
		return nil
	}

	payload, err := env.ReminderPayload()
	if err != nil {
		slog.ErrorContext(ctx, "dropping reminder event with bad payload",
			"event_id", env.ID, "error", err)
		return nil
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate id: %w", err)
	}
	firePayload, err := json.Marshal(notification.FirePayload{ReminderID: payload.ReminderID})
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	dedup := scheduler.ReminderDedupKey(payload.ReminderID)
	job := &scheduler.Job{
		ID:       jobID.String(),
		Kind:     scheduler.KindReminderFire,
		DedupKey: &dedup,
		Payload:  firePayload,
		DueAt:    payload.RemindAt,
		State:    scheduler.StatePending,
	}

	if err := s.jobs.Enqueue(ctx, job); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.InfoContext(ctx, "reminder job already scheduled",
				"reminder_id", payload.ReminderID)
			return nil
		}
		return fmt.Errorf("failed to enqueue reminder job: %w", err)
	}

	slog.InfoContext(ctx, "scheduled reminder firing",
		"reminder_id", payload.ReminderID, "due_time", payload.RemindAt)
	return nil
}
