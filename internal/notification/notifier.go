package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/rezkam/taskstream/internal/application/scheduler"
	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

// FirePayload is the scheduled job payload for a reminder delivery.
type FirePayload struct {
	ReminderID string `json:"reminder_id"`
}

// Notifier fires due reminders. It is registered as the handler for
// scheduler.KindReminderFire.
//
// Firing is idempotent: a reminder that already left pending completes the
// job without effect, so redelivered or reclaimed jobs are harmless.
type Notifier struct {
	repo Repository
	sink Sink
	pub  bus.Publisher
	now  func() time.Time
}

// NewNotifier wires the notifier to its storage, sink, and publisher.
func NewNotifier(repo Repository, sink Sink, pub bus.Publisher) *Notifier {
	return &Notifier{
		repo: repo,
		sink: sink,
		pub:  pub,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// HandleJob is the scheduler handler for reminder delivery.
func (n *Notifier) HandleJob(ctx context.Context, job *scheduler.Job) error {
	var payload FirePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed reminder job payload: %w", err)
	}
	return n.Fire(ctx, payload.ReminderID)
}

// Fire delivers one reminder, applying the moot-skip and retry rules.
func (n *Notifier) Fire(ctx context.Context, reminderID string) error {
	rem, err := n.repo.GetReminder(ctx, reminderID)
	if errors.Is(err, domain.ErrReminderNotFound) {
		// The task's deletion cascaded to the reminder after the job was
		// scheduled. Nothing to deliver.
		return scheduler.Discard{Reason: "reminder no longer exists"}
	}
	if err != nil {
		return scheduler.Transient(err)
	}
	if rem.Status != domain.ReminderPending {
		slog.InfoContext(ctx, "reminder already handled", "reminder_id", reminderID, "status", rem.Status)
		return nil
	}

	task, err := n.repo.GetTaskByID(ctx, rem.TaskID)
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return scheduler.Transient(err)
	}

	// The reminder is moot when its task vanished or was completed before
	// it fired. It is resolved as sent, not failed: the user no longer
	// needs to hear about it.
	if err != nil || task.Completed {
		return n.resolveSkipped(ctx, rem)
	}

	if err := n.sink.Deliver(ctx, Payload{
		ReminderID: rem.ID,
		UserID:     rem.UserID,
		RemindAt:   rem.RemindAt,
		Task:       event.Snapshot(task),
	}); err != nil {
		return n.handleDeliveryFailure(ctx, rem, err)
	}

	return n.resolveSent(ctx, rem)
}

func (n *Notifier) resolveSent(ctx context.Context, rem *domain.Reminder) error {
	sentAt := n.now()
	rem.Status = domain.ReminderSent
	rem.SentAt = &sentAt

	env, err := event.NewReminderEvent(event.TypeReminderSent, rem, "")
	if err != nil {
		return err
	}

	var outboxID int64
	err = n.repo.Atomic(ctx, func(r Repository) error {
		if err := r.MarkReminderSent(ctx, rem.ID, sentAt); err != nil {
			return err
		}
		outboxID, err = r.EnqueueOutbox(ctx, event.TopicReminders, env)
		return err
	})
	if err != nil {
		return scheduler.Transient(err)
	}

	n.publish(ctx, outboxID, env)
	slog.InfoContext(ctx, "reminder delivered", "reminder_id", rem.ID, "user_id", rem.UserID)
	return nil
}

func (n *Notifier) resolveSkipped(ctx context.Context, rem *domain.Reminder) error {
	sentAt := n.now()
	rem.Status = domain.ReminderSent
	rem.SentAt = &sentAt

	env, err := event.NewReminderEvent(event.TypeReminderSkipped, rem, "")
	if err != nil {
		return err
	}

	var outboxID int64
	err = n.repo.Atomic(ctx, func(r Repository) error {
		if err := r.MarkReminderSent(ctx, rem.ID, sentAt); err != nil {
			return err
		}
		outboxID, err = r.EnqueueOutbox(ctx, event.TopicReminders, env)
		return err
	})
	if err != nil {
		return scheduler.Transient(err)
	}

	n.publish(ctx, outboxID, env)
	slog.InfoContext(ctx, "reminder skipped", "reminder_id", rem.ID, "user_id", rem.UserID)
	return nil
}

// handleDeliveryFailure applies the retry ceiling: below the ceiling the job
// is rescheduled, at it the reminder goes terminally failed with an audit
// entry.
func (n *Notifier) handleDeliveryFailure(ctx context.Context, rem *domain.Reminder, cause error) error {
	count, err := n.repo.IncrementReminderRetry(ctx, rem.ID)
	if err != nil {
		return scheduler.Transient(err)
	}

	if count < domain.MaxReminderRetries {
		slog.WarnContext(ctx, "reminder delivery failed, will retry",
			"reminder_id", rem.ID, "retry_count", count, "error", cause)
		return scheduler.Transient(cause)
	}

	rem.Status = domain.ReminderFailed
	env, envErr := event.NewReminderEvent(event.TypeReminderFailed, rem, cause.Error())
	if envErr != nil {
		return envErr
	}

	auditID, idErr := uuid.NewV7()
	if idErr != nil {
		return fmt.Errorf("failed to generate id: %w", idErr)
	}
	taskID := rem.TaskID
	entry := &domain.AuditLogEntry{
		ID:        auditID.String(),
		EventID:   env.ID,
		EventType: string(event.TypeReminderFailed),
		UserID:    rem.UserID,
		TaskID:    &taskID,
		Details: map[string]any{
			"reminder_id":   rem.ID,
			"retry_count":   count,
			"failure":       cause.Error(),
			"reminder_time": rem.RemindAt,
		},
		Timestamp: n.now(),
	}

	var outboxID int64
	err = n.repo.Atomic(ctx, func(r Repository) error {
		if err := r.MarkReminderFailed(ctx, rem.ID); err != nil {
			return err
		}
		if err := r.InsertAuditEntry(ctx, entry); err != nil {
			return err
		}
		var aErr error
		outboxID, aErr = r.EnqueueOutbox(ctx, event.TopicReminders, env)
		return aErr
	})
	if err != nil {
		return scheduler.Transient(err)
	}

	n.publish(ctx, outboxID, env)
	slog.ErrorContext(ctx, "reminder terminally failed",
		"reminder_id", rem.ID, "retry_count", count, "error", cause)
	return nil
}

// publish attempts a direct publish of the committed envelope; undelivered
// rows stay for the sweeper.
func (n *Notifier) publish(ctx context.Context, outboxID int64, env *event.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode envelope, leaving to sweeper",
			"event_id", env.ID, "error", err)
		return
	}

	backoff := retry.WithJitterPercent(20,
		retry.WithMaxRetries(4, retry.NewExponential(100*time.Millisecond)))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := n.pub.Publish(ctx, event.TopicReminders, env.UserID, raw); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "direct publish failed, event handed to outbox",
			"event_id", env.ID, "event_type", env.Type, "error", err)
		return
	}

	if err := n.repo.MarkDelivered(ctx, []int64{outboxID}); err != nil {
		slog.WarnContext(ctx, "failed to mark outbox row delivered", "error", err)
	}
}
