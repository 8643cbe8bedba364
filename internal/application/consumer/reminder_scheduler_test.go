package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/taskstream/internal/application/scheduler"
	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
	"github.com/rezkam/taskstream/internal/notification"
)

type mockEnqueuer struct {
	jobs []*scheduler.Job
	err  error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, job *scheduler.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func reminderMessage(t *testing.T, typ event.Type, rem *domain.Reminder) bus.Message {
	t.Helper()
	env, err := event.NewReminderEvent(typ, rem, "")
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)
	return bus.Message{Topic: event.TopicReminders, Key: rem.UserID, Value: raw}
}

func TestReminderCreatedSchedulesJob(t *testing.T) {
	enq := &mockEnqueuer{}
	s := NewReminderScheduler(enq)

	remindAt := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	rem := &domain.Reminder{
		ID: "rem-1", TaskID: "task-1", UserID: "user-1",
		RemindAt: remindAt, Status: domain.ReminderPending,
	}
	require.NoError(t, s.Handle(context.Background(), reminderMessage(t, event.TypeReminderCreated, rem)))

	require.Len(t, enq.jobs, 1)
	job := enq.jobs[0]
	assert.Equal(t, scheduler.KindReminderFire, job.Kind)
	assert.True(t, job.DueAt.Equal(remindAt))
	require.NotNil(t, job.DedupKey)
	assert.Equal(t, "reminder:rem-1", *job.DedupKey)

	var payload notification.FirePayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "rem-1", payload.ReminderID)
}

func TestReminderOutcomeEventsAreIgnored(t *testing.T) {
	enq := &mockEnqueuer{}
	s := NewReminderScheduler(enq)

	rem := &domain.Reminder{ID: "rem-1", TaskID: "task-1", UserID: "user-1", RemindAt: time.Now().UTC()}
	for _, typ := range []event.Type{event.TypeReminderSent, event.TypeReminderSkipped, event.TypeReminderFailed} {
		require.NoError(t, s.Handle(context.Background(), reminderMessage(t, typ, rem)))
	}
	assert.Empty(t, enq.jobs)
}

func TestReminderDuplicateDeliveryAcks(t *testing.T) {
	enq := &mockEnqueuer{err: domain.ErrConflict}
	s := NewReminderScheduler(enq)

	rem := &domain.Reminder{ID: "rem-1", TaskID: "task-1", UserID: "user-1", RemindAt: time.Now().UTC()}
	err := s.Handle(context.Background(), reminderMessage(t, event.TypeReminderCreated, rem))
	assert.NoError(t, err, "dedup conflict means the job already exists")
}

func TestReminderTransientEnqueueFailureRedelivers(t *testing.T) {
	enq := &mockEnqueuer{err: domain.ErrUnavailable}
	s := NewReminderScheduler(enq)

	rem := &domain.Reminder{ID: "rem-1", TaskID: "task-1", UserID: "user-1", RemindAt: time.Now().UTC()}
	err := s.Handle(context.Background(), reminderMessage(t, event.TypeReminderCreated, rem))
	assert.Error(t, err)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	b := bus.NewMemoryBus()
	r := NewRunner(b, Subscription{
		Topic:   event.TopicTaskEvents,
		GroupID: GroupAudit,
		Handler: func(_ context.Context, _ bus.Message) error { return nil },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Run(ctx))
}
