package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/taskstream/internal/application/scheduler"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

type mockRepo struct {
	reminder  *domain.Reminder
	task      *domain.Task
	retries   int
	sentAt    *time.Time
	failed    bool
	audited   []*domain.AuditLogEntry
	enqueued  []*event.Envelope
	delivered []int64
}

func (m *mockRepo) Atomic(ctx context.Context, fn func(Repository) error) error {
	return fn(m)
}

func (m *mockRepo) GetReminder(_ context.Context, id string) (*domain.Reminder, error) {
	if m.reminder == nil || m.reminder.ID != id {
		return nil, domain.ErrReminderNotFound
	}
	cp := *m.reminder
	return &cp, nil
}

func (m *mockRepo) GetTaskByID(_ context.Context, id string) (*domain.Task, error) {
	if m.task == nil || m.task.ID != id {
		return nil, domain.ErrTaskNotFound
	}
	cp := *m.task
	return &cp, nil
}

func (m *mockRepo) MarkReminderSent(_ context.Context, _ string, sentAt time.Time) error {
	m.sentAt = &sentAt
	m.reminder.Status = domain.ReminderSent
	return nil
}

func (m *mockRepo) MarkReminderFailed(_ context.Context, _ string) error {
	m.failed = true
	m.reminder.Status = domain.ReminderFailed
	return nil
}

func (m *mockRepo) IncrementReminderRetry(_ context.Context, _ string) (int, error) {
	m.retries++
	m.reminder.RetryCount = m.retries
	return m.retries, nil
}

func (m *mockRepo) InsertAuditEntry(_ context.Context, e *domain.AuditLogEntry) error {
	m.audited = append(m.audited, e)
	return nil
}

func (m *mockRepo) EnqueueOutbox(_ context.Context, _ string, env *event.Envelope) (int64, error) {
	m.enqueued = append(m.enqueued, env)
	return int64(len(m.enqueued)), nil
}

func (m *mockRepo) MarkDelivered(_ context.Context, ids []int64) error {
	m.delivered = append(m.delivered, ids...)
	return nil
}

type mockSink struct {
	calls int
	err   error
}

func (s *mockSink) Deliver(_ context.Context, _ Payload) error {
	s.calls++
	return s.err
}

type nopPublisher struct{ published []*event.Envelope }

func (p *nopPublisher) Publish(_ context.Context, _ string, _ string, value []byte) error {
	env, err := event.Decode(value)
	if err != nil {
		return err
	}
	p.published = append(p.published, env)
	return nil
}

func (p *nopPublisher) Close() error { return nil }

func pendingReminder() *domain.Reminder {
	return &domain.Reminder{
		ID:             "rem-1",
		TaskID:         "task-1",
		UserID:         "user-1",
		RemindAt:       time.Now().UTC(),
		Status:         domain.ReminderPending,
		DeliveryMethod: domain.DefaultDeliveryMethod,
	}
}

func openTask() *domain.Task {
	return &domain.Task{ID: "task-1", UserID: "user-1", Title: "t"}
}

func TestFireDeliversAndMarksSent(t *testing.T) {
	repo := &mockRepo{reminder: pendingReminder(), task: openTask()}
	sink := &mockSink{}
	pub := &nopPublisher{}
	n := NewNotifier(repo, sink, pub)

	require.NoError(t, n.Fire(context.Background(), "rem-1"))

	assert.Equal(t, 1, sink.calls)
	require.NotNil(t, repo.sentAt)
	assert.Equal(t, domain.ReminderSent, repo.reminder.Status)
	require.Len(t, pub.published, 1)
	assert.Equal(t, event.TypeReminderSent, pub.published[0].Type)
	assert.Equal(t, []int64{1}, repo.delivered)
}

func TestFireSkipsCompletedTask(t *testing.T) {
	task := openTask()
	task.Completed = true
	repo := &mockRepo{reminder: pendingReminder(), task: task}
	sink := &mockSink{}
	pub := &nopPublisher{}
	n := NewNotifier(repo, sink, pub)

	require.NoError(t, n.Fire(context.Background(), "rem-1"))

	assert.Zero(t, sink.calls, "sink must not be called for a moot reminder")
	assert.Equal(t, domain.ReminderSent, repo.reminder.Status, "moot resolves as sent, not failed")
	require.NotNil(t, repo.sentAt)
	require.Len(t, pub.published, 1)
	assert.Equal(t, event.TypeReminderSkipped, pub.published[0].Type)
}

func TestFireSkipsMissingTask(t *testing.T) {
	repo := &mockRepo{reminder: pendingReminder()} // no task
	sink := &mockSink{}
	pub := &nopPublisher{}
	n := NewNotifier(repo, sink, pub)

	require.NoError(t, n.Fire(context.Background(), "rem-1"))
	assert.Zero(t, sink.calls)
	require.Len(t, pub.published, 1)
	assert.Equal(t, event.TypeReminderSkipped, pub.published[0].Type)
}

func TestFireAlreadyHandledIsIdempotent(t *testing.T) {
	rem := pendingReminder()
	rem.Status = domain.ReminderSent
	repo := &mockRepo{reminder: rem, task: openTask()}
	sink := &mockSink{}
	n := NewNotifier(repo, sink, &nopPublisher{})

	require.NoError(t, n.Fire(context.Background(), "rem-1"))
	assert.Zero(t, sink.calls)
	assert.Empty(t, repo.enqueued)
}

func TestFireMissingReminderDiscardsJob(t *testing.T) {
	n := NewNotifier(&mockRepo{}, &mockSink{}, &nopPublisher{})
	err := n.Fire(context.Background(), "rem-1")
	assert.True(t, scheduler.IsDiscard(err))
}

func TestFireDeliveryFailureBelowCeilingIsRetryable(t *testing.T) {
	repo := &mockRepo{reminder: pendingReminder(), task: openTask()}
	sink := &mockSink{err: errors.New("webhook timeout")}
	n := NewNotifier(repo, sink, &nopPublisher{})

	err := n.Fire(context.Background(), "rem-1")
	require.Error(t, err)
	assert.True(t, scheduler.IsRetryable(err))
	assert.Equal(t, 1, repo.retries)
	assert.False(t, repo.failed)
}

func TestFireExhaustedRetriesGoTerminal(t *testing.T) {
	repo := &mockRepo{reminder: pendingReminder(), task: openTask()}
	repo.retries = domain.MaxReminderRetries - 1 // next failure reaches the ceiling
	sink := &mockSink{err: errors.New("webhook down")}
	pub := &nopPublisher{}
	n := NewNotifier(repo, sink, pub)

	require.NoError(t, n.Fire(context.Background(), "rem-1"), "terminal failure completes the job")
	assert.True(t, repo.failed)
	assert.Equal(t, domain.ReminderFailed, repo.reminder.Status)

	require.Len(t, pub.published, 1)
	assert.Equal(t, event.TypeReminderFailed, pub.published[0].Type)
	payload, err := pub.published[0].ReminderPayload()
	require.NoError(t, err)
	assert.Equal(t, "webhook down", payload.FailureReason)

	require.Len(t, repo.audited, 1)
	assert.Equal(t, string(event.TypeReminderFailed), repo.audited[0].EventType)
	assert.Equal(t, pub.published[0].ID, repo.audited[0].EventID)
}

func TestHandleJobDecodesPayload(t *testing.T) {
	repo := &mockRepo{reminder: pendingReminder(), task: openTask()}
	n := NewNotifier(repo, &mockSink{}, &nopPublisher{})

	payload, err := json.Marshal(FirePayload{ReminderID: "rem-1"})
	require.NoError(t, err)

	job := &scheduler.Job{ID: "j1", Kind: scheduler.KindReminderFire, Payload: payload}
	require.NoError(t, n.HandleJob(context.Background(), job))
	assert.Equal(t, domain.ReminderSent, repo.reminder.Status)
}

func TestHandleJobMalformedPayloadIsPermanent(t *testing.T) {
	n := NewNotifier(&mockRepo{}, &mockSink{}, &nopPublisher{})
	job := &scheduler.Job{ID: "j1", Kind: scheduler.KindReminderFire, Payload: []byte("not json")}
	err := n.HandleJob(context.Background(), job)
	require.Error(t, err)
	assert.False(t, scheduler.IsRetryable(err))
}
