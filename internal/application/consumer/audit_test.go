package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

type mockAuditStore struct {
	entries []*domain.AuditLogEntry
	err     error
}

func (m *mockAuditStore) InsertAuditEntry(_ context.Context, e *domain.AuditLogEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func taskMessage(t *testing.T, typ event.Type, task *domain.Task) bus.Message {
	t.Helper()
	env, err := event.NewTaskEvent(typ, task, nil)
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)
	return bus.Message{Topic: event.TopicTaskEvents, Key: task.UserID, Value: raw}
}

func TestAuditWritesOneRowPerEvent(t *testing.T) {
	store := &mockAuditStore{}
	a := NewAudit(store)

	task := &domain.Task{ID: "task-1", UserID: "user-1", Title: "t", CreatedAt: time.Now().UTC()}
	require.NoError(t, a.Handle(context.Background(), taskMessage(t, event.TypeTaskCreated, task)))

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "task.created", entry.EventType)
	assert.Equal(t, "user-1", entry.UserID)
	require.NotNil(t, entry.TaskID)
	assert.Equal(t, "task-1", *entry.TaskID)
	assert.NotEmpty(t, entry.EventID)
	assert.Contains(t, entry.Details, "task")
}

func TestAuditDuplicateDeliveryAcks(t *testing.T) {
	store := &mockAuditStore{err: domain.ErrConflict}
	a := NewAudit(store)

	task := &domain.Task{ID: "task-1", UserID: "user-1", Title: "t"}
	err := a.Handle(context.Background(), taskMessage(t, event.TypeTaskCreated, task))
	assert.NoError(t, err, "duplicate event_id must be treated as success")
}

func TestAuditTransientStoreErrorRedelivers(t *testing.T) {
	store := &mockAuditStore{err: domain.ErrUnavailable}
	a := NewAudit(store)

	task := &domain.Task{ID: "task-1", UserID: "user-1", Title: "t"}
	err := a.Handle(context.Background(), taskMessage(t, event.TypeTaskCreated, task))
	assert.Error(t, err, "store outages must trigger redelivery")
}

func TestAuditDropsIncompatibleSchema(t *testing.T) {
	store := &mockAuditStore{}
	a := NewAudit(store)

	msg := bus.Message{
		Topic: event.TopicTaskEvents,
		Key:   "user-1",
		Value: []byte(`{"event_type":"task.created","event_id":"x","user_id":"user-1","schema_version":"2.0.0"}`),
	}
	require.NoError(t, a.Handle(context.Background(), msg), "poison messages must ack, not wedge the partition")
	assert.Empty(t, store.entries)
}

func TestAuditDropsGarbage(t *testing.T) {
	store := &mockAuditStore{}
	a := NewAudit(store)

	msg := bus.Message{Topic: event.TopicTaskEvents, Value: []byte("not json")}
	require.NoError(t, a.Handle(context.Background(), msg))
	assert.Empty(t, store.entries)
}
