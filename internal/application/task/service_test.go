package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

// mockRepository implements Repository with overridable behaviour per test.
type mockRepository struct {
	atomicFunc               func(ctx context.Context, fn func(Repository) error) error
	insertTaskFunc           func(ctx context.Context, t *domain.Task) error
	getTaskFunc              func(ctx context.Context, userID, taskID string) (*domain.Task, error)
	getTaskForUpdateFunc     func(ctx context.Context, userID, taskID string) (*domain.Task, error)
	updateTaskFunc           func(ctx context.Context, t *domain.Task) error
	deleteTaskFunc           func(ctx context.Context, userID, taskID string) error
	listTasksFunc            func(ctx context.Context, userID string, params domain.ListTasksParams) (*domain.TaskPage, error)
	insertRecurrenceRuleFunc func(ctx context.Context, r *domain.RecurrenceRule) error
	getRecurrenceRuleFunc    func(ctx context.Context, ruleID string) (*domain.RecurrenceRule, error)
	pendingSiblingFunc       func(ctx context.Context, ruleID string) (bool, error)
	insertReminderFunc       func(ctx context.Context, r *domain.Reminder) error
	enqueueOutboxFunc        func(ctx context.Context, topic string, env *event.Envelope) (int64, error)
	markDeliveredFunc        func(ctx context.Context, ids []int64) error
}

func (m *mockRepository) Atomic(ctx context.Context, fn func(Repository) error) error {
	if m.atomicFunc != nil {
		return m.atomicFunc(ctx, fn)
	}
	return fn(m)
}

func (m *mockRepository) InsertTask(ctx context.Context, t *domain.Task) error {
	if m.insertTaskFunc != nil {
		return m.insertTaskFunc(ctx, t)
	}
	return nil
}

func (m *mockRepository) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	if m.getTaskFunc != nil {
		return m.getTaskFunc(ctx, userID, taskID)
	}
	return nil, domain.ErrTaskNotFound
}

func (m *mockRepository) GetTaskForUpdate(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	if m.getTaskForUpdateFunc != nil {
		return m.getTaskForUpdateFunc(ctx, userID, taskID)
	}
	return nil, domain.ErrTaskNotFound
}

func (m *mockRepository) UpdateTask(ctx context.Context, t *domain.Task) error {
	if m.updateTaskFunc != nil {
		return m.updateTaskFunc(ctx, t)
	}
	return nil
}

func (m *mockRepository) DeleteTask(ctx context.Context, userID, taskID string) error {
	if m.deleteTaskFunc != nil {
		return m.deleteTaskFunc(ctx, userID, taskID)
	}
	return nil
}

func (m *mockRepository) ListTasks(ctx context.Context, userID string, params domain.ListTasksParams) (*domain.TaskPage, error) {
	if m.listTasksFunc != nil {
		return m.listTasksFunc(ctx, userID, params)
	}
	return &domain.TaskPage{}, nil
}

func (m *mockRepository) InsertRecurrenceRule(ctx context.Context, r *domain.RecurrenceRule) error {
	if m.insertRecurrenceRuleFunc != nil {
		return m.insertRecurrenceRuleFunc(ctx, r)
	}
	return nil
}

func (m *mockRepository) GetRecurrenceRule(ctx context.Context, ruleID string) (*domain.RecurrenceRule, error) {
	if m.getRecurrenceRuleFunc != nil {
		return m.getRecurrenceRuleFunc(ctx, ruleID)
	}
	return nil, domain.ErrRuleNotFound
}

func (m *mockRepository) PendingSiblingExists(ctx context.Context, ruleID string) (bool, error) {
	if m.pendingSiblingFunc != nil {
		return m.pendingSiblingFunc(ctx, ruleID)
	}
	return false, nil
}

func (m *mockRepository) InsertReminder(ctx context.Context, r *domain.Reminder) error {
	if m.insertReminderFunc != nil {
		return m.insertReminderFunc(ctx, r)
	}
	return nil
}

func (m *mockRepository) EnqueueOutbox(ctx context.Context, topic string, env *event.Envelope) (int64, error) {
	if m.enqueueOutboxFunc != nil {
		return m.enqueueOutboxFunc(ctx, topic, env)
	}
	return 1, nil
}

func (m *mockRepository) MarkDelivered(ctx context.Context, ids []int64) error {
	if m.markDeliveredFunc != nil {
		return m.markDeliveredFunc(ctx, ids)
	}
	return nil
}

// capturePublisher records published messages; failUntil forces the first
// N publishes to fail so retry behaviour can be observed.
type capturePublisher struct {
	mu        sync.Mutex
	published []publishedMsg
	failUntil int
	calls     int
}

type publishedMsg struct {
	topic string
	key   string
	env   *event.Envelope
}

func (p *capturePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failUntil {
		return errors.New("broker unavailable")
	}
	env, err := event.Decode(value)
	if err != nil {
		return err
	}
	p.published = append(p.published, publishedMsg{topic: topic, key: key, env: env})
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) byTopic(topic string) []publishedMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMsg
	for _, m := range p.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func newTestService(repo *mockRepository, pub *capturePublisher) *Service {
	s := NewService(repo, pub, Config{PublishRetryInitial: time.Millisecond})
	return s
}

func strPtr(s string) *string { return &s }

func TestCreateTaskPublishesToFeedAndLiveStream(t *testing.T) {
	repo := &mockRepository{}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	due := time.Now().UTC().Add(24 * time.Hour)
	created, err := svc.CreateTask(context.Background(), "user-1", domain.CreateTaskParams{
		Title: "Write report",
		Tags:  []string{"Work", "work", " urgent "},
		DueAt: &due,
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, domain.PriorityNormal, created.Priority)
	assert.Equal(t, []string{"work", "urgent"}, created.Tags)

	feed := pub.byTopic(event.TopicTaskEvents)
	live := pub.byTopic(event.TopicTaskUpdates)
	require.Len(t, feed, 1)
	require.Len(t, live, 1)
	assert.Equal(t, event.TypeTaskCreated, feed[0].env.Type)
	assert.Equal(t, "user-1", feed[0].env.UserID)
	assert.Equal(t, "user-1", feed[0].key, "partition key must be the user id")
	// Feed and live stream carry distinct event IDs for the same change.
	assert.NotEqual(t, feed[0].env.ID, live[0].env.ID)
}

func TestCreateTaskWithRecurrenceFreezesMetadata(t *testing.T) {
	repo := &mockRepository{}
	var gotRule *domain.RecurrenceRule
	repo.insertRecurrenceRuleFunc = func(_ context.Context, r *domain.RecurrenceRule) error {
		gotRule = r
		return nil
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	created, err := svc.CreateTask(context.Background(), "user-1", domain.CreateTaskParams{
		Title:       "Weekly sync",
		Description: strPtr("agenda in doc"),
		Priority:    domain.PriorityHigh,
		Recurrence:  &domain.RecurrenceInput{Pattern: domain.RecurrenceWeekly, Interval: 2},
	})
	require.NoError(t, err)
	require.NotNil(t, gotRule)
	require.NotNil(t, created.RecurrenceID)
	assert.Equal(t, gotRule.ID, *created.RecurrenceID)
	assert.Equal(t, created.ID, gotRule.TaskID)
	assert.Equal(t, "Weekly sync", gotRule.Metadata.Title)
	assert.Equal(t, domain.PriorityHigh, gotRule.Metadata.Priority)
	require.NotNil(t, gotRule.Metadata.Description)
	assert.Equal(t, "agenda in doc", *gotRule.Metadata.Description)
}

func TestCreateTaskValidation(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	tests := []struct {
		name    string
		params  domain.CreateTaskParams
		wantErr error
	}{
		{
			name:    "empty title",
			params:  domain.CreateTaskParams{Title: "   "},
			wantErr: domain.ErrTitleRequired,
		},
		{
			name:    "invalid priority",
			params:  domain.CreateTaskParams{Title: "t", Priority: "blocker"},
			wantErr: domain.ErrInvalidPriority,
		},
		{
			name:    "due date in past",
			params:  domain.CreateTaskParams{Title: "t", DueAt: &past},
			wantErr: domain.ErrDueDateInPast,
		},
		{
			name: "zero recurrence interval",
			params: domain.CreateTaskParams{
				Title:      "t",
				Recurrence: &domain.RecurrenceInput{Pattern: domain.RecurrenceDaily, Interval: 0},
			},
			wantErr: domain.ErrInvalidInterval,
		},
		{
			name: "reminder without due date",
			params: domain.CreateTaskParams{
				Title:     "t",
				Reminders: []domain.ReminderInput{{RemindAt: future}},
			},
			wantErr: domain.ErrReminderWithoutDue,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub := &capturePublisher{}
			svc := newTestService(&mockRepository{}, pub)
			_, err := svc.CreateTask(context.Background(), "user-1", tc.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.True(t, domain.IsValidation(err))
			assert.Empty(t, pub.published, "validation failures must publish nothing")
		})
	}
}

func TestCreateTaskPublishFailureDoesNotFailMutation(t *testing.T) {
	repo := &mockRepository{}
	var marked [][]int64
	repo.markDeliveredFunc = func(_ context.Context, ids []int64) error {
		marked = append(marked, ids)
		return nil
	}
	pub := &capturePublisher{failUntil: 1000} // broker never recovers
	svc := newTestService(repo, pub)

	created, err := svc.CreateTask(context.Background(), "user-1", domain.CreateTaskParams{Title: "t"})
	require.NoError(t, err, "the commit must survive a dead broker")
	assert.NotEmpty(t, created.ID)
	assert.Empty(t, marked, "undelivered rows must stay for the sweeper")
}

func TestCreateTaskRetriesPublishThenMarksDelivered(t *testing.T) {
	repo := &mockRepository{}
	var marked []int64
	repo.markDeliveredFunc = func(_ context.Context, ids []int64) error {
		marked = append(marked, ids...)
		return nil
	}
	nextID := int64(0)
	repo.enqueueOutboxFunc = func(_ context.Context, _ string, _ *event.Envelope) (int64, error) {
		nextID++
		return nextID, nil
	}
	pub := &capturePublisher{failUntil: 2} // first two attempts fail
	svc := newTestService(repo, pub)

	_, err := svc.CreateTask(context.Background(), "user-1", domain.CreateTaskParams{Title: "t"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, marked)
}

func TestUpdateTaskEmptyPatchRejected(t *testing.T) {
	svc := newTestService(&mockRepository{}, &capturePublisher{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", domain.UpdateTaskParams{})
	assert.ErrorIs(t, err, domain.ErrEmptyUpdate)
}

func TestUpdateTaskReportsChangedFields(t *testing.T) {
	now := time.Now().UTC()
	existing := &domain.Task{
		ID: "task-1", UserID: "user-1", Title: "old", Priority: domain.PriorityNormal,
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}
	repo := &mockRepository{
		getTaskForUpdateFunc: func(_ context.Context, _, _ string) (*domain.Task, error) {
			return existing, nil
		},
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	high := domain.PriorityHigh
	updated, err := svc.UpdateTask(context.Background(), "user-1", "task-1", domain.UpdateTaskParams{
		Title:    strPtr("new title"),
		Priority: &high,
	})
	require.NoError(t, err)
	assert.Equal(t, "new title", updated.Title)
	assert.True(t, updated.UpdatedAt.After(existing.UpdatedAt))

	feed := pub.byTopic(event.TopicTaskEvents)
	require.Len(t, feed, 1)
	payload, err := feed[0].env.TaskPayload()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"title", "priority"}, payload.ChangedFields)
}

func TestUpdateTaskNoEffectiveChangePublishesNothing(t *testing.T) {
	existing := &domain.Task{
		ID: "task-1", UserID: "user-1", Title: "same", Priority: domain.PriorityNormal,
	}
	var updateCalled bool
	repo := &mockRepository{
		getTaskForUpdateFunc: func(_ context.Context, _, _ string) (*domain.Task, error) {
			return existing, nil
		},
		updateTaskFunc: func(_ context.Context, _ *domain.Task) error {
			updateCalled = true
			return nil
		},
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", domain.UpdateTaskParams{
		Title: strPtr("same"),
	})
	require.NoError(t, err)
	assert.False(t, updateCalled)
	assert.Empty(t, pub.published)
}

func TestUpdateTaskClearsDescription(t *testing.T) {
	existing := &domain.Task{
		ID: "task-1", UserID: "user-1", Title: "t",
		Description: strPtr("old notes"), Priority: domain.PriorityNormal,
	}
	repo := &mockRepository{
		getTaskForUpdateFunc: func(_ context.Context, _, _ string) (*domain.Task, error) {
			return existing, nil
		},
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	updated, err := svc.UpdateTask(context.Background(), "user-1", "task-1", domain.UpdateTaskParams{
		ClearDescription: true,
	})
	require.NoError(t, err)
	assert.Nil(t, updated.Description)

	feed := pub.byTopic(event.TopicTaskEvents)
	require.Len(t, feed, 1)
	payload, err := feed[0].env.TaskPayload()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"description"}, payload.ChangedFields)
}

func TestUpdateTaskSetAndClearDescriptionRejected(t *testing.T) {
	svc := newTestService(&mockRepository{}, &capturePublisher{})
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", domain.UpdateTaskParams{
		Description:      strPtr("new notes"),
		ClearDescription: true,
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
}

func TestUpdateTaskDueDateOnCompletedRejected(t *testing.T) {
	repo := &mockRepository{
		getTaskForUpdateFunc: func(_ context.Context, _, _ string) (*domain.Task, error) {
			return &domain.Task{ID: "task-1", UserID: "user-1", Title: "t", Completed: true}, nil
		},
	}
	svc := newTestService(repo, &capturePublisher{})

	due := time.Now().UTC().Add(time.Hour)
	_, err := svc.UpdateTask(context.Background(), "user-1", "task-1", domain.UpdateTaskParams{DueAt: &due})
	assert.ErrorIs(t, err, domain.ErrDueDateOnCompleted)
}

func TestCompleteTaskIsIdempotent(t *testing.T) {
	repo := &mockRepository{
		getTaskForUpdateFunc: func(_ context.Context, _, _ string) (*domain.Task, error) {
			return &domain.Task{ID: "task-1", UserID: "user-1", Title: "t", Completed: true}, nil
		},
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	got, err := svc.CompleteTask(context.Background(), "user-1", "task-1")
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Empty(t, pub.published, "re-completing must publish nothing")
}

func TestCompleteTaskPublishesCompletion(t *testing.T) {
	repo := &mockRepository{
		getTaskForUpdateFunc: func(_ context.Context, _, _ string) (*domain.Task, error) {
			return &domain.Task{ID: "task-1", UserID: "user-1", Title: "t"}, nil
		},
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	got, err := svc.CompleteTask(context.Background(), "user-1", "task-1")
	require.NoError(t, err)
	assert.True(t, got.Completed)

	feed := pub.byTopic(event.TopicTaskEvents)
	require.Len(t, feed, 1)
	assert.Equal(t, event.TypeTaskCompleted, feed[0].env.Type)
	require.Len(t, pub.byTopic(event.TopicTaskUpdates), 1)
}

func TestDeleteTaskPublishesFinalSnapshot(t *testing.T) {
	repo := &mockRepository{
		getTaskForUpdateFunc: func(_ context.Context, _, _ string) (*domain.Task, error) {
			return &domain.Task{ID: "task-1", UserID: "user-1", Title: "doomed"}, nil
		},
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	require.NoError(t, svc.DeleteTask(context.Background(), "user-1", "task-1"))

	feed := pub.byTopic(event.TopicTaskEvents)
	require.Len(t, feed, 1)
	assert.Equal(t, event.TypeTaskDeleted, feed[0].env.Type)
	payload, err := feed[0].env.TaskPayload()
	require.NoError(t, err)
	assert.Equal(t, "doomed", payload.Task.Title)
}

func TestDeleteTaskNotFound(t *testing.T) {
	svc := newTestService(&mockRepository{}, &capturePublisher{})
	err := svc.DeleteTask(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestScheduleReminderValidatesAgainstDue(t *testing.T) {
	due := time.Now().UTC().Add(time.Hour)
	repo := &mockRepository{
		getTaskForUpdateFunc: func(_ context.Context, _, _ string) (*domain.Task, error) {
			return &domain.Task{ID: "task-1", UserID: "user-1", Title: "t", DueAt: &due}, nil
		},
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	_, err := svc.ScheduleReminder(context.Background(), "user-1", "task-1", domain.ReminderInput{
		RemindAt: due.Add(time.Minute),
	})
	assert.ErrorIs(t, err, domain.ErrReminderAfterDue)

	rem, err := svc.ScheduleReminder(context.Background(), "user-1", "task-1", domain.ReminderInput{
		RemindAt: due.Add(-30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderPending, rem.Status)
	assert.Equal(t, domain.DefaultDeliveryMethod, rem.DeliveryMethod)

	reminders := pub.byTopic(event.TopicReminders)
	require.Len(t, reminders, 1)
	assert.Equal(t, event.TypeReminderCreated, reminders[0].env.Type)
}

func TestCreateNextInstanceUsesFrozenMetadata(t *testing.T) {
	repo := &mockRepository{}
	var inserted *domain.Task
	repo.insertTaskFunc = func(_ context.Context, task *domain.Task) error {
		inserted = task
		return nil
	}
	pub := &capturePublisher{}
	svc := newTestService(repo, pub)

	rule := &domain.RecurrenceRule{
		ID:       "rule-1",
		TaskID:   "template-1",
		UserID:   "user-1",
		Pattern:  domain.RecurrenceDaily,
		Interval: 1,
		Metadata: domain.RuleMetadata{
			Title:    "Daily standup",
			Priority: domain.PriorityHigh,
			Tags:     []string{"meeting"},
		},
	}
	due := time.Now().UTC().Add(time.Minute)
	got, err := svc.CreateNextInstance(context.Background(), rule, due)
	require.NoError(t, err)
	require.NotNil(t, inserted)
	assert.Equal(t, "Daily standup", got.Title)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	require.NotNil(t, got.RecurrenceID)
	assert.Equal(t, "rule-1", *got.RecurrenceID)
	require.NotNil(t, got.DueAt)
	assert.True(t, got.DueAt.Equal(due))

	require.Len(t, pub.byTopic(event.TopicTaskEvents), 1)
	require.Len(t, pub.byTopic(event.TopicTaskUpdates), 1)
}

func TestCreateNextInstanceSurfacesConflict(t *testing.T) {
	repo := &mockRepository{
		insertTaskFunc: func(_ context.Context, _ *domain.Task) error {
			return domain.ErrConflict
		},
	}
	svc := newTestService(repo, &capturePublisher{})

	rule := &domain.RecurrenceRule{ID: "rule-1", UserID: "user-1", Metadata: domain.RuleMetadata{Title: "t"}}
	_, err := svc.CreateNextInstance(context.Background(), rule, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestListTasksCapsLimit(t *testing.T) {
	var gotParams domain.ListTasksParams
	repo := &mockRepository{
		listTasksFunc: func(_ context.Context, _ string, params domain.ListTasksParams) (*domain.TaskPage, error) {
			gotParams = params
			return &domain.TaskPage{}, nil
		},
	}
	svc := newTestService(repo, &capturePublisher{})

	_, err := svc.ListTasks(context.Background(), "user-1", domain.ListTasksParams{Limit: 10_000})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, gotParams.Limit)

	_, err = svc.ListTasks(context.Background(), "user-1", domain.ListTasksParams{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, gotParams.Limit)
}

func TestListTasksRejectsUnknownSort(t *testing.T) {
	svc := newTestService(&mockRepository{}, &capturePublisher{})
	_, err := svc.ListTasks(context.Background(), "user-1", domain.ListTasksParams{SortBy: "color"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}
