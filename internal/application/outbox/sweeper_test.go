package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

type mockRepo struct {
	listFunc func(ctx context.Context, limit int) ([]Entry, error)
	marked   [][]int64
	markErr  error
}

func (m *mockRepo) ListUndelivered(ctx context.Context, limit int) ([]Entry, error) {
	return m.listFunc(ctx, limit)
}

func (m *mockRepo) MarkDelivered(_ context.Context, ids []int64) error {
	m.marked = append(m.marked, ids)
	return m.markErr
}

type fakePublisher struct {
	published []string // "topic/key"
	failKeys  map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, _ []byte) error {
	if p.failKeys[key] {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, topic+"/"+key)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func entry(id int64, userID string) Entry {
	env, _ := event.NewTaskEvent(event.TypeTaskCreated, &domain.Task{
		ID: "task-1", UserID: userID, Title: "t",
	}, nil)
	return Entry{ID: id, UserID: userID, Topic: event.TopicTaskEvents, Envelope: env, CreatedAt: time.Now()}
}

func TestSweepPublishesAndMarksInOrder(t *testing.T) {
	repo := &mockRepo{
		listFunc: func(_ context.Context, _ int) ([]Entry, error) {
			return []Entry{entry(1, "user-a"), entry(2, "user-a"), entry(3, "user-b")}, nil
		},
	}
	pub := &fakePublisher{}
	s := NewSweeper(repo, pub)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, repo.marked, 1)
	assert.Equal(t, []int64{1, 2, 3}, repo.marked[0])
	assert.Equal(t, []string{
		"task-events/user-a",
		"task-events/user-a",
		"task-events/user-b",
	}, pub.published)
}

func TestSweepFailureStallsOnlyThatUser(t *testing.T) {
	repo := &mockRepo{
		listFunc: func(_ context.Context, _ int) ([]Entry, error) {
			return []Entry{entry(1, "user-a"), entry(2, "user-a"), entry(3, "user-b")}, nil
		},
	}
	pub := &fakePublisher{failKeys: map[string]bool{"user-a": true}}
	s := NewSweeper(repo, pub)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only user-b's row is drained")
	require.Len(t, repo.marked, 1)
	assert.Equal(t, []int64{3}, repo.marked[0])
}

func TestSweepEmptyBacklogIsQuiet(t *testing.T) {
	repo := &mockRepo{
		listFunc: func(_ context.Context, _ int) ([]Entry, error) { return nil, nil },
	}
	s := NewSweeper(repo, &fakePublisher{})

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, repo.marked)
}

func TestSweepMarkFailureSurfaces(t *testing.T) {
	repo := &mockRepo{
		listFunc: func(_ context.Context, _ int) ([]Entry, error) {
			return []Entry{entry(1, "user-a")}, nil
		},
		markErr: errors.New("connection lost"),
	}
	s := NewSweeper(repo, &fakePublisher{})

	_, err := s.Sweep(context.Background())
	require.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	repo := &mockRepo{
		listFunc: func(_ context.Context, _ int) ([]Entry, error) { return nil, nil },
	}
	s := NewSweeper(repo, &fakePublisher{}, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
