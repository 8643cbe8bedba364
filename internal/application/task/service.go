// Package task implements the mutation API: validation, the database-first
// commit-then-publish protocol, and the transactional outbox fallback.
//
// Every state change follows the same order: validate, write all dependent
// rows and the staged event envelopes in one transaction, commit, then
// attempt a direct publish with bounded retries. The commit is never rolled
// back because the bus is down — undelivered envelopes stay in the outbox
// and the sweeper drains them.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

// Default configuration values.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100

	defaultPublishRetryInitial = 100 * time.Millisecond
	defaultPublishMaxAttempts  = 5
	defaultPublishJitterPct    = 20
)

// Config holds configuration for the Service.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int

	// PublishRetryInitial is the first backoff delay for a failed direct
	// publish; it doubles per attempt with jitter.
	PublishRetryInitial time.Duration
	// PublishMaxAttempts caps direct publish attempts before the envelope
	// is left to the outbox sweeper.
	PublishMaxAttempts uint64
}

// Service provides the task mutation operations.
type Service struct {
	repo Repository
	pub  bus.Publisher
	cfg  Config
	now  func() time.Time
}

// NewService creates a mutation service. Zero config values get defaults.
func NewService(repo Repository, pub bus.Publisher, cfg Config) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = MaxPageSize
	}
	if cfg.PublishRetryInitial <= 0 {
		cfg.PublishRetryInitial = defaultPublishRetryInitial
	}
	if cfg.PublishMaxAttempts == 0 {
		cfg.PublishMaxAttempts = defaultPublishMaxAttempts
	}
	return &Service{repo: repo, pub: pub, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// staged pairs an envelope with its outbox row for post-commit publishing.
type staged struct {
	outboxID int64
	topic    string
	env      *event.Envelope
}

// CreateTask validates, persists, and announces a new task. When the params
// carry a recurrence, the rule is created alongside with a frozen metadata
// snapshot; reminders are persisted and announced on the reminders topic.
func (s *Service) CreateTask(ctx context.Context, userID string, params domain.CreateTaskParams) (*domain.Task, error) {
	now := s.now()

	t, rule, reminders, err := s.buildCreate(userID, params, now)
	if err != nil {
		return nil, err
	}

	envs := make([]struct {
		topic string
		env   *event.Envelope
	}, 0, 2+len(reminders))

	created, err := event.NewTaskEvent(event.TypeTaskCreated, t, nil)
	if err != nil {
		return nil, err
	}
	updatesCopy, err := event.NewTaskEvent(event.TypeTaskCreated, t, nil)
	if err != nil {
		return nil, err
	}
	envs = append(envs,
		struct {
			topic string
			env   *event.Envelope
		}{event.TopicTaskEvents, created},
		struct {
			topic string
			env   *event.Envelope
		}{event.TopicTaskUpdates, updatesCopy},
	)
	for _, r := range reminders {
		env, err := event.NewReminderEvent(event.TypeReminderCreated, r, "")
		if err != nil {
			return nil, err
		}
		envs = append(envs, struct {
			topic string
			env   *event.Envelope
		}{event.TopicReminders, env})
	}

	var toPublish []staged
	err = s.repo.Atomic(ctx, func(r Repository) error {
		if err := r.InsertTask(ctx, t); err != nil {
			return err
		}
		if rule != nil {
			if err := r.InsertRecurrenceRule(ctx, rule); err != nil {
				return err
			}
		}
		for _, rem := range reminders {
			if err := r.InsertReminder(ctx, rem); err != nil {
				return err
			}
		}
		var err error
		toPublish, err = enqueueAll(ctx, r, envs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.publishCommitted(ctx, toPublish)
	return t, nil
}

// UpdateTask applies a partial update. An empty effective change publishes
// nothing (no-op elision).
func (s *Service) UpdateTask(ctx context.Context, userID, taskID string, patch domain.UpdateTaskParams) (*domain.Task, error) {
	if patch.IsEmpty() {
		return nil, domain.Invalid("update", domain.ErrEmptyUpdate)
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	var updated *domain.Task
	var toPublish []staged

	err := s.repo.Atomic(ctx, func(r Repository) error {
		old, err := r.GetTaskForUpdate(ctx, userID, taskID)
		if err != nil {
			return err
		}

		next, changed, err := applyPatch(old, patch, s.now())
		if err != nil {
			return err
		}
		updated = next
		if len(changed) == 0 {
			return nil // nothing actually changed; skip write and events
		}

		if err := r.UpdateTask(ctx, next); err != nil {
			return err
		}

		feed, err := event.NewTaskEvent(event.TypeTaskUpdated, next, changed)
		if err != nil {
			return err
		}
		live, err := event.NewTaskEvent(event.TypeTaskUpdated, next, changed)
		if err != nil {
			return err
		}
		toPublish, err = enqueueAll(ctx, r, []struct {
			topic string
			env   *event.Envelope
		}{
			{event.TopicTaskEvents, feed},
			{event.TopicTaskUpdates, live},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishCommitted(ctx, toPublish)
	return updated, nil
}

// CompleteTask marks the task done. Completing an already-completed task
// returns it unchanged and publishes nothing.
func (s *Service) CompleteTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	var result *domain.Task
	var toPublish []staged

	err := s.repo.Atomic(ctx, func(r Repository) error {
		t, err := r.GetTaskForUpdate(ctx, userID, taskID)
		if err != nil {
			return err
		}
		if t.Completed {
			result = t
			return nil // idempotent no-op
		}

		t.Completed = true
		t.UpdatedAt = s.now()
		if err := r.UpdateTask(ctx, t); err != nil {
			return err
		}
		result = t

		feed, err := event.NewTaskEvent(event.TypeTaskCompleted, t, nil)
		if err != nil {
			return err
		}
		live, err := event.NewTaskEvent(event.TypeTaskCompleted, t, nil)
		if err != nil {
			return err
		}
		toPublish, err = enqueueAll(ctx, r, []struct {
			topic string
			env   *event.Envelope
		}{
			{event.TopicTaskEvents, feed},
			{event.TopicTaskUpdates, live},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishCommitted(ctx, toPublish)
	return result, nil
}

// DeleteTask removes the task. Reminders cascade in the store; if the task
// is a recurrence template, the rule cascades and descendants detach.
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	var toPublish []staged

	err := s.repo.Atomic(ctx, func(r Repository) error {
		t, err := r.GetTaskForUpdate(ctx, userID, taskID)
		if err != nil {
			return err
		}
		if err := r.DeleteTask(ctx, userID, taskID); err != nil {
			return err
		}

		feed, err := event.NewTaskEvent(event.TypeTaskDeleted, t, nil)
		if err != nil {
			return err
		}
		live, err := event.NewTaskEvent(event.TypeTaskDeleted, t, nil)
		if err != nil {
			return err
		}
		toPublish, err = enqueueAll(ctx, r, []struct {
			topic string
			env   *event.Envelope
		}{
			{event.TopicTaskEvents, feed},
			{event.TopicTaskUpdates, live},
		})
		return err
	})
	if err != nil {
		return err
	}

	s.publishCommitted(ctx, toPublish)
	return nil
}

// GetTask loads one task scoped by user.
func (s *Service) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	return s.repo.GetTask(ctx, userID, taskID)
}

// ListTasks returns a page of the user's tasks.
func (s *Service) ListTasks(ctx context.Context, userID string, params domain.ListTasksParams) (*domain.TaskPage, error) {
	if params.Limit <= 0 {
		params.Limit = s.cfg.DefaultPageSize
	}
	params.Limit = min(params.Limit, s.cfg.MaxPageSize)

	if params.Priority != nil {
		if _, err := domain.NewPriority(string(*params.Priority)); err != nil {
			return nil, domain.Invalid("priority", err)
		}
	}
	switch params.SortBy {
	case "", "created_at", "due_at", "priority":
	default:
		return nil, domain.Invalid("sort", fmt.Errorf("unsupported sort field: %s", params.SortBy))
	}

	return s.repo.ListTasks(ctx, userID, params)
}

// ScheduleReminder creates a reminder for an existing task and announces it
// on the reminders topic.
func (s *Service) ScheduleReminder(ctx context.Context, userID, taskID string, input domain.ReminderInput) (*domain.Reminder, error) {
	now := s.now()

	var rem *domain.Reminder
	var toPublish []staged

	err := s.repo.Atomic(ctx, func(r Repository) error {
		t, err := r.GetTaskForUpdate(ctx, userID, taskID)
		if err != nil {
			return err
		}
		if err := validateReminderInput(input, t.DueAt, now); err != nil {
			return err
		}

		rem = newReminder(t, input, now)
		if err := r.InsertReminder(ctx, rem); err != nil {
			return err
		}

		env, err := event.NewReminderEvent(event.TypeReminderCreated, rem, "")
		if err != nil {
			return err
		}
		toPublish, err = enqueueAll(ctx, r, []struct {
			topic string
			env   *event.Envelope
		}{{event.TopicReminders, env}})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishCommitted(ctx, toPublish)
	return rem, nil
}

// CreateNextInstance materialises the next task of a recurring chain from
// the rule's frozen metadata snapshot. Called by the recurring generator;
// it runs the same commit-then-publish protocol as user mutations but is
// exempt from the future-due-date rule (the computed date may be near now).
//
// Returns domain.ErrConflict when a pending sibling already exists — the
// partial unique index makes the race with a concurrent generator safe.
func (s *Service) CreateNextInstance(ctx context.Context, rule *domain.RecurrenceRule, dueAt time.Time) (*domain.Task, error) {
	now := s.now()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	ruleID := rule.ID
	due := dueAt.UTC()
	t := &domain.Task{
		ID:           id.String(),
		UserID:       rule.UserID,
		Title:        rule.Metadata.Title,
		Description:  rule.Metadata.Description,
		Priority:     rule.Metadata.Priority,
		Tags:         rule.Metadata.Tags,
		DueAt:        &due,
		RecurrenceID: &ruleID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	feed, err := event.NewTaskEvent(event.TypeTaskCreated, t, nil)
	if err != nil {
		return nil, err
	}
	live, err := event.NewTaskEvent(event.TypeTaskCreated, t, nil)
	if err != nil {
		return nil, err
	}

	var toPublish []staged
	err = s.repo.Atomic(ctx, func(r Repository) error {
		if err := r.InsertTask(ctx, t); err != nil {
			return err
		}
		var err error
		toPublish, err = enqueueAll(ctx, r, []struct {
			topic string
			env   *event.Envelope
		}{
			{event.TopicTaskEvents, feed},
			{event.TopicTaskUpdates, live},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishCommitted(ctx, toPublish)
	return t, nil
}

// enqueueAll stages envelopes into the outbox within the caller's transaction.
func enqueueAll(ctx context.Context, r Repository, envs []struct {
	topic string
	env   *event.Envelope
}) ([]staged, error) {
	out := make([]staged, 0, len(envs))
	for _, e := range envs {
		id, err := r.EnqueueOutbox(ctx, e.topic, e.env)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue outbox row: %w", err)
		}
		out = append(out, staged{outboxID: id, topic: e.topic, env: e.env})
	}
	return out, nil
}

// publishCommitted attempts a direct publish of every staged envelope with
// bounded exponential backoff. Rows published successfully are stamped
// delivered; anything left is picked up by the outbox sweeper. The mutation
// has already committed, so failures here never surface to the caller.
func (s *Service) publishCommitted(ctx context.Context, events []staged) {
	if len(events) == 0 {
		return
	}

	var deliveredIDs []int64
	for _, ev := range events {
		raw, err := ev.env.Encode()
		if err != nil {
			slog.ErrorContext(ctx, "failed to encode envelope, leaving to sweeper",
				"event_id", ev.env.ID, "error", err)
			continue
		}

		backoff := retry.WithJitterPercent(defaultPublishJitterPct,
			retry.WithMaxRetries(s.cfg.PublishMaxAttempts-1,
				retry.NewExponential(s.cfg.PublishRetryInitial)))

		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := s.pub.Publish(ctx, ev.topic, ev.env.UserID, raw); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			slog.WarnContext(ctx, "direct publish failed, event handed to outbox",
				"topic", ev.topic, "event_id", ev.env.ID, "event_type", ev.env.Type, "error", err)
			continue
		}
		deliveredIDs = append(deliveredIDs, ev.outboxID)
	}

	if len(deliveredIDs) > 0 {
		if err := s.repo.MarkDelivered(ctx, deliveredIDs); err != nil {
			// The sweeper will republish these rows; duplicates are
			// covered by the at-least-once contract.
			slog.WarnContext(ctx, "failed to mark outbox rows delivered", "error", err)
		}
	}
}

// buildCreate validates create params and assembles the row set.
func (s *Service) buildCreate(userID string, params domain.CreateTaskParams, now time.Time) (*domain.Task, *domain.RecurrenceRule, []*domain.Reminder, error) {
	title, err := domain.NewTitle(params.Title)
	if err != nil {
		return nil, nil, nil, domain.Invalid("title", err)
	}
	priority, err := domain.NewPriority(string(params.Priority))
	if err != nil {
		return nil, nil, nil, domain.Invalid("priority", err)
	}
	tags, err := domain.NormalizeTags(params.Tags)
	if err != nil {
		return nil, nil, nil, domain.Invalid("tags", err)
	}
	if params.DueAt != nil && !params.DueAt.After(now) {
		return nil, nil, nil, domain.Invalid("due_date", domain.ErrDueDateInPast)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate id: %w", err)
	}

	t := &domain.Task{
		ID:          id.String(),
		UserID:      userID,
		Title:       title,
		Description: params.Description,
		Priority:    priority,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if params.DueAt != nil {
		due := params.DueAt.UTC()
		t.DueAt = &due
	}

	var rule *domain.RecurrenceRule
	if params.Recurrence != nil {
		pattern, err := domain.NewRecurrencePattern(string(params.Recurrence.Pattern))
		if err != nil {
			return nil, nil, nil, domain.Invalid("recurrence.pattern", err)
		}
		if err := domain.ValidateInterval(pattern, params.Recurrence.Interval); err != nil {
			return nil, nil, nil, domain.Invalid("recurrence.interval", err)
		}

		ruleID, err := uuid.NewV7()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to generate id: %w", err)
		}
		rule = &domain.RecurrenceRule{
			ID:       ruleID.String(),
			TaskID:   t.ID,
			UserID:   userID,
			Pattern:  pattern,
			Interval: params.Recurrence.Interval,
			Metadata: domain.RuleMetadata{
				Title:       t.Title,
				Description: t.Description,
				Priority:    t.Priority,
				Tags:        t.Tags,
			},
			CreatedAt: now,
		}
		rid := rule.ID
		t.RecurrenceID = &rid
	}

	reminders := make([]*domain.Reminder, 0, len(params.Reminders))
	for i, in := range params.Reminders {
		if err := validateReminderInput(in, t.DueAt, now); err != nil {
			return nil, nil, nil, fmt.Errorf("reminders[%d]: %w", i, err)
		}
		reminders = append(reminders, newReminder(t, in, now))
	}

	return t, rule, reminders, nil
}

func newReminder(t *domain.Task, in domain.ReminderInput, now time.Time) *domain.Reminder {
	method := in.DeliveryMethod
	if method == "" {
		method = domain.DefaultDeliveryMethod
	}
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4
		// semantics via NewString rather than aborting the mutation.
		return &domain.Reminder{
			ID:             uuid.NewString(),
			TaskID:         t.ID,
			UserID:         t.UserID,
			RemindAt:       in.RemindAt.UTC(),
			Status:         domain.ReminderPending,
			DeliveryMethod: method,
			CreatedAt:      now,
		}
	}
	return &domain.Reminder{
		ID:             id.String(),
		TaskID:         t.ID,
		UserID:         t.UserID,
		RemindAt:       in.RemindAt.UTC(),
		Status:         domain.ReminderPending,
		DeliveryMethod: method,
		CreatedAt:      now,
	}
}

func validateReminderInput(in domain.ReminderInput, dueAt *time.Time, now time.Time) error {
	if dueAt == nil {
		return domain.Invalid("reminder_time", domain.ErrReminderWithoutDue)
	}
	if !in.RemindAt.After(now) {
		return domain.Invalid("reminder_time", domain.ErrReminderInPast)
	}
	if in.RemindAt.After(*dueAt) {
		return domain.Invalid("reminder_time", domain.ErrReminderAfterDue)
	}
	return nil
}

func validatePatch(p domain.UpdateTaskParams) error {
	if p.DueAt != nil && p.ClearDueAt {
		return domain.Invalid("due_date", errors.New("cannot both set and clear the due date"))
	}
	if p.Description != nil && p.ClearDescription {
		return domain.Invalid("description", errors.New("cannot both set and clear the description"))
	}
	if p.Title != nil {
		if _, err := domain.NewTitle(*p.Title); err != nil {
			return domain.Invalid("title", err)
		}
	}
	if p.Priority != nil {
		if _, err := domain.NewPriority(string(*p.Priority)); err != nil {
			return domain.Invalid("priority", err)
		}
	}
	if p.Tags != nil {
		if _, err := domain.NormalizeTags(*p.Tags); err != nil {
			return domain.Invalid("tags", err)
		}
	}
	return nil
}

// applyPatch produces the updated task and the list of fields that actually
// changed. Due-date changes on a completed task are rejected; only the
// recurring generator creates rows with past-adjacent due dates, and it does
// so through CreateNextInstance, never through a patch.
func applyPatch(old *domain.Task, p domain.UpdateTaskParams, now time.Time) (*domain.Task, []string, error) {
	next := *old
	next.Tags = append([]string(nil), old.Tags...)
	var changed []string

	if p.Title != nil {
		title, _ := domain.NewTitle(*p.Title) // validated in validatePatch
		if title != old.Title {
			next.Title = title
			changed = append(changed, "title")
		}
	}
	if p.ClearDescription {
		if old.Description != nil {
			next.Description = nil
			changed = append(changed, "description")
		}
	} else if p.Description != nil {
		if old.Description == nil || *old.Description != *p.Description {
			next.Description = p.Description
			changed = append(changed, "description")
		}
	}
	if p.Priority != nil {
		priority, _ := domain.NewPriority(string(*p.Priority))
		if priority != old.Priority {
			next.Priority = priority
			changed = append(changed, "priority")
		}
	}
	if p.Tags != nil {
		tags, _ := domain.NormalizeTags(*p.Tags)
		if !equalTags(tags, old.Tags) {
			next.Tags = tags
			changed = append(changed, "tags")
		}
	}
	if p.DueAt != nil || p.ClearDueAt {
		if old.Completed {
			return nil, nil, domain.Invalid("due_date", domain.ErrDueDateOnCompleted)
		}
		if p.ClearDueAt {
			if old.DueAt != nil {
				next.DueAt = nil
				changed = append(changed, "due_date")
			}
		} else {
			due := p.DueAt.UTC()
			if !due.After(now) {
				return nil, nil, domain.Invalid("due_date", domain.ErrDueDateInPast)
			}
			if old.DueAt == nil || !old.DueAt.Equal(due) {
				next.DueAt = &due
				changed = append(changed, "due_date")
			}
		}
	}

	if len(changed) > 0 {
		next.UpdatedAt = now
	}
	return &next, changed, nil
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
