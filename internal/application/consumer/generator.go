package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
	"github.com/rezkam/taskstream/internal/recurring"
)

// GeneratorStore is the read surface of the recurring generator.
type GeneratorStore interface {
	GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error)
	GetRecurrenceRule(ctx context.Context, ruleID string) (*domain.RecurrenceRule, error)
	PendingSiblingExists(ctx context.Context, ruleID string) (bool, error)
}

// InstanceCreator materialises the next task of a chain through the regular
// mutation path, so generated instances publish their own events.
type InstanceCreator interface {
	CreateNextInstance(ctx context.Context, rule *domain.RecurrenceRule, dueAt time.Time) (*domain.Task, error)
}

// Generator materialises the next instance of a recurring chain when its
// current instance is completed.
//
// Idempotency is state reconciliation, not deduplication: before creating,
// it checks whether the chain already has a pending instance. A redelivered
// completion event finds the sibling and acks. The partial unique index on
// (recurrence_id) WHERE completed = false closes the remaining race.
type Generator struct {
	store   GeneratorStore
	creator InstanceCreator
	now     func() time.Time
}

// NewGenerator creates the recurring generator consumer.
func NewGenerator(store GeneratorStore, creator InstanceCreator) *Generator {
	return &Generator{
		store:   store,
		creator: creator,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle is the bus handler for the task-events topic. Only task.completed
// is acted on; everything else acks immediately.
func (g *Generator) Handle(ctx context.Context, msg bus.Message) error {
	env, err := event.Decode(msg.Value)
	if err != nil {
		slog.ErrorContext(ctx, "dropping undecodable generator message",
			"topic", msg.Topic, "error", err)
		return nil
	}
	if env.Type != event.TypeTaskCompleted {
		return nil
	}
	if env.TaskID == nil {
		slog.ErrorContext(ctx, "completion event without task id", "event_id", env.ID)
		return nil
	}

	task, err := g.store.GetTask(ctx, env.UserID, *env.TaskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		return nil // deleted between publish and delivery
	}
	if err != nil {
		return fmt.Errorf("failed to load completed task: %w", err)
	}
	if !task.Completed {
		return nil // state was reversed; nothing to generate
	}
	if task.RecurrenceID == nil {
		return nil // not recurring
	}

	rule, err := g.store.GetRecurrenceRule(ctx, *task.RecurrenceID)
	if errors.Is(err, domain.ErrRuleNotFound) {
		return nil // template deleted; the chain is finished
	}
	if err != nil {
		return fmt.Errorf("failed to load recurrence rule: %w", err)
	}

	exists, err := g.store.PendingSiblingExists(ctx, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to check pending sibling: %w", err)
	}
	if exists {
		slog.InfoContext(ctx, "next instance already materialised",
			"rule_id", rule.ID, "user_id", rule.UserID)
		return nil
	}

	base := g.now()
	if task.DueAt != nil {
		base = *task.DueAt
	}
	nextDue, err := recurring.NextDueDate(base, rule.Pattern, rule.Interval)
	if err != nil {
		slog.ErrorContext(ctx, "cannot compute next due date",
			"rule_id", rule.ID, "pattern", rule.Pattern, "error", err)
		return nil
	}

	created, err := g.creator.CreateNextInstance(ctx, rule, nextDue)
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent delivery won the unique-index race; the instance
		// exists, which is what we wanted.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create next instance: %w", err)
	}

	slog.InfoContext(ctx, "generated next recurring instance",
		"rule_id", rule.ID, "task_id", created.ID, "user_id", created.UserID, "due_at", nextDue)
	return nil
}
