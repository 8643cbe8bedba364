// Package consumer holds the event-driven workers: the audit writer, the
// recurring instance generator, and the reminder job scheduler. Each runs in
// its own consumer group, so every group sees the full task-event stream and
// failures in one never stall another.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

// Consumer group IDs. The broadcaster joins with per-replica groups instead;
// see the broadcast package.
const (
	GroupAudit              = "audit"
	GroupRecurringGenerator = "recurring-generator"
	GroupNotification       = "notification"
)

// AuditStore is the storage surface of the audit consumer.
type AuditStore interface {
	// InsertAuditEntry appends one audit row.
	// Returns domain.ErrConflict when the event_id was already recorded.
	InsertAuditEntry(ctx context.Context, e *domain.AuditLogEntry) error
}

// Audit writes one append-only audit row per task event.
//
// Idempotency rests on the unique event_id index: a redelivered message hits
// a conflict, which is treated as success and acked.
type Audit struct {
	store AuditStore
}

// NewAudit creates the audit consumer.
func NewAudit(store AuditStore) *Audit {
	return &Audit{store: store}
}

// Handle is the bus handler for the task-events topic.
func (a *Audit) Handle(ctx context.Context, msg bus.Message) error {
	env, err := event.Decode(msg.Value)
	if err != nil {
		// Malformed or incompatible messages can never succeed; ack them
		// rather than wedging the partition.
		slog.ErrorContext(ctx, "dropping undecodable audit message",
			"topic", msg.Topic, "error", err)
		return nil
	}

	entry, err := a.entryFor(env)
	if err != nil {
		slog.ErrorContext(ctx, "dropping unusable audit message",
			"event_id", env.ID, "event_type", env.Type, "error", err)
		return nil
	}

	if err := a.store.InsertAuditEntry(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.InfoContext(ctx, "duplicate audit delivery ignored", "event_id", env.ID)
			return nil
		}
		return fmt.Errorf("failed to write audit row: %w", err)
	}
	return nil
}

func (a *Audit) entryFor(env *event.Envelope) (*domain.AuditLogEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	var details map[string]any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &details); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
	}

	return &domain.AuditLogEntry{
		ID:        id.String(),
		EventID:   env.ID,
		EventType: string(env.Type),
		UserID:    env.UserID,
		TaskID:    env.TaskID,
		Details:   details,
		Timestamp: env.Timestamp,
	}, nil
}
