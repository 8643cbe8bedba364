// Package outbox drains event envelopes that could not be published directly
// after their transaction committed.
//
// Rows are swept in insertion order per user, which preserves the per-user
// ordering guarantee even when the broker was down for a window: a user's
// backlog replays oldest first before any newer direct publish for that user
// can conflict, because the sweeper only sees rows the direct path gave up on.
package outbox

import (
	"context"
	"time"

	"github.com/rezkam/taskstream/internal/event"
)

// Entry is one staged envelope awaiting publication.
type Entry struct {
	ID        int64
	UserID    string
	Topic     string
	Envelope  *event.Envelope
	CreatedAt time.Time
}

// Repository is the storage surface the sweeper needs.
type Repository interface {
	// ListUndelivered returns up to limit undelivered entries ordered by
	// (user_id, id) ascending.
	ListUndelivered(ctx context.Context, limit int) ([]Entry, error)

	// MarkDelivered stamps the given entries as published.
	MarkDelivered(ctx context.Context, ids []int64) error
}
