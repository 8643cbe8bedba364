package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rezkam/taskstream/internal/bus"
)

// Sweeper defaults.
const (
	DefaultInterval  = 5 * time.Second
	DefaultBatchSize = 200
)

// Sweeper periodically publishes undelivered outbox rows.
//
// A publish failure for one user stops that user's drain for the cycle so
// their later rows cannot overtake the failed one; other users continue.
type Sweeper struct {
	repo      Repository
	pub       bus.Publisher
	interval  time.Duration
	batchSize int
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets the sweep cadence.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithBatchSize caps rows fetched per sweep.
func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) { s.batchSize = n }
}

// NewSweeper creates a sweeper over the given repository and publisher.
func NewSweeper(repo Repository, pub bus.Publisher, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{repo: repo, pub: pub, interval: DefaultInterval, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "outbox sweeper started",
		"interval", s.interval, "batch_size", s.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "outbox sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "outbox sweep failed", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "outbox sweep drained rows", "count", n)
			}
		}
	}
}

// Sweep publishes one batch of undelivered rows and returns how many were
// delivered.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	entries, err := s.repo.ListUndelivered(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list undelivered outbox rows: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	// Users whose publish failed this cycle; their remaining rows are
	// skipped to keep per-user FIFO intact.
	stalled := make(map[string]struct{})
	var delivered []int64

	for _, e := range entries {
		if _, ok := stalled[e.UserID]; ok {
			continue
		}
		raw, err := e.Envelope.Encode()
		if err != nil {
			// An unencodable row would wedge the user's queue forever;
			// log loudly and skip past it.
			slog.ErrorContext(ctx, "skipping malformed outbox row",
				"outbox_id", e.ID, "user_id", e.UserID, "error", err)
			stalled[e.UserID] = struct{}{}
			continue
		}
		if err := s.pub.Publish(ctx, e.Topic, e.UserID, raw); err != nil {
			slog.WarnContext(ctx, "outbox publish failed",
				"outbox_id", e.ID, "topic", e.Topic, "user_id", e.UserID, "error", err)
			stalled[e.UserID] = struct{}{}
			continue
		}
		delivered = append(delivered, e.ID)
	}

	if len(delivered) == 0 {
		return 0, nil
	}
	if err := s.repo.MarkDelivered(ctx, delivered); err != nil {
		// Rows will be republished next cycle; consumers absorb the
		// duplicates under the at-least-once contract.
		return 0, fmt.Errorf("failed to mark outbox rows delivered: %w", err)
	}
	return len(delivered), nil
}
