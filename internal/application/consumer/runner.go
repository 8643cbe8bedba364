package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rezkam/taskstream/internal/bus"
)

// Subscription binds one handler to a topic and group.
type Subscription struct {
	Topic   string
	GroupID string
	Handler bus.Handler
}

// Runner drives a set of subscriptions concurrently and stops them together.
type Runner struct {
	sub  bus.Subscriber
	subs []Subscription
}

// NewRunner creates a runner over the given subscriber.
func NewRunner(sub bus.Subscriber, subs ...Subscription) *Runner {
	return &Runner{sub: sub, subs: subs}
}

// Run blocks until ctx is cancelled or a subscription fails fatally.
// The first failure cancels the rest.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(r.subs))
	var wg sync.WaitGroup

	for _, s := range r.subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.InfoContext(ctx, "consumer subscription started",
				"topic", s.Topic, "group", s.GroupID)
			if err := r.sub.Subscribe(ctx, s.Topic, s.GroupID, s.Handler); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("subscription %s/%s failed: %w", s.Topic, s.GroupID, err)
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}
