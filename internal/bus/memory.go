package bus

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus for tests and single-process development.
//
// It models the broker contract that consumers rely on: every group sees
// every message once, messages for one key are handled serially within a
// group, and a failing handler is retried rather than skipped.
type MemoryBus struct {
	mu     sync.Mutex
	groups map[string]map[string]*memGroup // topic → group → state
	closed bool
	wg     sync.WaitGroup
}

type memGroup struct {
	ch chan Message
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{groups: make(map[string]map[string]*memGroup)}
}

// Publish delivers the record to every group subscribed to the topic.
// Messages published before any subscription exists are dropped, matching a
// broker with no retained offset for a new group reading from latest.
//
// The sends happen outside the bus lock: a group with a full buffer slows
// this publisher but never blocks Subscribe or publishes to other topics.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, value []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return context.Canceled
	}
	targets := make([]*memGroup, 0, len(b.groups[topic]))
	for _, g := range b.groups[topic] {
		targets = append(targets, g)
	}
	b.mu.Unlock()

	msg := Message{Topic: topic, Key: key, Value: value}
	for _, g := range targets {
		select {
		case g.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers the group and processes messages until ctx is done.
// A single goroutine per group keeps per-key ordering trivially.
func (b *MemoryBus) Subscribe(ctx context.Context, topic, groupID string, handler Handler) error {
	b.mu.Lock()
	if b.groups[topic] == nil {
		b.groups[topic] = make(map[string]*memGroup)
	}
	g, ok := b.groups[topic][groupID]
	if !ok {
		g = &memGroup{ch: make(chan Message, 1024)}
		b.groups[topic][groupID] = g
	}
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-g.ch:
			backoff := 10 * time.Millisecond
			for {
				err := handler(ctx, msg)
				if err == nil {
					break
				}
				slog.WarnContext(ctx, "handler failed, retrying",
					"topic", topic, "group", groupID, "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, time.Second)
			}
		}
	}
}

// Close marks the bus closed; subsequent publishes fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// partitionOf mirrors the hash balancer used by the Kafka writer. Exposed
// for tests asserting that equal keys map to equal partitions.
func partitionOf(key string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % partitions
}
