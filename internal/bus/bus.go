// Package bus defines the publish/subscribe port used by every producer and
// consumer, plus two implementations: a Kafka-protocol broker client and an
// in-memory bus for tests and single-process development.
//
// Delivery is at-least-once. Ordering holds per partition key only; the
// partition key is always the user ID, so one user's events are observed in
// publish order by any single consumer group, while different users may
// interleave.
package bus

import (
	"context"
)

// Message is one record delivered to a subscriber.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Handler processes a single message. Returning nil acknowledges the
// message; returning an error leaves it unacknowledged, and the bus
// redelivers it (possibly after backoff). Handlers must be idempotent.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends one record to a topic. The key selects the partition.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Subscriber attaches a handler to a topic under a consumer group.
// Subscribe blocks until ctx is cancelled; messages for one key are handled
// serially within a group.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, groupID string, handler Handler) error
}

// Bus combines both ends of the port.
type Bus interface {
	Publisher
	Subscriber
}
