package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds broker connection settings.
type KafkaConfig struct {
	Brokers []string

	// PublishTimeout bounds a single produce round trip. The mutation
	// service falls back to the outbox when this elapses.
	PublishTimeout time.Duration

	// HandlerBackoff is the delay before re-running a failed handler.
	// Doubles up to HandlerBackoffMax.
	HandlerBackoff    time.Duration
	HandlerBackoffMax time.Duration
}

// Validate checks required settings.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	return nil
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	if c.HandlerBackoff <= 0 {
		c.HandlerBackoff = 500 * time.Millisecond
	}
	if c.HandlerBackoffMax <= 0 {
		c.HandlerBackoffMax = 30 * time.Second
	}
	return c
}

// KafkaBus implements Bus against a Kafka-protocol broker.
//
// One writer is shared across topics; the hash balancer maps equal keys to
// equal partitions, which is what gives per-user ordering.
type KafkaBus struct {
	cfg    KafkaConfig
	writer *kafka.Writer

	mu      sync.Mutex
	readers []*kafka.Reader
}

// NewKafkaBus creates a bus against the configured brokers.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.PublishTimeout,
		// Publishing happens on the request path after commit; batching
		// would trade mutation latency for throughput we don't need.
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaBus{cfg: cfg, writer: writer}, nil
}

// Publish produces one record. The context deadline is capped by the
// configured publish timeout.
func (b *KafkaBus) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes the topic under the given group until ctx is cancelled.
//
// Offsets are committed only after the handler returns nil, so a crash
// mid-handler redelivers the message — the at-least-once contract. A failing
// handler is retried in place with capped exponential backoff, which keeps
// the partition (and therefore the user's event order) from advancing past
// an unprocessed message.
func (b *KafkaBus) Subscribe(ctx context.Context, topic, groupID string, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // synchronous commits
	})

	b.mu.Lock()
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	slog.InfoContext(ctx, "subscribed", "topic", topic, "group", groupID)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to fetch from %s: %w", topic, err)
		}

		if err := b.handleWithRetry(ctx, handler, Message{
			Topic: msg.Topic,
			Key:   string(msg.Key),
			Value: msg.Value,
		}); err != nil {
			// Context cancelled mid-retry: leave uncommitted for redelivery.
			return nil
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			slog.ErrorContext(ctx, "commit failed, message may be redelivered",
				"topic", topic, "group", groupID, "error", err)
		}
	}
}

func (b *KafkaBus) handleWithRetry(ctx context.Context, handler Handler, msg Message) error {
	backoff := b.cfg.HandlerBackoff
	for {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}

		slog.WarnContext(ctx, "handler failed, retrying",
			"topic", msg.Topic, "key", msg.Key, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, b.cfg.HandlerBackoffMax)
	}
}

// Close shuts down the writer and all readers.
func (b *KafkaBus) Close() error {
	var errs []error
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
