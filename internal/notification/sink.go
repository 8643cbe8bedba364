// Package notification delivers due reminders to the user's configured
// channel and owns the reminder's terminal state transitions.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rezkam/taskstream/internal/event"
)

// Payload is what a sink receives for one due reminder.
type Payload struct {
	ReminderID string             `json:"reminder_id"`
	UserID     string             `json:"user_id"`
	RemindAt   time.Time          `json:"reminder_time"`
	Task       event.TaskSnapshot `json:"task"`
}

// Sink is the delivery channel abstraction. Implementations must be safe
// for concurrent use.
type Sink interface {
	Deliver(ctx context.Context, p Payload) error
}

// WebhookSink POSTs the payload as JSON to a fixed endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient overrides the default instrumented client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = c }
}

// NewWebhookSink creates a sink posting to url with a 5 second timeout.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver posts the reminder payload. Non-2xx responses are errors.
func (s *WebhookSink) Deliver(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Sink = (*WebhookSink)(nil)
