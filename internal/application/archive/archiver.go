// Package archive exports aged audit rows to object storage and trims them
// from the hot table. The export-then-delete order makes a crash safe: rows
// are only removed after the object is durably written, and a re-export of
// the same rows just produces an extra object with duplicate lines.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/taskstream/internal/domain"
)

// Defaults.
const (
	DefaultRetention = 90 * 24 * time.Hour
	DefaultInterval  = 24 * time.Hour
	DefaultBatchSize = 1000
)

// Store is the audit-table surface the archiver needs.
type Store interface {
	// ListAuditEntriesBefore returns rows older than the cutoff in
	// timestamp order.
	ListAuditEntriesBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.AuditLogEntry, error)

	// DeleteAuditEntries removes exported rows and reports how many went.
	DeleteAuditEntries(ctx context.Context, ids []string) (int64, error)
}

// ObjectWriter persists one named export object.
type ObjectWriter interface {
	WriteObject(ctx context.Context, name string, data []byte) error
}

// Archiver moves audit rows past the retention window into object storage.
type Archiver struct {
	store     Store
	objects   ObjectWriter
	retention time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithRetention sets how long rows stay in the hot table.
func WithRetention(d time.Duration) Option {
	return func(a *Archiver) { a.retention = d }
}

// WithInterval sets the archiving cadence.
func WithInterval(d time.Duration) Option {
	return func(a *Archiver) { a.interval = d }
}

// WithBatchSize caps rows per export object.
func WithBatchSize(n int) Option {
	return func(a *Archiver) { a.batchSize = n }
}

// NewArchiver creates an archiver over the given store and object writer.
func NewArchiver(store Store, objects ObjectWriter, opts ...Option) *Archiver {
	a := &Archiver{
		store:     store,
		objects:   objects,
		retention: DefaultRetention,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run archives on a ticker until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "audit archiver started",
		"retention", a.retention, "interval", a.interval)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "audit archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.ArchiveOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "audit archive cycle failed", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "archived audit rows", "count", n)
			}
		}
	}
}

// ArchiveOnce exports and trims every batch currently past retention.
// Returns the number of rows moved.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.retention)
	total := 0

	for {
		entries, err := a.store.ListAuditEntriesBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list archivable audit rows: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		name := a.objectName(entries[0].Timestamp)
		data, err := encodeNDJSON(entries)
		if err != nil {
			return total, err
		}
		if err := a.objects.WriteObject(ctx, name, data); err != nil {
			return total, fmt.Errorf("failed to write archive object %s: %w", name, err)
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		deleted, err := a.store.DeleteAuditEntries(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("failed to trim archived audit rows: %w", err)
		}
		total += int(deleted)

		if len(entries) < a.batchSize {
			return total, nil
		}
	}
}

// objectName builds a unique, date-partitioned object path.
func (a *Archiver) objectName(firstTS time.Time) string {
	return fmt.Sprintf("audit/%s/%s-%s.ndjson",
		firstTS.UTC().Format("2006/01/02"),
		firstTS.UTC().Format("150405"),
		uuid.NewString())
}

// encodeNDJSON writes one JSON document per line.
func encodeNDJSON(entries []*domain.AuditLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(exportRecord{
			ID:        e.ID,
			EventID:   e.EventID,
			EventType: e.EventType,
			UserID:    e.UserID,
			TaskID:    e.TaskID,
			Details:   e.Details,
			Timestamp: e.Timestamp,
		}); err != nil {
			return nil, fmt.Errorf("failed to encode audit entry %s: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// exportRecord is the stable export schema, decoupled from the domain type.
type exportRecord struct {
	ID        string         `json:"id"`
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id"`
	TaskID    *string        `json:"task_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
