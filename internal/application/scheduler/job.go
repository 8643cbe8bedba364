// Package scheduler runs durable, at-least-once background jobs backed by
// the scheduled_jobs table. Jobs survive process restarts; a lease with
// heartbeat extension lets another replica reclaim work from a crashed one.
package scheduler

import (
	"encoding/json"
	"time"
)

// State is the lifecycle of a scheduled job.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateDead    State = "dead"
)

// Job is one durable unit of deferred work.
type Job struct {
	ID   string
	Kind string

	// DedupKey, when set, makes enqueueing idempotent: a second job with
	// the same key is rejected as a conflict and the caller treats that
	// as success.
	DedupKey *string

	Payload json.RawMessage

	// DueAt is the earliest time the job may be claimed.
	DueAt time.Time

	State    State
	Attempts int

	LockedUntil *time.Time
	LockedBy    *string
	LastError   *string
	CreatedAt   time.Time
}

// KindReminderFire is the job kind that delivers a due reminder.
const KindReminderFire = "reminder.fire"

// ReminderDedupKey builds the dedup key guaranteeing one firing job per
// reminder regardless of how many times its creation event is delivered.
func ReminderDedupKey(reminderID string) string {
	return "reminder:" + reminderID
}
