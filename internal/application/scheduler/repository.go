package scheduler

import (
	"context"
	"time"
)

// Repository is the storage surface behind the job runner.
// All methods are safe for concurrent use by multiple runner replicas;
// claiming is atomic, so two replicas never process the same job.
type Repository interface {
	// Enqueue inserts a pending job.
	// Returns domain.ErrConflict when the dedup key already exists.
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically claims the next due job for workerID and moves it
	// to running with a lease of lockFor. Jobs whose lease expired are
	// reclaimable. Returns nil when nothing is due.
	Claim(ctx context.Context, workerID string, lockFor time.Duration) (*Job, error)

	// ExtendLease pushes the claimed job's lease forward.
	// Returns ErrJobOwnershipLost when the job is no longer held by workerID.
	ExtendLease(ctx context.Context, jobID, workerID string, extension time.Duration) error

	// Complete marks the job done.
	// Returns ErrJobOwnershipLost when the job is no longer held by workerID.
	Complete(ctx context.Context, jobID, workerID string) error

	// Reschedule returns the job to pending with an incremented attempt
	// count, the given error recorded, and a new due time.
	// Returns ErrJobOwnershipLost when the job is no longer held by workerID.
	Reschedule(ctx context.Context, jobID, workerID, errMsg string, runAt time.Time) error

	// MarkDead moves the job to the dead state for manual review.
	// Returns ErrJobOwnershipLost when the job is no longer held by workerID.
	MarkDead(ctx context.Context, jobID, workerID, errMsg string) error

	// ListDead returns dead jobs for inspection, newest first.
	ListDead(ctx context.Context, limit int) ([]*Job, error)
}
