package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/taskstream/internal/application/scheduler"
)

const jobColumns = `id, kind, dedup_key, payload, due_time, state, attempts, locked_until, locked_by, last_error, created_at`

func scanJob(row pgx.Row) (*scheduler.Job, error) {
	var j scheduler.Job
	var state string
	err := row.Scan(&j.ID, &j.Kind, &j.DedupKey, &j.Payload, &j.DueAt, &state,
		&j.Attempts, &j.LockedUntil, &j.LockedBy, &j.LastError, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.State = scheduler.State(state)
	return &j, nil
}

// Enqueue inserts a pending job. A dedup-key collision surfaces as
// domain.ErrConflict, which callers treat as already-scheduled.
func (s *Store) Enqueue(ctx context.Context, job *scheduler.Job) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scheduled_jobs (id, kind, dedup_key, payload, due_time, state, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, now())`,
		job.ID, job.Kind, job.DedupKey, job.Payload, job.DueAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", mapError(err))
	}
	return nil
}

// Claim atomically claims the next due job. The conditional UPDATE is the
// single-winner mechanism: under concurrency only one worker's row survives
// the state check. Jobs whose lease lapsed while running are reclaimable.
func (s *Store) Claim(ctx context.Context, workerID string, lockFor time.Duration) (*scheduler.Job, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE scheduled_jobs
		SET state = 'running', locked_until = now() + $2, locked_by = $1
		WHERE id = (
			SELECT id FROM scheduled_jobs
			WHERE (state = 'pending' AND due_time <= now())
			   OR (state = 'running' AND locked_until < now())
			ORDER BY due_time ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, workerID, lockFor)

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", mapError(err))
	}
	return j, nil
}

// ExtendLease pushes the lease forward while the job is still held.
func (s *Store) ExtendLease(ctx context.Context, jobID, workerID string, extension time.Duration) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_jobs SET locked_until = now() + $3
		WHERE id = $1 AND state = 'running' AND locked_by = $2`,
		jobID, workerID, extension)
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrJobOwnershipLost
	}
	return nil
}

// Complete marks the job done.
func (s *Store) Complete(ctx context.Context, jobID, workerID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_jobs
		SET state = 'done', locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND state = 'running' AND locked_by = $2`,
		jobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrJobOwnershipLost
	}
	return nil
}

// Reschedule returns the job to pending for a later attempt.
func (s *Store) Reschedule(ctx context.Context, jobID, workerID, errMsg string, runAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_jobs
		SET state = 'pending', attempts = attempts + 1, due_time = $3,
		    last_error = $4, locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND state = 'running' AND locked_by = $2`,
		jobID, workerID, runAt, errMsg)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrJobOwnershipLost
	}
	return nil
}

// MarkDead moves the job to the dead state for manual review.
func (s *Store) MarkDead(ctx context.Context, jobID, workerID, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_jobs
		SET state = 'dead', attempts = attempts + 1, last_error = $3,
		    locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND state = 'running' AND locked_by = $2`,
		jobID, workerID, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark job dead: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrJobOwnershipLost
	}
	return nil
}

// ListDead returns dead jobs newest first.
func (s *Store) ListDead(ctx context.Context, limit int) ([]*scheduler.Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE state = 'dead'
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %w", mapError(err))
	}
	defer rows.Close()

	var jobs []*scheduler.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", mapError(err))
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job rows: %w", mapError(err))
	}
	return jobs, nil
}
