package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Handler processes one claimed job. Returning nil completes the job;
// Transient errors reschedule it per the retry policy; Discard completes it
// without effect; anything else marks it dead.
type Handler func(ctx context.Context, job *Job) error

// RetryPolicy maps an attempt count to the delay before the next try.
type RetryPolicy struct {
	// Delays holds the wait before retry N+1; attempts beyond the list
	// reuse the last entry.
	Delays []time.Duration
	// MaxAttempts is the total execution budget including the first run.
	MaxAttempts int
}

// DefaultRetryPolicy matches the reminder delivery schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays:      []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute},
		MaxAttempts: 1 + 3,
	}
}

// delayFor returns the wait after the given completed attempt count.
func (p RetryPolicy) delayFor(attempts int) time.Duration {
	if len(p.Delays) == 0 {
		return time.Minute
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Delays) {
		idx = len(p.Delays) - 1
	}
	return p.Delays[idx]
}

// Config configures a Runner.
type Config struct {
	WorkerID          string        // unique per replica, e.g. hostname-pid
	Concurrency       int           // max jobs in flight (default 4)
	PollInterval      time.Duration // claim attempt cadence when idle (default 1s)
	Lease             time.Duration // claim duration before reclamation (default 1min)
	HeartbeatInterval time.Duration // lease extension cadence (default 20s)
	Retry             RetryPolicy
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.Lease / 3
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
}

// Runner claims due jobs and dispatches them to registered handlers.
type Runner struct {
	repo     Repository
	cfg      Config
	handlers map[string]Handler
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewRunner creates a runner. Handlers are registered before Run.
func NewRunner(repo Repository, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{
		repo:     repo,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register installs the handler for a job kind. Not safe to call after Run.
func (r *Runner) Register(kind string, h Handler) {
	r.handlers[kind] = h
}

// Run claims and processes jobs until ctx is cancelled, then waits for
// in-flight jobs to finish.
func (r *Runner) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "job runner started",
		"worker_id", r.cfg.WorkerID,
		"concurrency", r.cfg.Concurrency,
		"poll_interval", r.cfg.PollInterval)

	sem := make(chan struct{}, r.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "shutdown requested, waiting for in-flight jobs")
			r.wg.Wait()
			slog.InfoContext(ctx, "job runner stopped")
			return nil
		case sem <- struct{}{}:
		}

		job, err := r.repo.Claim(ctx, r.cfg.WorkerID, r.cfg.Lease)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				continue
			}
			slog.ErrorContext(ctx, "failed to claim job", "error", err)
			r.sleep(ctx, r.cfg.PollInterval)
			continue
		}
		if job == nil {
			<-sem
			r.sleep(ctx, r.cfg.PollInterval)
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() { <-sem }()
			r.process(ctx, job)
		}()
	}
}

// RunOnce claims and processes at most one job; used by tests and manual
// drains. Reports whether a job was claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.repo.Claim(ctx, r.cfg.WorkerID, r.cfg.Lease)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	r.process(ctx, job)
	return true, nil
}

func (r *Runner) process(ctx context.Context, job *Job) {
	slog.InfoContext(ctx, "claimed job",
		"job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts, "worker_id", r.cfg.WorkerID)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.runHeartbeat(heartbeatCtx, job.ID)

	err := r.executeWithRecovery(ctx, job)
	stopHeartbeat()

	if err != nil {
		r.handleJobError(ctx, job, err)
		return
	}

	if err := r.repo.Complete(ctx, job.ID, r.cfg.WorkerID); err != nil {
		if errors.Is(err, ErrJobOwnershipLost) {
			slog.WarnContext(ctx, "job ownership lost at completion", "job_id", job.ID)
			return
		}
		slog.ErrorContext(ctx, "failed to mark job done", "job_id", job.ID, "error", err)
		return
	}
	slog.InfoContext(ctx, "job completed", "job_id", job.ID, "kind", job.Kind)
}

func (r *Runner) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.repo.ExtendLease(ctx, jobID, r.cfg.WorkerID, r.cfg.Lease); err != nil {
				slog.WarnContext(ctx, "heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (r *Runner) executeWithRecovery(ctx context.Context, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = PanicError{Value: rec, StackTrace: string(debug.Stack())}
		}
	}()

	handler, ok := r.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}
	return handler(ctx, job)
}

// handleJobError routes a failed execution: discards complete, transients
// reschedule within budget, everything else goes dead.
func (r *Runner) handleJobError(ctx context.Context, job *Job, err error) {
	if IsDiscard(err) {
		slog.InfoContext(ctx, "job discarded", "job_id", job.ID, "reason", err.Error())
		if cErr := r.repo.Complete(ctx, job.ID, r.cfg.WorkerID); cErr != nil && !errors.Is(cErr, ErrJobOwnershipLost) {
			slog.ErrorContext(ctx, "failed to complete discarded job", "job_id", job.ID, "error", cErr)
		}
		return
	}

	if IsPanic(err) {
		slog.ErrorContext(ctx, "job panicked", "job_id", job.ID, "error", err.Error())
		r.markDead(ctx, job, err)
		return
	}

	if !IsRetryable(err) {
		slog.ErrorContext(ctx, "job failed permanently", "job_id", job.ID, "error", err.Error())
		r.markDead(ctx, job, err)
		return
	}

	attempts := job.Attempts + 1
	if attempts >= r.cfg.Retry.MaxAttempts {
		slog.WarnContext(ctx, "job exhausted retries",
			"job_id", job.ID, "attempts", attempts, "error", err.Error())
		r.markDead(ctx, job, err)
		return
	}

	runAt := r.now().Add(r.cfg.Retry.delayFor(attempts))
	if rErr := r.repo.Reschedule(ctx, job.ID, r.cfg.WorkerID, err.Error(), runAt); rErr != nil {
		if errors.Is(rErr, ErrJobOwnershipLost) {
			slog.WarnContext(ctx, "job ownership lost while rescheduling", "job_id", job.ID)
			return
		}
		slog.ErrorContext(ctx, "failed to reschedule job", "job_id", job.ID, "error", rErr)
		return
	}
	slog.InfoContext(ctx, "job scheduled for retry",
		"job_id", job.ID, "attempts", attempts, "next_run", runAt, "error", err.Error())
}

func (r *Runner) markDead(ctx context.Context, job *Job, cause error) {
	if err := r.repo.MarkDead(ctx, job.ID, r.cfg.WorkerID, cause.Error()); err != nil {
		if errors.Is(err, ErrJobOwnershipLost) {
			slog.WarnContext(ctx, "job ownership lost while marking dead", "job_id", job.ID)
			return
		}
		slog.ErrorContext(ctx, "failed to mark job dead", "job_id", job.ID, "error", err)
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
