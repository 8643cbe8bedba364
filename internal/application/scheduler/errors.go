package scheduler

import (
	"errors"
	"fmt"
)

// ErrJobOwnershipLost is returned by repository methods when the lease on a
// job expired and another worker reclaimed it.
var ErrJobOwnershipLost = errors.New("job ownership lost")

// ErrUnknownKind is returned when a claimed job has no registered handler.
var ErrUnknownKind = errors.New("no handler registered for job kind")

// RetryableError wraps transient failures that should be retried. Only
// errors wrapped with Transient are retried; everything else is treated as
// permanent and the job goes dead.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient marks an error as retryable.
// Use for network timeouts, lost database connections, and rate limits; not
// for validation failures or missing rows.
func Transient(err error) error {
	return RetryableError{Err: err}
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// PanicError records a panic during job processing. Panicked jobs go dead
// immediately; a panic is a programming error, not a transient condition.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic reports whether the error came from a recovered panic.
func IsPanic(err error) bool {
	var panicErr PanicError
	return errors.As(err, &panicErr)
}

// Discard signals the job is moot and should complete without effect.
// Handlers return this when the work's subject no longer exists, for
// example a reminder whose task was deleted before it fired.
type Discard struct {
	Reason string
}

func (e Discard) Error() string {
	return fmt.Sprintf("job discarded: %s", e.Reason)
}

// IsDiscard reports whether the error requests a silent completion.
func IsDiscard(err error) bool {
	var d Discard
	return errors.As(err, &d)
}
