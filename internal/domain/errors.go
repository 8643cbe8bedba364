package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by services and repository implementations.
// Callers classify with errors.Is; transport layers map these to status codes.

var (
	// ErrTaskNotFound indicates the task does not exist for this user.
	// Deliberately identical for "absent" and "owned by someone else".
	ErrTaskNotFound = errors.New("task not found")

	// ErrReminderNotFound indicates the reminder does not exist for this user.
	ErrReminderNotFound = errors.New("reminder not found")

	// ErrRuleNotFound indicates the recurrence rule does not exist.
	ErrRuleNotFound = errors.New("recurrence rule not found")

	// ErrConflict indicates a store invariant violation (uniqueness,
	// referential integrity).
	ErrConflict = errors.New("conflict")

	// ErrUnavailable indicates a transient dependency failure; the caller
	// may retry.
	ErrUnavailable = errors.New("temporarily unavailable")

	// ErrUnauthenticated indicates a missing or invalid credential.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Validation sentinels. Each names the offending constraint so the transport
// layer can build field-level error details.
var (
	ErrTitleRequired      = errors.New("title is required")
	ErrTitleTooLong       = errors.New("title must be 500 characters or less")
	ErrTooManyTags        = errors.New("at most 10 tags are allowed")
	ErrTagTooLong         = errors.New("tags must be 50 characters or less")
	ErrInvalidPriority    = errors.New("invalid priority")
	ErrInvalidPattern     = errors.New("invalid recurrence pattern")
	ErrInvalidInterval    = errors.New("recurrence interval out of range")
	ErrDueDateInPast      = errors.New("due date must be in the future")
	ErrDueDateOnCompleted = errors.New("cannot change due date of a completed task")
	ErrReminderAfterDue   = errors.New("reminder time must not be after the due date")
	ErrReminderInPast     = errors.New("reminder time must be in the future")
	ErrReminderWithoutDue = errors.New("reminders require a due date")
	ErrEmptyUpdate        = errors.New("update contains no fields")
	ErrInvalidCursor      = errors.New("invalid page cursor")
)

// ValidationError wraps a validation sentinel with the field it applies to.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a field-scoped validation error.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err carries a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
