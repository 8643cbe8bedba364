// Package recurring computes the due date of the next instance in a
// recurring chain. The pattern set is a closed sum: adding a pattern means
// adding a calculator here and nowhere else.
package recurring

import (
	"fmt"
	"time"

	"github.com/rezkam/taskstream/internal/domain"
)

// NextDueDate computes the due date of the next instance after the given
// one, according to the rule's pattern and interval.
//
//   - daily: + interval days
//   - weekly: + interval weeks, preserving time-of-day
//   - monthly: + interval months; when the day-of-month does not exist in
//     the target month the date clamps to that month's last day
//
// The input is the completed instance's due date (callers substitute now()
// when the task had none).
func NextDueDate(after time.Time, pattern domain.RecurrencePattern, interval int) (time.Time, error) {
	if interval < 1 {
		return time.Time{}, fmt.Errorf("%w: %d", domain.ErrInvalidInterval, interval)
	}

	after = after.UTC()
	switch pattern {
	case domain.RecurrenceDaily:
		return after.AddDate(0, 0, interval), nil
	case domain.RecurrenceWeekly:
		return after.AddDate(0, 0, 7*interval), nil
	case domain.RecurrenceMonthly:
		return addMonthsClamped(after, interval), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrInvalidPattern, pattern)
	}
}

// addMonthsClamped adds months without the AddDate overflow behaviour:
// Jan 31 + 1 month is Feb 28 (or 29), not Mar 3.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	target := time.Date(year, month+time.Month(months), 1, hour, min, sec, t.Nanosecond(), time.UTC)
	if last := lastDayOfMonth(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, min, sec, t.Nanosecond(), time.UTC)
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
