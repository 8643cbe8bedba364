package domain

import (
	"fmt"
	"strings"
)

// Title limits follow the storage schema: 1..500 characters after trimming.
const MaxTitleLength = 500

// Tag limits: at most MaxTags per task, each at most MaxTagLength characters.
// Tags match case-insensitively; they are stored lowercased.
const (
	MaxTags      = 10
	MaxTagLength = 50
)

// Recurrence interval bounds per pattern.
const (
	MaxDailyInterval   = 365
	MaxWeeklyInterval  = 52
	MaxMonthlyInterval = 12
)

// NewTitle validates and normalises a task title.
func NewTitle(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrTitleRequired
	}
	if len(s) > MaxTitleLength {
		return "", ErrTitleTooLong
	}
	return s, nil
}

// NewPriority validates a priority string. Empty defaults to normal.
func NewPriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToLower(s))
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidPriority, s)
	}
}

// NewRecurrencePattern validates a recurrence pattern string.
func NewRecurrencePattern(s string) (RecurrencePattern, error) {
	p := RecurrencePattern(strings.ToLower(s))
	switch p {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidPattern, s)
	}
}

// ValidateInterval checks the interval against the per-pattern bounds.
func ValidateInterval(pattern RecurrencePattern, interval int) error {
	max := 0
	switch pattern {
	case RecurrenceDaily:
		max = MaxDailyInterval
	case RecurrenceWeekly:
		max = MaxWeeklyInterval
	case RecurrenceMonthly:
		max = MaxMonthlyInterval
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPattern, pattern)
	}
	if interval < 1 || interval > max {
		return fmt.Errorf("%w: %d for %s (1..%d)", ErrInvalidInterval, interval, pattern, max)
	}
	return nil
}

// NormalizeTags lowercases, trims, and validates a tag list.
// Order is preserved; duplicates after normalisation are collapsed.
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) > MaxTags {
		return nil, ErrTooManyTags
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if len(t) > MaxTagLength {
			return nil, ErrTagTooLong
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
