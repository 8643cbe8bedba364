package recurring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/taskstream/internal/domain"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		name     string
		after    string
		pattern  domain.RecurrencePattern
		interval int
		want     string
	}{
		{"daily", "2026-01-13T10:00:00Z", domain.RecurrenceDaily, 1, "2026-01-14T10:00:00Z"},
		{"every 3 days", "2026-01-13T10:00:00Z", domain.RecurrenceDaily, 3, "2026-01-16T10:00:00Z"},
		{"daily across month end", "2026-01-31T08:30:00Z", domain.RecurrenceDaily, 1, "2026-02-01T08:30:00Z"},
		{"weekly preserves time of day", "2026-01-13T10:00:00Z", domain.RecurrenceWeekly, 1, "2026-01-20T10:00:00Z"},
		{"biweekly", "2026-01-13T10:00:00Z", domain.RecurrenceWeekly, 2, "2026-01-27T10:00:00Z"},
		{"monthly plain", "2026-01-15T09:00:00Z", domain.RecurrenceMonthly, 1, "2026-02-15T09:00:00Z"},
		{"monthly jan 31 clamps to feb 28", "2026-01-31T10:00:00Z", domain.RecurrenceMonthly, 1, "2026-02-28T10:00:00Z"},
		{"monthly jan 31 leap year clamps to feb 29", "2028-01-31T10:00:00Z", domain.RecurrenceMonthly, 1, "2028-02-29T10:00:00Z"},
		{"monthly may 31 to jun 30", "2026-05-31T23:15:00Z", domain.RecurrenceMonthly, 1, "2026-06-30T23:15:00Z"},
		{"quarterly from nov 30", "2026-11-30T12:00:00Z", domain.RecurrenceMonthly, 3, "2027-02-28T12:00:00Z"},
		{"monthly across year end", "2026-12-31T10:00:00Z", domain.RecurrenceMonthly, 2, "2027-02-28T10:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDueDate(ts(tt.after), tt.pattern, tt.interval)
			require.NoError(t, err)
			assert.Equal(t, ts(tt.want), got)
		})
	}
}

func TestNextDueDateRejectsBadInputs(t *testing.T) {
	_, err := NextDueDate(ts("2026-01-13T10:00:00Z"), domain.RecurrenceDaily, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)

	_, err = NextDueDate(ts("2026-01-13T10:00:00Z"), "yearly", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidPattern)
}

func TestNextDueDateNormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	after := time.Date(2026, 1, 13, 12, 0, 0, 0, loc)

	got, err := NextDueDate(after, domain.RecurrenceWeekly, 1)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, ts("2026-01-20T10:00:00Z"), got)
}
