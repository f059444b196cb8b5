package schedule

import (
	"errors"
	"time"

	"github.com/gantrydev/gantry/internal/domain"
)

// ErrUnknownRecurrence signals an unrecognized recurrence pattern on a
// recurring schedule.
var ErrUnknownRecurrence = errors.New("schedule: unknown recurrence pattern")

// NextRun advances a schedule's fire time by one recurrence interval. The base
// is the previous scheduled time, not the completion time, so a late run does
// not drift the cadence. Monthly follows calendar months; time.AddDate
// normalizes overflow (Jan 31 + 1 month lands in early March).
func NextRun(from time.Time, pattern domain.RecurrencePattern) (time.Time, error) {
	switch pattern {
	case domain.RecurDaily:
		return from.Add(24 * time.Hour), nil
	case domain.RecurWeekly:
		return from.Add(7 * 24 * time.Hour), nil
	case domain.RecurMonthly:
		return from.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, ErrUnknownRecurrence
	}
}
