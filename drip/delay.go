package drip

import (
	"fmt"
	"time"

	"dripline/models"
)

// ResolveFireTime converts a relative step delay into an absolute fire time
// anchored on ref. Minutes, hours and days are fixed durations; weeks and
// months follow the calendar of ref's location. A month delay that lands past
// the end of a shorter month is clamped to that month's last day.
func ResolveFireTime(ref time.Time, delayType models.DelayType, value int, unit models.DelayUnit) (time.Time, error) {
	switch delayType {
	case models.DelayImmediate:
		return ref, nil
	case models.DelayAfter:
	default:
		return time.Time{}, fmt.Errorf("%w: delay type %q", ErrInvalidDelay, delayType)
	}

	if value < 0 {
		value = 0
	}

	switch unit {
	case models.UnitMinutes:
		return ref.Add(time.Duration(value) * time.Minute), nil
	case models.UnitHours:
		return ref.Add(time.Duration(value) * time.Hour), nil
	case models.UnitDays:
		return ref.Add(time.Duration(value) * 24 * time.Hour), nil
	case models.UnitWeeks:
		return ref.AddDate(0, 0, 7*value), nil
	case models.UnitMonths:
		return addMonths(ref, value), nil
	default:
		return time.Time{}, fmt.Errorf("%w: delay unit %q", ErrInvalidDelay, unit)
	}
}

// ResolveStep resolves the fire time of a step. Immediate steps ignore any
// stored delay value.
func ResolveStep(ref time.Time, step models.DripStep) (time.Time, error) {
	return ResolveFireTime(ref, step.DelayType, step.EffectiveDelay(), step.DelayUnit)
}

func addMonths(t time.Time, n int) time.Time {
	if n == 0 {
		return t
	}
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	first := time.Date(y, m+time.Month(n), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
