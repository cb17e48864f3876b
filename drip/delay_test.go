package drip

import (
	"errors"
	"testing"
	"time"

	"dripline/models"
)

func TestResolveFireTime(t *testing.T) {
	ref := time.Date(2024, time.March, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		typ   models.DelayType
		value int
		unit  models.DelayUnit
		want  time.Time
	}{
		{"immediate", models.DelayImmediate, 5, models.UnitDays, ref},
		{"minutes", models.DelayAfter, 45, models.UnitMinutes, ref.Add(45 * time.Minute)},
		{"hours", models.DelayAfter, 3, models.UnitHours, ref.Add(3 * time.Hour)},
		{"days", models.DelayAfter, 2, models.UnitDays, ref.Add(48 * time.Hour)},
		{"weeks", models.DelayAfter, 2, models.UnitWeeks, time.Date(2024, time.March, 24, 9, 30, 0, 0, time.UTC)},
		{"months", models.DelayAfter, 1, models.UnitMonths, time.Date(2024, time.April, 10, 9, 30, 0, 0, time.UTC)},
		{"zero after", models.DelayAfter, 0, models.UnitDays, ref},
		{"negative clamps", models.DelayAfter, -4, models.UnitHours, ref},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveFireTime(ref, tt.typ, tt.value, tt.unit)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveFireTimeMonthEnd(t *testing.T) {
	tests := []struct {
		ref    time.Time
		months int
		want   time.Time
	}{
		{time.Date(2023, time.January, 31, 8, 0, 0, 0, time.UTC), 1, time.Date(2023, time.February, 28, 8, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.January, 31, 8, 0, 0, 0, time.UTC), 1, time.Date(2024, time.February, 29, 8, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.March, 31, 8, 0, 0, 0, time.UTC), 1, time.Date(2024, time.April, 30, 8, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.August, 31, 8, 0, 0, 0, time.UTC), 6, time.Date(2025, time.February, 28, 8, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.December, 15, 8, 0, 0, 0, time.UTC), 1, time.Date(2025, time.January, 15, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ResolveFireTime(tt.ref, models.DelayAfter, tt.months, models.UnitMonths)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%s + %d months = %s, want %s", tt.ref.Format("2006-01-02"), tt.months, got, tt.want)
		}
	}
}

func TestResolveFireTimeInvalid(t *testing.T) {
	ref := time.Now()
	if _, err := ResolveFireTime(ref, models.DelayAfter, 1, "fortnights"); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("expected ErrInvalidDelay for unit, got %v", err)
	}
	if _, err := ResolveFireTime(ref, "later", 1, models.UnitDays); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("expected ErrInvalidDelay for type, got %v", err)
	}
}

func TestResolveFireTimeMonotonic(t *testing.T) {
	ref := time.Date(2024, time.January, 31, 23, 59, 0, 0, time.UTC)
	units := []models.DelayUnit{models.UnitMinutes, models.UnitHours, models.UnitDays, models.UnitWeeks, models.UnitMonths}

	for _, unit := range units {
		prev := ref
		for v := 0; v <= 24; v++ {
			got, err := ResolveFireTime(ref, models.DelayAfter, v, unit)
			if err != nil {
				t.Fatalf("resolve %d %s: %v", v, unit, err)
			}
			if got.Before(prev) {
				t.Fatalf("%d %s resolved to %s, before %s", v, unit, got, prev)
			}
			prev = got
		}
	}
}

func TestResolveFireTimeKeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	ref := time.Date(2024, time.May, 31, 22, 0, 0, 0, loc)

	got, err := ResolveFireTime(ref, models.DelayAfter, 1, models.UnitMonths)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := time.Date(2024, time.June, 30, 22, 0, 0, 0, loc)
	if !got.Equal(want) || got.Location() != loc {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestResolveStepIgnoresValueWhenImmediate(t *testing.T) {
	ref := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	step := models.DripStep{DelayType: models.DelayImmediate, DelayValue: 9, DelayUnit: models.UnitWeeks}

	got, err := ResolveStep(ref, step)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.Equal(ref) {
		t.Fatalf("got %s, want %s", got, ref)
	}
}
