package domain

import (
	"fmt"
	"time"
)

// DurationType names how long a bundle grant lasts.
type DurationType string

const (
	DurationLifetime DurationType = "lifetime"
	DurationDays     DurationType = "days"
	DurationMonths   DurationType = "months"
	DurationYears    DurationType = "years"
)

// Duration is a bundle's duration policy: lifetime, or N days/months/years.
type Duration struct {
	Type  DurationType `json:"type"`
	Value int          `json:"value"`
}

// Lifetime is the perpetual duration policy.
var Lifetime = Duration{Type: DurationLifetime}

// Validate checks the policy is well formed.
func (d Duration) Validate() error {
	switch d.Type {
	case DurationLifetime:
		return nil
	case DurationDays, DurationMonths, DurationYears:
		if d.Value <= 0 {
			return fmt.Errorf("duration %s requires a positive value, got %d", d.Type, d.Value)
		}
		return nil
	default:
		return fmt.Errorf("unknown duration type %q", d.Type)
	}
}

// ExpiryFrom returns the expiry of a grant starting at start, or nil for a
// perpetual grant. Month and year arithmetic clamps to the last valid day of
// the target month, so Jan 31 + 1 month is the last day of February.
func (d Duration) ExpiryFrom(start time.Time) *time.Time {
	var t time.Time
	switch d.Type {
	case DurationDays:
		t = start.AddDate(0, 0, d.Value)
	case DurationMonths:
		t = addMonthsClamped(start, d.Value)
	case DurationYears:
		t = addMonthsClamped(start, 12*d.Value)
	default:
		return nil
	}
	return &t
}

// addMonthsClamped adds n calendar months to t. Unlike time.AddDate it never
// overflows into the following month.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	total := int(m) - 1 + n
	y += total / 12
	total %= 12
	if total < 0 {
		total += 12
		y--
	}
	month := time.Month(total + 1)

	if last := daysIn(y, month, t.Location()); d > last {
		d = last
	}
	return time.Date(y, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
