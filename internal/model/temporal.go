package model

import (
	"fmt"
	"strings"
	"time"
)

// Storage layouts.  Dates and times of day are kept as plain strings so the
// same schema works on every SQL driver; timestamps are always UTC.
const (
	DateLayout      = "2006-01-02"
	ClockLayout     = "15:04"
	TimestampLayout = "2006-01-02 15:04:05"
)

// dateLayouts lists every date representation found in stored records, in
// the order they are tried.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	TimestampLayout,
	"02/01/2006",
	"2006/01/02",
}

// ParseDate normalises a calendar date to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
}

// DateOf returns the calendar date of t in its own location, as midnight UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date in storage form.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// DaysBetween counts calendar days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// ParseClock converts "HH:MM" (or "HH:MM:SS") to minutes after midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{ClockLayout, "15:04:05", "3:04PM", "3:04 PM"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("%w: invalid time %q", ErrValidation, s)
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(m int) string { return fmt.Sprintf("%02d:%02d", m/60, m%60) }

// timestampLayouts covers what MySQL (with and without parseTime) and
// SQLite hand back for a timestamp column.
var timestampLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
}

// ParseTimestamp reads a stored timestamp as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatTimestamp renders t in storage form (UTC).
func FormatTimestamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }
