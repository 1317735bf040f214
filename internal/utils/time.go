package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/milkrun/internal/constants"
)

// DateKey normalizes an ISO-8601 date or date-time string to its date-only
// component (YYYY-MM-DD). Everything from the "T" separator onward is dropped,
// so "2024-05-01T00:00:00.000Z" and "2024-05-01" share a key.
func DateKey(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, constants.DateTimeSeparator); i >= 0 {
		s = s[:i]
	}
	return s
}

// DateKeyOf formats the calendar day of t in t's own location.
func DateKeyOf(t time.Time) string {
	return t.Format(constants.DateFormat)
}

// SameDay compares two wire dates by their date-only keys.
func SameDay(a, b string) bool {
	return DateKey(a) != "" && DateKey(a) == DateKey(b)
}

// ParseDate parses a date or date-time string as a local calendar day at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	key := DateKey(s)
	t, err := time.Parse(constants.DateFormat, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

// ValidDate reports whether s normalizes to a parseable YYYY-MM-DD day.
func ValidDate(s string) bool {
	_, err := ParseDate(s, time.UTC)
	return err == nil
}

// AddDays shifts a YYYY-MM-DD key by n calendar days.
func AddDays(key string, n int) (string, error) {
	t, err := ParseDate(key, time.UTC)
	if err != nil {
		return "", err
	}
	return DateKeyOf(t.AddDate(0, 0, n)), nil
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// CompareDates orders two wire dates by their date-only keys. Keys are
// zero-padded so lexical order matches calendar order.
func CompareDates(a, b string) int {
	return strings.Compare(DateKey(a), DateKey(b))
}

// IsPast reports whether date is strictly before today. Today itself is not past.
func IsPast(date, today string) bool {
	return CompareDates(date, today) < 0
}

// MonthRange returns the first and last day keys of the given month.
func MonthRange(year int, month time.Month) (string, string) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return DateKeyOf(first), DateKeyOf(last)
}

// LoadLocation loads a timezone location from an IANA timezone name.
// If the timezone is "Local" or empty, it returns the system's local timezone.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(timezone)
}

// NowInTimezone returns the current time in the specified timezone.
func NowInTimezone(timezone string) (time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return time.Now().In(loc), nil
}

// GetTodayInTimezone returns today's date string (YYYY-MM-DD) in the specified timezone.
func GetTodayInTimezone(timezone string) (string, error) {
	now, err := NowInTimezone(timezone)
	if err != nil {
		return "", err
	}
	return DateKeyOf(now), nil
}

// ValidateTimezone checks if the timezone name is valid.
func ValidateTimezone(timezone string) bool {
	if timezone == "" || timezone == "Local" {
		return true
	}
	_, err := time.LoadLocation(timezone)
	return err == nil
}

// Clock supplies the current time. Components take one so tests can pin "today".
type Clock func() time.Time

// SystemClock is the wall clock in the local timezone.
func SystemClock() time.Time { return time.Now() }

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// Today returns the clock's calendar day as a date key.
func (c Clock) Today() string {
	if c == nil {
		return DateKeyOf(time.Now())
	}
	return DateKeyOf(c())
}
