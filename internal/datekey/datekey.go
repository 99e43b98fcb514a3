// Package datekey maps instants onto Bangkok calendar days.
//
// Bangkok is a fixed UTC+7 zone with no daylight saving, so the conversion is
// a constant offset and never consults a timezone database.
package datekey

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	Layout = "2006-01-02"
	Offset = 7 * time.Hour
)

var ErrInvalidDateKey = errors.New("invalid date key")

var keyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// FromTime returns the Bangkok calendar day containing t.
func FromTime(t time.Time) string {
	return t.UTC().Add(Offset).Format(Layout)
}

func Today() string {
	return FromTime(time.Now())
}

// Parse returns UTC midnight of the calendar date named by key.
func Parse(key string) (time.Time, error) {
	if !keyPattern.MatchString(key) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
	}
	day, err := time.Parse(Layout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
	}
	return day, nil
}

func Validate(key string) error {
	_, err := Parse(key)
	return err
}

// UTCRange returns the first and last UTC instants (millisecond resolution)
// that belong to the Bangkok day key.
func UTCRange(key string) (start time.Time, end time.Time, err error) {
	day, err := Parse(key)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = day.Add(-Offset)
	end = start.Add(24*time.Hour - time.Millisecond)
	return start, end, nil
}

// SpanUTC covers every instant from the start of from to the end of to.
func SpanUTC(from string, to string) (time.Time, time.Time, error) {
	start, _, err := UTCRange(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	_, end, err := UTCRange(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s is after %s", ErrInvalidDateKey, from, to)
	}
	return start, end, nil
}

func Same(a time.Time, b time.Time) bool {
	return FromTime(a) == FromTime(b)
}

func AddDays(key string, days int) (string, error) {
	day, err := Parse(key)
	if err != nil {
		return "", err
	}
	return day.AddDate(0, 0, days).Format(Layout), nil
}

// MonthBounds returns the first and last day keys of the month containing key.
func MonthBounds(key string) (string, string, error) {
	day, err := Parse(key)
	if err != nil {
		return "", "", err
	}
	first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first.Format(Layout), last.Format(Layout), nil
}
