package timeofday

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date, truncated to the minute.
type TimeOfDay struct {
	minutes int // since midnight, 0..1439
}

var (
	// Midnight is 00:00.
	Midnight = TimeOfDay{}
	// EndOfDay is the last representable minute of the day, 23:59.
	EndOfDay = TimeOfDay{minutes: 24*60 - 1}
)

var textPattern = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2}(\.\d{1,9})?)?$`)

// ParseError reports a time of day that could not be parsed.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid time of day %q, expected HH:MM[:SS]: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse converts HH:MM, HH:MM:SS or HH:MM:SS.fraction (24h) to a TimeOfDay.
// Seconds and fractions are dropped.
func Parse(val string) (TimeOfDay, error) {
	val = strings.TrimSpace(val)
	if !textPattern.MatchString(val) {
		return TimeOfDay{}, &ParseError{Value: val, Err: fmt.Errorf("malformed")}
	}
	layout := "15:04"
	if len(val) > len(layout) {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, val)
	if err != nil {
		return TimeOfDay{}, &ParseError{Value: val, Err: err}
	}
	return Of(t.Hour(), t.Minute())
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(val string) TimeOfDay {
	tod, err := Parse(val)
	if err != nil {
		panic(err)
	}
	return tod
}

// Of builds a TimeOfDay from an hour (0-23) and minute (0-59).
func Of(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, &ParseError{
			Value: fmt.Sprintf("%02d:%02d", hour, minute),
			Err:   fmt.Errorf("out of range"),
		}
	}
	return TimeOfDay{minutes: hour*60 + minute}, nil
}

// FromTime returns the time of day of t in t's own location, truncated to the minute.
func FromTime(t time.Time) TimeOfDay {
	return TimeOfDay{minutes: t.Hour()*60 + t.Minute()}
}

func (t TimeOfDay) Hour() int   { return t.minutes / 60 }
func (t TimeOfDay) Minute() int { return t.minutes % 60 }

func (t TimeOfDay) Before(o TimeOfDay) bool { return t.minutes < o.minutes }
func (t TimeOfDay) After(o TimeOfDay) bool  { return t.minutes > o.minutes }
func (t TimeOfDay) Equal(o TimeOfDay) bool  { return t.minutes == o.minutes }

// On places t on the calendar day of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, d.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}
