// Package window evaluates whether an instant falls inside a daily
// time-of-day window that may wrap past midnight.
package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tod-alerts/internal/metrics"
	"tod-alerts/internal/timeofday"
)

// Configuration field names, as they appear in condition configuration.
const (
	FieldStart = "startTime"
	FieldEnd   = "endTime"
)

// ConfigurationError reports a boundary that could not be parsed.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Window is a recurring daily window between two times of day. Either
// boundary may be absent, in which case the window never matches.
// A Window is immutable and safe for concurrent use.
type Window struct {
	id     string
	start  *timeofday.TimeOfDay
	end    *timeofday.TimeOfDay
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Window.
type Option func(*Window)

// WithID sets the condition id reported in log lines.
func WithID(id string) Option {
	return func(w *Window) {
		w.id = id
	}
}

// WithLogger sets the logger used for evaluation events.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Window) {
		w.logger = l
	}
}

// WithClock overrides the time source used by IsSatisfied.
func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		w.now = now
	}
}

// New creates a Window from already parsed boundaries. Nil means absent.
func New(start, end *timeofday.TimeOfDay, opts ...Option) *Window {
	w := &Window{
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	if start != nil {
		s := *start
		w.start = &s
	}
	if end != nil {
		e := *end
		w.end = &e
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Parse creates a Window from optional HH:MM[:SS] strings. A nil string
// leaves that boundary absent; malformed text returns a *ConfigurationError.
func Parse(start, end *string, opts ...Option) (*Window, error) {
	s, err := parseBoundary(FieldStart, start)
	if err != nil {
		return nil, err
	}
	e, err := parseBoundary(FieldEnd, end)
	if err != nil {
		return nil, err
	}
	return New(s, e, opts...), nil
}

func parseBoundary(field string, val *string) (*timeofday.TimeOfDay, error) {
	if val == nil {
		return nil, nil
	}
	tod, err := timeofday.Parse(*val)
	if err != nil {
		return nil, &ConfigurationError{Field: field, Value: *val, Err: err}
	}
	return &tod, nil
}

// Start returns the start boundary and whether it is set.
func (w *Window) Start() (timeofday.TimeOfDay, bool) {
	if w.start == nil {
		return timeofday.TimeOfDay{}, false
	}
	return *w.start, true
}

// End returns the end boundary and whether it is set.
func (w *Window) End() (timeofday.TimeOfDay, bool) {
	if w.end == nil {
		return timeofday.TimeOfDay{}, false
	}
	return *w.end, true
}

// Missing lists the configuration fields of absent boundaries.
func (w *Window) Missing() []string {
	var missing []string
	if w.start == nil {
		missing = append(missing, FieldStart)
	}
	if w.end == nil {
		missing = append(missing, FieldEnd)
	}
	return missing
}

// IsSatisfied evaluates the window against the configured clock.
func (w *Window) IsSatisfied() bool {
	return w.IsSatisfiedAt(w.now())
}

// IsSatisfiedAt reports whether the time of day of t, in t's location and
// truncated to the minute, lies inside the window.
//
// The start minute always matches, and is the only match when start equals
// end. Otherwise a window with start before end matches strictly between the
// two. A window with start after end wraps midnight and matches strictly after
// 00:00 and before end, or strictly after start and before 23:59. Neither
// 00:00 nor 23:59 match unless equal to start.
func (w *Window) IsSatisfiedAt(t time.Time) bool {
	if missing := w.Missing(); len(missing) > 0 {
		w.logger.Warn().
			Str("event", "misconfigured_window").
			Str("condition", w.id).
			Strs("missing", missing).
			Str("start", optString(w.start)).
			Str("end", optString(w.end)).
			Msg("time condition is not well configured")
		metrics.MisconfiguredWindows.WithLabelValues(strings.Join(missing, ",")).Inc()
		metrics.WindowEvaluations.WithLabelValues("misconfigured").Inc()
		return false
	}

	ok := w.contains(timeofday.FromTime(t))
	if ok {
		metrics.WindowEvaluations.WithLabelValues("satisfied").Inc()
	} else {
		metrics.WindowEvaluations.WithLabelValues("unsatisfied").Inc()
	}
	return ok
}

// InRollover reports whether t falls on 23:59 or 00:00 while a window that
// wraps midnight is still running. IsSatisfiedAt is false for those minutes
// even though the window continues on the other side of midnight.
func (w *Window) InRollover(t time.Time) bool {
	if w.start == nil || w.end == nil {
		return false
	}
	start, end := *w.start, *w.end
	if !start.After(end) {
		return false
	}
	current := timeofday.FromTime(t)
	switch {
	case current.Equal(timeofday.EndOfDay):
		return true
	case current.Equal(timeofday.Midnight):
		return end.After(timeofday.Midnight)
	}
	return false
}

func (w *Window) contains(current timeofday.TimeOfDay) bool {
	start, end := *w.start, *w.end

	if current.Equal(start) {
		w.debug(current, "current time equals start time")
		return true
	}
	if start.Equal(end) {
		w.debug(current, "start equals end; only the start minute matches")
		return false
	}

	if start.Before(end) {
		if current.After(start) && current.Before(end) {
			w.debug(current, "current time is between start and end")
			return true
		}
		return false
	}

	// Wraps midnight, e.g. 19:00-07:00 covers 19:00-23:59 and 00:00-07:00.
	if current.After(timeofday.Midnight) && current.Before(end) {
		w.debug(current, "current time is between midnight and end")
		return true
	}
	if current.After(start) && current.Before(timeofday.EndOfDay) {
		w.debug(current, "current time is between start and end of day")
		return true
	}
	return false
}

func (w *Window) debug(current timeofday.TimeOfDay, msg string) {
	w.logger.Debug().
		Str("condition", w.id).
		Stringer("current", current).
		Stringer("start", w.start).
		Stringer("end", w.end).
		Msg(msg)
}

// String renders the window as HH:MM-HH:MM, with "unset" for absent boundaries.
func (w *Window) String() string {
	return optString(w.start) + "-" + optString(w.end)
}

func optString(t *timeofday.TimeOfDay) string {
	if t == nil {
		return "unset"
	}
	return t.String()
}
