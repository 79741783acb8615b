package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tod-alerts/internal/window"
)

// Compiled is a rule whose windows and schedules have been parsed.
type Compiled struct {
	Rule  Rule
	gates []gate
}

type gate struct {
	when   When
	window *window.Window
	sched  cron.Schedule
}

// Compile parses the windows and schedules of every rule. Malformed
// boundaries fail with an error wrapping *window.ConfigurationError.
func Compile(rules []Rule, logger zerolog.Logger) ([]Compiled, error) {
	out := make([]Compiled, 0, len(rules))
	for _, r := range rules {
		c := Compiled{Rule: r}
		for i, when := range r.When {
			g, err := compileWhen(r.Name, i, when, logger)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Name, err)
			}
			c.gates = append(c.gates, g)
		}
		out = append(out, c)
	}
	return out, nil
}

func compileWhen(name string, idx int, when When, logger zerolog.Logger) (gate, error) {
	id := name
	if idx > 0 {
		id = fmt.Sprintf("%s#%d", name, idx)
	}
	w, err := window.Parse(when.StartTime, when.EndTime,
		window.WithID(id),
		window.WithLogger(logger.With().Str("rule", name).Logger()),
	)
	if err != nil {
		return gate{}, err
	}
	g := gate{when: when, window: w}
	if when.Schedule != "" {
		sched, err := cron.ParseStandard(when.Schedule)
		if err != nil {
			return gate{}, fmt.Errorf("schedule %q: %w", when.Schedule, err)
		}
		g.sched = sched
	}
	return g, nil
}

// Windows returns the time windows of the rule, one per when clause.
func (c Compiled) Windows() []*window.Window {
	out := make([]*window.Window, 0, len(c.gates))
	for _, g := range c.gates {
		out = append(out, g.window)
	}
	return out
}

// ActiveAt reports whether any when clause of the rule matches now.
func (c Compiled) ActiveAt(now time.Time) (bool, *window.Window) {
	for _, g := range c.gates {
		if !g.allows(now) {
			continue
		}
		if g.window.IsSatisfiedAt(now) {
			return true, g.window
		}
	}
	return false, nil
}

// InRolloverAt reports whether now is a day-edge minute that one of the
// rule's wrapped windows spans. The rule is inactive at such minutes but has
// not ended.
func (c Compiled) InRolloverAt(now time.Time) bool {
	for _, g := range c.gates {
		if g.sched == nil && g.allows(now) && g.window.InRollover(now) {
			return true
		}
	}
	return false
}

// Evaluate returns a trigger for every rule active at now.
func Evaluate(ctx context.Context, rules []Compiled, now time.Time) ([]Trigger, error) {
	var triggers []Trigger

	for _, rule := range rules {
		select {
		case <-ctx.Done():
			return triggers, ctx.Err()
		default:
		}

		ok, w := rule.ActiveAt(now)
		if !ok {
			continue
		}
		triggers = append(triggers, Trigger{
			Rule:    rule.Rule,
			Message: message(rule.Rule, w),
			At:      now,
		})
	}
	return triggers, nil
}

func message(r Rule, w *window.Window) string {
	if strings.TrimSpace(r.Message) != "" {
		return r.Message
	}
	return fmt.Sprintf("Rule %s active: window %s", r.Name, w)
}

func (g gate) allows(now time.Time) bool {
	// schedule (cron) wins if set
	if g.sched != nil {
		prev := g.sched.Next(now.Add(-time.Minute * 2))
		return sameMinute(prev, now)
	}

	if len(g.when.DayOfMonth) > 0 && !matchesDayOfMonth(g.when.DayOfMonth, now.Day()) {
		return false
	}
	if len(g.when.DaysOfWeek) > 0 && !matchesDayOfWeek(g.when.DaysOfWeek, now.Weekday()) {
		return false
	}
	if g.when.NthWeekday != "" && !matchesNthWeekday(g.when.NthWeekday, now) {
		return false
	}
	return true
}

func sameCalendarDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func sameMinute(a, b time.Time) bool {
	return sameCalendarDay(a, b) && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

func matchesDayOfMonth(days []int, today int) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == today {
			return true
		}
	}
	return false
}

var weekdayMap = map[string]time.Weekday{
	"sun":       time.Sunday,
	"sunday":    time.Sunday,
	"mon":       time.Monday,
	"monday":    time.Monday,
	"tue":       time.Tuesday,
	"tues":      time.Tuesday,
	"tuesday":   time.Tuesday,
	"wed":       time.Wednesday,
	"wednesday": time.Wednesday,
	"thu":       time.Thursday,
	"thur":      time.Thursday,
	"thurs":     time.Thursday,
	"thursday":  time.Thursday,
	"fri":       time.Friday,
	"friday":    time.Friday,
	"sat":       time.Saturday,
	"saturday":  time.Saturday,
}

func matchesDayOfWeek(days []string, today time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if wd, ok := weekdayMap[strings.ToLower(strings.TrimSpace(d))]; ok && wd == today {
			return true
		}
	}
	return false
}

func matchesNthWeekday(expr string, now time.Time) bool {
	n, wd, last, ok := parseNthWeekday(expr)
	if !ok {
		return false
	}
	var matchDates []time.Time
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for t := firstOfMonth; t.Month() == now.Month(); t = t.AddDate(0, 0, 1) {
		if t.Weekday() == wd {
			matchDates = append(matchDates, t)
		}
	}

	if last && len(matchDates) > 0 {
		return sameCalendarDay(now, matchDates[len(matchDates)-1])
	}
	if n > 0 && len(matchDates) >= n {
		return sameCalendarDay(now, matchDates[n-1])
	}
	return false
}

func parseNthWeekday(expr string) (n int, wd time.Weekday, last bool, ok bool) {
	parts := strings.Fields(strings.ToLower(expr))
	if len(parts) != 2 {
		return 0, 0, false, false
	}
	nthStr, dayStr := parts[0], parts[1]

	if nthStr == "last" {
		last = true
	} else {
		val, err := strconv.Atoi(nthStr)
		if err != nil || val < 1 {
			return 0, 0, false, false
		}
		n = val
	}

	var okDay bool
	wd, okDay = weekdayMap[dayStr]
	if !okDay {
		return 0, 0, false, false
	}
	return n, wd, last, true
}
