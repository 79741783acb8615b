package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tod-alerts/internal/window"
)

// LintResult captures issues and metadata about a rule.
type LintResult struct {
	Name     string
	Issues   []string
	NextEval time.Time
	HasNext  bool
}

// lintHorizon bounds the search for the next activation.
const lintHorizon = 8 * 24 * time.Hour

// Lint reads rules from dir and produces lint results.
func Lint(dir string, now time.Time) ([]LintResult, error) {
	return LintWithPoll(dir, now, time.Minute)
}

// LintWithPoll reads rules from dir and produces lint results. NextEval is the
// first poll tick after now at which the rule would be active.
func LintWithPoll(dir string, now time.Time, pollInterval time.Duration) ([]LintResult, error) {
	rules, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	nameSeen := map[string]struct{}{}
	var results []LintResult
	for _, r := range rules {
		res := LintResult{Name: r.Name}
		if r.Name == "" {
			res.Issues = append(res.Issues, "rule has no name")
		}
		if _, exists := nameSeen[r.Name]; exists && r.Name != "" {
			res.Issues = append(res.Issues, "duplicate rule name")
		}
		nameSeen[r.Name] = struct{}{}

		if len(r.When) == 0 {
			res.Issues = append(res.Issues, "rule has no when clause; rule will never fire")
		}
		for i, when := range r.When {
			for _, issue := range lintWhen(when) {
				if len(r.When) > 1 {
					issue = fmt.Sprintf("when[%d]: %s", i, issue)
				}
				res.Issues = append(res.Issues, issue)
			}
		}

		if compiled, err := Compile([]Rule{r}, zerolog.Nop()); err == nil {
			res.NextEval, res.HasNext = nextActive(compiled[0], now, pollInterval)
		}
		results = append(results, res)
	}
	return results, nil
}

func lintWhen(when When) []string {
	var issues []string

	w, err := window.Parse(when.StartTime, when.EndTime)
	if err != nil {
		issues = append(issues, fmt.Sprintf("window invalid: %v", err))
	} else {
		for _, field := range w.Missing() {
			issues = append(issues, fmt.Sprintf("%s is missing; rule will never fire", field))
		}
		start, hasStart := w.Start()
		end, hasEnd := w.End()
		if hasStart && hasEnd && start.Equal(end) {
			issues = append(issues, fmt.Sprintf("start and end are both %s; window only matches that minute", start))
		}
	}

	for _, d := range when.DayOfMonth {
		if d < 1 || d > 31 {
			issues = append(issues, fmt.Sprintf("day_of_month value %d is out of range 1-31", d))
		}
	}
	for _, d := range when.DaysOfWeek {
		if _, ok := weekdayMap[strings.ToLower(strings.TrimSpace(d))]; !ok {
			issues = append(issues, fmt.Sprintf("days_of_week value %q is invalid", d))
		}
	}
	if when.NthWeekday != "" {
		if _, _, _, ok := parseNthWeekday(when.NthWeekday); !ok {
			issues = append(issues, fmt.Sprintf("nth_weekday value %q is invalid", when.NthWeekday))
		}
	}

	if when.Schedule != "" {
		if _, err := cron.ParseStandard(when.Schedule); err != nil {
			issues = append(issues, fmt.Sprintf("schedule invalid cron: %v", err))
		}
		if len(when.DayOfMonth) > 0 || len(when.DaysOfWeek) > 0 || when.NthWeekday != "" {
			issues = append(issues, "schedule present; day/week gates will be ignored")
		}
	}

	return issues
}

func nextActive(c Compiled, now time.Time, pollInterval time.Duration) (time.Time, bool) {
	complete := false
	for _, w := range c.Windows() {
		if len(w.Missing()) == 0 {
			complete = true
		}
	}
	if !complete {
		return time.Time{}, false
	}
	step := pollInterval
	if step < time.Minute {
		step = time.Minute
	}
	for t := now.Add(step); t.Sub(now) <= lintHorizon; t = t.Add(step) {
		if ok, _ := c.ActiveAt(t); ok {
			return t, true
		}
	}
	return time.Time{}, false
}
