package rules

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tod-alerts/internal/window"
)

func strp(s string) *string { return &s }

func compileOne(t *testing.T, r Rule) []Compiled {
	t.Helper()
	c, err := Compile([]Rule{r}, zerolog.Nop())
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return c
}

func TestEvaluateWindow(t *testing.T) {
	r := Rule{
		Name: "office-hours",
		When: WhenList{{StartTime: strp("08:00"), EndTime: strp("17:00")}},
	}
	compiled := compileOne(t, r)

	tc := []struct {
		hour, min int
		expect    bool
	}{
		{12, 30, true},
		{8, 0, true},
		{17, 0, false},
		{7, 59, false},
	}
	for _, tt := range tc {
		now := time.Date(2024, time.January, 15, tt.hour, tt.min, 0, 0, time.UTC)
		trigs, err := Evaluate(context.Background(), compiled, now)
		if err != nil {
			t.Fatalf("evaluate error: %v", err)
		}
		if got := len(trigs) == 1; got != tt.expect {
			t.Fatalf("%02d:%02d expected %v got %v", tt.hour, tt.min, tt.expect, got)
		}
	}
}

func TestEvaluateWrappedWindowMessage(t *testing.T) {
	r := Rule{
		Name: "night",
		When: WhenList{{StartTime: strp("19:00"), EndTime: strp("07:00")}},
	}
	now := time.Date(2024, time.January, 15, 23, 30, 0, 0, time.UTC)
	trigs, err := Evaluate(context.Background(), compileOne(t, r), now)
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if len(trigs) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(trigs))
	}
	if trigs[0].Message != "Rule night active: window 19:00-07:00" {
		t.Fatalf("unexpected message %q", trigs[0].Message)
	}
	if !trigs[0].At.Equal(now) {
		t.Fatalf("unexpected trigger time %s", trigs[0].At)
	}
}

func TestInRolloverAt(t *testing.T) {
	night := compileOne(t, Rule{
		Name: "night",
		When: WhenList{{StartTime: strp("19:00"), EndTime: strp("07:00")}},
	})[0]
	mondays := compileOne(t, Rule{
		Name: "monday-night",
		When: WhenList{{StartTime: strp("19:00"), EndTime: strp("07:00"), DaysOfWeek: []string{"mon"}}},
	})[0]

	// 2024-01-15 is a Monday.
	lastMinute := time.Date(2024, time.January, 15, 23, 59, 0, 0, time.UTC)
	midnight := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	noon := time.Date(2024, time.January, 16, 12, 0, 0, 0, time.UTC)

	if !night.InRolloverAt(lastMinute) || !night.InRolloverAt(midnight) {
		t.Fatalf("expected wrapped window to span both day-edge minutes")
	}
	if night.InRolloverAt(noon) {
		t.Fatalf("noon is not a day-edge minute")
	}
	if !mondays.InRolloverAt(lastMinute) {
		t.Fatalf("expected monday 23:59 to be spanned")
	}
	if mondays.InRolloverAt(midnight) {
		t.Fatalf("tuesday midnight is gated out")
	}
}

func TestEvaluateDaysOfWeekGate(t *testing.T) {
	r := Rule{
		Name:    "weekday-mornings",
		Message: "good morning",
		When: WhenList{{
			StartTime:  strp("06:00"),
			EndTime:    strp("09:00"),
			DaysOfWeek: []string{"Mon", "tuesday"},
		}},
	}
	compiled := compileOne(t, r)

	monday := time.Date(2024, time.July, 1, 7, 0, 0, 0, time.UTC)
	trigs, err := Evaluate(context.Background(), compiled, monday)
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if len(trigs) != 1 || trigs[0].Message != "good morning" {
		t.Fatalf("expected monday trigger, got %+v", trigs)
	}

	sunday := time.Date(2024, time.July, 7, 7, 0, 0, 0, time.UTC)
	trigs, err = Evaluate(context.Background(), compiled, sunday)
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if len(trigs) != 0 {
		t.Fatalf("expected no trigger on sunday, got %d", len(trigs))
	}
}

func TestEvaluateDayOfMonthAndNthWeekday(t *testing.T) {
	r := Rule{
		Name: "first-monday",
		When: WhenList{{
			StartTime:  strp("09:00"),
			EndTime:    strp("12:00"),
			NthWeekday: "1 Monday",
		}},
	}
	now := time.Date(2024, time.July, 1, 10, 0, 0, 0, time.UTC) // Monday and first of month
	trigs, err := Evaluate(context.Background(), compileOne(t, r), now)
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if len(trigs) != 1 {
		t.Fatalf("expected nth weekday trigger, got %d", len(trigs))
	}

	r.When[0].NthWeekday = ""
	r.When[0].DayOfMonth = []int{14}
	trigs, err = Evaluate(context.Background(), compileOne(t, r), now)
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if len(trigs) != 0 {
		t.Fatalf("expected day_of_month gate to block, got %d", len(trigs))
	}
}

func TestEvaluateScheduleOverridesOtherGates(t *testing.T) {
	r := Rule{
		Name: "sched-wins",
		When: WhenList{{
			StartTime:  strp("08:00"),
			EndTime:    strp("10:00"),
			Schedule:   "0 9 14 * *",
			DayOfMonth: []int{1},
		}},
	}
	compiled := compileOne(t, r)

	now := time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)
	trigs, err := Evaluate(context.Background(), compiled, now)
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if len(trigs) != 1 {
		t.Fatalf("expected schedule to match even with conflicting day_of_month, got %d", len(trigs))
	}

	trigs, err = Evaluate(context.Background(), compiled, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if len(trigs) != 0 {
		t.Fatalf("expected no match off the schedule minute, got %d", len(trigs))
	}
}

func TestEvaluateAnyWhenMatches(t *testing.T) {
	r := Rule{
		Name: "split-shift",
		When: WhenList{
			{StartTime: strp("06:00"), EndTime: strp("10:00")},
			{StartTime: strp("16:00"), EndTime: strp("20:00")},
		},
	}
	compiled := compileOne(t, r)
	for _, hour := range []int{7, 17} {
		now := time.Date(2024, time.March, 14, hour, 0, 0, 0, time.UTC)
		trigs, err := Evaluate(context.Background(), compiled, now)
		if err != nil || len(trigs) != 1 {
			t.Fatalf("hour %d: expected trigger, got %d (%v)", hour, len(trigs), err)
		}
	}
	if got := len(compiled[0].Windows()); got != 2 {
		t.Fatalf("expected 2 windows, got %d", got)
	}
}

func TestEvaluateMisconfiguredWindowWarns(t *testing.T) {
	var buf bytes.Buffer
	r := Rule{
		Name: "half-configured",
		When: WhenList{{StartTime: strp("08:00")}},
	}
	compiled, err := Compile([]Rule{r}, zerolog.New(&buf))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	now := time.Date(2024, time.March, 14, 8, 0, 0, 0, time.UTC)
	trigs, err := Evaluate(context.Background(), compiled, now)
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if len(trigs) != 0 {
		t.Fatalf("misconfigured window must not fire, got %d", len(trigs))
	}
	out := buf.String()
	if !strings.Contains(out, "misconfigured_window") || !strings.Contains(out, "half-configured") {
		t.Fatalf("expected misconfiguration warning, got %q", out)
	}
}

func TestCompileRejectsMalformedTime(t *testing.T) {
	r := Rule{
		Name: "typo",
		When: WhenList{{StartTime: strp("8:00pm"), EndTime: strp("23:00")}},
	}
	_, err := Compile([]Rule{r}, zerolog.Nop())
	var ce *window.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "typo") {
		t.Fatalf("error should name the rule: %v", err)
	}
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	r := Rule{Name: "any", When: WhenList{{StartTime: strp("00:00"), EndTime: strp("00:00")}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, compileOne(t, r), time.Now())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestLoadDirSingleAndListWhen(t *testing.T) {
	dir := t.TempDir()
	content := `
- name: single
  when:
    start_time: "22:00"
    end_time: "06:00:30"
- name: list
  when:
    - start_time: "08:00"
      end_time: "09:00"
      days_of_week: [sat, sun]
    - schedule: "30 12 * * *"
      start_time: "12:00"
      end_time: "13:00"
`
	if err := os.WriteFile(filepath.Join(dir, "rules.yml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	rules, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if len(rules[0].When) != 1 || *rules[0].When[0].EndTime != "06:00:30" {
		t.Fatalf("unexpected single when: %+v", rules[0].When)
	}
	if len(rules[1].When) != 2 || rules[1].When[1].Schedule != "30 12 * * *" {
		t.Fatalf("unexpected list when: %+v", rules[1].When)
	}

	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Fatalf("expected error for empty rules dir")
	}
}
