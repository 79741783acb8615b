package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule represents a rule definition loaded from YAML.
type Rule struct {
	Name    string   `yaml:"name"`
	Message string   `yaml:"message,omitempty"`
	When    WhenList `yaml:"when"`
}

// When describes when a rule is active. StartTime and EndTime form the
// time-of-day window; the remaining fields gate which days it applies to.
type When struct {
	StartTime  *string  `yaml:"start_time,omitempty"`   // HH:MM[:SS]
	EndTime    *string  `yaml:"end_time,omitempty"`     // HH:MM[:SS]; before start wraps midnight
	DayOfMonth []int    `yaml:"day_of_month,omitempty"` // restrict to these days (1-31)
	DaysOfWeek []string `yaml:"days_of_week,omitempty"` // restrict to weekdays (Mon-Sun)
	NthWeekday string   `yaml:"nth_weekday,omitempty"`  // e.g., "1 Monday", "last Friday"
	Schedule   string   `yaml:"schedule,omitempty"`     // cron-like "min hour dom mon dow"
}

// WhenList allows single-object or list YAML.
type WhenList []When

// UnmarshalYAML custom unmarshals a single when or a list.
func (w *WhenList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var seq []When
	if err := unmarshal(&seq); err == nil {
		*w = seq
		return nil
	}
	var single When
	if err := unmarshal(&single); err == nil {
		*w = []When{single}
		return nil
	}
	return fmt.Errorf("when must be object or list")
}

// Trigger represents a rule that is active at the evaluated instant.
type Trigger struct {
	Rule    Rule
	Message string
	At      time.Time
}

// LoadDir reads all YAML files in the directory into a rule slice.
func LoadDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var fileRules []Rule
		if err := yaml.Unmarshal(content, &fileRules); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		rules = append(rules, fileRules...)
	}
	if len(rules) == 0 {
		return nil, errors.New("no rule files found")
	}
	return rules, nil
}
