package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tod-alerts/internal/window"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/testcache")
	t.Setenv("TOD_RULES_DIR", "/etc/tod/rules")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if cfg.RulesDir != "/etc/tod/rules" {
		t.Fatalf("rules dir not set from env: %s", cfg.RulesDir)
	}
	expectedState := filepath.Join("/tmp/testcache", "tod-alerts", "state.json")
	if cfg.StatePath != expectedState {
		t.Fatalf("state path mismatch: %s", cfg.StatePath)
	}
	if cfg.PollInterval != time.Minute {
		t.Fatalf("expected default poll interval 1m, got %s", cfg.PollInterval)
	}
	if cfg.Notifier != "log" {
		t.Fatalf("expected log notifier by default, got %s", cfg.Notifier)
	}
}

func TestPollIntervalOverride(t *testing.T) {
	t.Setenv("TOD_POLL_INTERVAL", "30s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("expected poll interval 30s, got %s", cfg.PollInterval)
	}

	t.Setenv("TOD_POLL_INTERVAL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for bad poll interval")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
rules_dir: ./my-rules
poll_interval: 15s
timezone: UTC
log_level: debug
day_start: "06:30"
day_end: "22:00:30"
heartbeat:
  enabled: true
  nats_url: nats://localhost:4222
  interval: 10s
  skippable: 2
  grace_period: 1m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.RulesDir != "./my-rules" || cfg.PollInterval != 15*time.Second || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Heartbeat.Skippable == nil || *cfg.Heartbeat.Skippable != 2 {
		t.Fatalf("heartbeat skippable not loaded")
	}
	if cfg.Heartbeat.GracePeriod == nil || *cfg.Heartbeat.GracePeriod != time.Minute {
		t.Fatalf("heartbeat grace not loaded")
	}

	w, err := cfg.DayWindow()
	if err != nil || w == nil {
		t.Fatalf("expected day window, got %v %v", w, err)
	}
	if w.String() != "06:30-22:00" {
		t.Fatalf("unexpected day window %s", w)
	}
}

func TestValidateRespectsNotifierKind(t *testing.T) {
	cfg := defaultConfig()
	cfg.Notifier = "log"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("log notifier should not require pushover creds: %v", err)
	}

	cfg.Notifier = "pushover"
	cfg.Pushover = PushoverConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when pushover creds are missing")
	}

	cfg.Notifier = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown notifier")
	}
}

func TestValidateDayWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.DayStart = strPtr("07:00")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when only day_start is set")
	}

	cfg.DayEnd = strPtr("7pm")
	err := cfg.Validate()
	var ce *window.ConfigurationError
	if !errors.As(err, &ce) || ce.Field != window.FieldEnd {
		t.Fatalf("expected configuration error on end, got %v", err)
	}

	cfg.DayEnd = strPtr("19:00")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateLogFormat(t *testing.T) {
	cfg := defaultConfig()
	for _, format := range []string{"json", "console", "Console"} {
		cfg.LogFormat = format
		if err := cfg.Validate(); err != nil {
			t.Fatalf("log format %q should be accepted: %v", format, err)
		}
	}

	cfg.LogFormat = "yaml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown log format")
	}
}

func TestValidateTimezoneAndHeartbeat(t *testing.T) {
	cfg := defaultConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected timezone error")
	}

	cfg = defaultConfig()
	cfg.Heartbeat.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for heartbeat without nats url")
	}
}
