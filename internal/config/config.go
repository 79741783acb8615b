package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"tod-alerts/internal/window"
)

// Config holds runtime settings for the daemon.
type Config struct {
	RulesDir     string
	PollInterval time.Duration
	Notifier     string
	Pushover     PushoverConfig
	StatePath    string
	LockPath     string
	Timezone     string
	LogLevel     string
	LogFormat    string
	MetricsAddr  string
	Debug        bool
	DayStart     *string // optional global evaluation window, HH:MM[:SS]
	DayEnd       *string
	Heartbeat    HeartbeatConfig
}

// PushoverConfig captures credentials for the Pushover notifier.
type PushoverConfig struct {
	AppToken string
	UserKey  string
	Device   string
}

// HeartbeatConfig controls NATS heartbeat publishing.
type HeartbeatConfig struct {
	Enabled     bool
	NATSURL     string
	Subject     string
	Prefix      string
	Interval    time.Duration
	Skippable   *int
	GracePeriod *time.Duration
	Description string
}

const (
	defaultRulesDir          = "rules"
	defaultPollInterval      = time.Minute
	defaultNotifier          = "log"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatSubject  = "tod-alerts"
)

// DefaultHeartbeatInterval returns the heartbeat interval used when none is set.
func DefaultHeartbeatInterval() time.Duration {
	return defaultHeartbeatInterval
}

// Load builds a Config from an optional YAML/JSON file and environment variables.
// CLI flags may further override the returned config.
func Load(filePath string) (Config, error) {
	cfg := defaultConfig()

	if filePath != "" {
		if err := applyFile(&cfg, filePath); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate performs consistency checks on the assembled config.
func (c Config) Validate() error {
	if c.RulesDir == "" {
		return errors.New("rules directory is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be > 0")
	}
	switch c.Notifier {
	case "log":
	case "pushover":
		if c.Pushover.AppToken == "" || c.Pushover.UserKey == "" {
			return errors.New("PUSHOVER_APP_TOKEN and PUSHOVER_USER_KEY are required for Pushover")
		}
	default:
		return fmt.Errorf("unknown notifier %q", c.Notifier)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q (want json or console)", c.LogFormat)
	}
	if (c.DayStart == nil) != (c.DayEnd == nil) {
		return errors.New("day_start and day_end must be set together")
	}
	if _, err := c.DayWindow(); err != nil {
		return fmt.Errorf("day window: %w", err)
	}
	if c.HeartbeatEnabled() {
		if strings.TrimSpace(c.Heartbeat.NATSURL) == "" {
			return errors.New("heartbeat enabled but nats_url is empty")
		}
		if c.Heartbeat.Skippable != nil && *c.Heartbeat.Skippable < 0 {
			return errors.New("heartbeat skippable must be >= 0")
		}
	}
	return nil
}

// HeartbeatEnabled reports whether heartbeats should be published.
func (c Config) HeartbeatEnabled() bool {
	return c.Heartbeat.Enabled
}

// Location resolves the configured timezone; empty means the local zone.
func (c Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return loc, nil
}

// DayWindow builds the global evaluation window, or nil when none is configured.
func (c Config) DayWindow(opts ...window.Option) (*window.Window, error) {
	if c.DayStart == nil && c.DayEnd == nil {
		return nil, nil
	}
	return window.Parse(c.DayStart, c.DayEnd, append([]window.Option{window.WithID("day-window")}, opts...)...)
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolEnv(raw string, current bool) bool {
	if strings.TrimSpace(raw) == "" {
		return current
	}
	return parseBool(raw)
}

func strPtr(s string) *string { return &s }

type fileConfig struct {
	RulesDir     string         `yaml:"rules_dir"`
	PollInterval string         `yaml:"poll_interval"`
	Notifier     string         `yaml:"notifier"`
	StatePath    string         `yaml:"state_path"`
	LockPath     string         `yaml:"lock_path"`
	Timezone     string         `yaml:"timezone"`
	LogLevel     string         `yaml:"log_level"`
	LogFormat    string         `yaml:"log_format"`
	MetricsAddr  string         `yaml:"metrics_addr"`
	Debug        *bool          `yaml:"debug"`
	DayStart     *string        `yaml:"day_start"`
	DayEnd       *string        `yaml:"day_end"`
	Pushover     pushoverBlock  `yaml:"pushover"`
	Heartbeat    heartbeatBlock `yaml:"heartbeat"`
}

type pushoverBlock struct {
	AppToken string `yaml:"app_token"`
	UserKey  string `yaml:"user_key"`
	Device   string `yaml:"device"`
}

type heartbeatBlock struct {
	Enabled     *bool  `yaml:"enabled"`
	NATSURL     string `yaml:"nats_url"`
	Subject     string `yaml:"subject"`
	Prefix      string `yaml:"prefix"`
	Interval    string `yaml:"interval"`
	Skippable   *int   `yaml:"skippable"`
	GracePeriod string `yaml:"grace_period"`
	Description string `yaml:"description"`
}

func defaultConfig() Config {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, ".cache")
		}
	}
	stateDir := filepath.Join(cacheDir, "tod-alerts")

	return Config{
		RulesDir:     defaultRulesDir,
		PollInterval: defaultPollInterval,
		Notifier:     defaultNotifier,
		StatePath:    filepath.Join(stateDir, "state.json"),
		LockPath:     filepath.Join(stateDir, "state.lock"),
		LogLevel:     defaultLogLevel,
		LogFormat:    defaultLogFormat,
		Heartbeat: HeartbeatConfig{
			Subject:  defaultHeartbeatSubject,
			Interval: defaultHeartbeatInterval,
		},
	}
}

func applyEnv(cfg *Config) error {
	cfg.RulesDir = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_RULES_DIR")), cfg.RulesDir)
	cfg.Notifier = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_NOTIFIER")), cfg.Notifier)
	cfg.StatePath = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_STATE_PATH")), cfg.StatePath)
	cfg.LockPath = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_LOCK_PATH")), cfg.LockPath)
	cfg.Timezone = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_TIMEZONE")), cfg.Timezone)
	cfg.LogLevel = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_LOG_LEVEL")), cfg.LogLevel)
	cfg.LogFormat = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_LOG_FORMAT")), cfg.LogFormat)
	cfg.MetricsAddr = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_METRICS_ADDR")), cfg.MetricsAddr)
	cfg.Pushover.AppToken = valueOrDefault(strings.TrimSpace(os.Getenv("PUSHOVER_APP_TOKEN")), cfg.Pushover.AppToken)
	cfg.Pushover.UserKey = valueOrDefault(strings.TrimSpace(os.Getenv("PUSHOVER_USER_KEY")), cfg.Pushover.UserKey)
	cfg.Pushover.Device = valueOrDefault(strings.TrimSpace(os.Getenv("PUSHOVER_DEVICE")), cfg.Pushover.Device)
	cfg.Heartbeat.NATSURL = valueOrDefault(strings.TrimSpace(os.Getenv("TOD_HEARTBEAT_NATS_URL")), cfg.Heartbeat.NATSURL)
	cfg.Heartbeat.Enabled = parseBoolEnv(os.Getenv("TOD_HEARTBEAT"), cfg.Heartbeat.Enabled)

	cfg.Debug = parseBoolEnv(os.Getenv("TOD_DEBUG"), cfg.Debug)
	if v := strings.TrimSpace(os.Getenv("TOD_DAY_START")); v != "" {
		cfg.DayStart = strPtr(v)
	}
	if v := strings.TrimSpace(os.Getenv("TOD_DAY_END")); v != "" {
		cfg.DayEnd = strPtr(v)
	}

	if poll := strings.TrimSpace(os.Getenv("TOD_POLL_INTERVAL")); poll != "" {
		dur, err := time.ParseDuration(poll)
		if err != nil {
			return fmt.Errorf("TOD_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = dur
	}
	if v := strings.TrimSpace(os.Getenv("TOD_HEARTBEAT_SKIPPABLE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TOD_HEARTBEAT_SKIPPABLE: %w", err)
		}
		cfg.Heartbeat.Skippable = &n
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if fc.RulesDir != "" {
		cfg.RulesDir = strings.TrimSpace(fc.RulesDir)
	}
	if fc.Notifier != "" {
		cfg.Notifier = strings.TrimSpace(fc.Notifier)
	}
	if fc.StatePath != "" {
		cfg.StatePath = strings.TrimSpace(fc.StatePath)
	}
	if fc.LockPath != "" {
		cfg.LockPath = strings.TrimSpace(fc.LockPath)
	}
	if fc.Timezone != "" {
		cfg.Timezone = strings.TrimSpace(fc.Timezone)
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = strings.TrimSpace(fc.LogLevel)
	}
	if fc.LogFormat != "" {
		cfg.LogFormat = strings.TrimSpace(fc.LogFormat)
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = strings.TrimSpace(fc.MetricsAddr)
	}
	if fc.PollInterval != "" {
		dur, err := time.ParseDuration(strings.TrimSpace(fc.PollInterval))
		if err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		cfg.PollInterval = dur
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.DayStart != nil {
		cfg.DayStart = strPtr(strings.TrimSpace(*fc.DayStart))
	}
	if fc.DayEnd != nil {
		cfg.DayEnd = strPtr(strings.TrimSpace(*fc.DayEnd))
	}
	if fc.Pushover.AppToken != "" {
		cfg.Pushover.AppToken = strings.TrimSpace(fc.Pushover.AppToken)
	}
	if fc.Pushover.UserKey != "" {
		cfg.Pushover.UserKey = strings.TrimSpace(fc.Pushover.UserKey)
	}
	if fc.Pushover.Device != "" {
		cfg.Pushover.Device = strings.TrimSpace(fc.Pushover.Device)
	}
	return applyHeartbeatFile(&cfg.Heartbeat, fc.Heartbeat)
}

func applyHeartbeatFile(hb *HeartbeatConfig, fb heartbeatBlock) error {
	if fb.Enabled != nil {
		hb.Enabled = *fb.Enabled
	}
	if fb.NATSURL != "" {
		hb.NATSURL = strings.TrimSpace(fb.NATSURL)
	}
	if fb.Subject != "" {
		hb.Subject = strings.TrimSpace(fb.Subject)
	}
	if fb.Prefix != "" {
		hb.Prefix = strings.TrimSpace(fb.Prefix)
	}
	if fb.Description != "" {
		hb.Description = strings.TrimSpace(fb.Description)
	}
	if fb.Interval != "" {
		dur, err := time.ParseDuration(strings.TrimSpace(fb.Interval))
		if err != nil {
			return fmt.Errorf("heartbeat.interval: %w", err)
		}
		hb.Interval = dur
	}
	if fb.Skippable != nil {
		val := *fb.Skippable
		hb.Skippable = &val
	}
	if fb.GracePeriod != "" {
		dur, err := time.ParseDuration(strings.TrimSpace(fb.GracePeriod))
		if err != nil {
			return fmt.Errorf("heartbeat.grace_period: %w", err)
		}
		hb.GracePeriod = &dur
	}
	return nil
}
