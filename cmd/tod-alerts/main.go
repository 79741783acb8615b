package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tod-alerts/internal/config"
	"tod-alerts/internal/heartbeat"
	"tod-alerts/internal/logging"
	"tod-alerts/internal/metrics"
	"tod-alerts/internal/notifier"
	"tod-alerts/internal/rules"
	"tod-alerts/internal/service"
	"tod-alerts/internal/state"
	"tod-alerts/internal/timeofday"
	"tod-alerts/internal/window"
)

var (
	flagRulesDir     string
	flagNotifier     string
	flagPollInterval string
	flagStatePath    string
	flagTimezone     string
	flagLogLevel     string
	flagLogFormat    string
	flagMetricsAddr  string
	flagDebug        bool
	flagConfigPath   string
	flagDayStart     string
	flagDayEnd       string
	flagHBEnabled    bool
	flagHBNATSURL    string
	flagHBSubject    string
	flagHBPrefix     string
	flagHBInterval   string
	flagHBSkippable  int
	flagHBGrace      string
	flagHBDesc       string
	flagCheckStart   string
	flagCheckEnd     string
	flagCheckAt      string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:           "tod-alerts",
		Short:         "Time-of-day window alerts daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(ctx, cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagRulesDir, "rules", "", "Directory of YAML rule files")
	rootCmd.PersistentFlags().StringVar(&flagNotifier, "notifier", "", "Notifier kind (log|pushover)")
	rootCmd.PersistentFlags().StringVar(&flagPollInterval, "poll", "", "Poll interval (e.g. 1m)")
	rootCmd.PersistentFlags().StringVar(&flagStatePath, "state-path", "", "Path to rule state file (default XDG cache)")
	rootCmd.PersistentFlags().StringVar(&flagTimezone, "timezone", "", "IANA timezone used to resolve the time of day (default local)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (json|console)")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to config file (YAML/JSON)")
	rootCmd.PersistentFlags().StringVar(&flagDayStart, "day-start", "", "Earliest time of day to evaluate (HH:MM, 24h)")
	rootCmd.PersistentFlags().StringVar(&flagDayEnd, "day-end", "", "Latest time of day to evaluate (HH:MM, 24h)")
	rootCmd.PersistentFlags().BoolVar(&flagHBEnabled, "heartbeat", false, "Enable heartbeat publishing")
	rootCmd.PersistentFlags().StringVar(&flagHBNATSURL, "heartbeat-nats-url", "", "NATS URL to publish heartbeats")
	rootCmd.PersistentFlags().StringVar(&flagHBSubject, "heartbeat-subject", "", "Heartbeat subject (appended to prefix)")
	rootCmd.PersistentFlags().StringVar(&flagHBPrefix, "heartbeat-prefix", "", "Heartbeat subject prefix")
	rootCmd.PersistentFlags().StringVar(&flagHBInterval, "heartbeat-interval", "", "Heartbeat interval (e.g. 30s)")
	rootCmd.PersistentFlags().IntVar(&flagHBSkippable, "heartbeat-skippable", 0, "Heartbeats allowed to miss before alerting (0 to disable)")
	rootCmd.PersistentFlags().StringVar(&flagHBGrace, "heartbeat-grace", "", "Grace duration with no heartbeats before alerting (e.g. 2m)")
	rootCmd.PersistentFlags().StringVar(&flagHBDesc, "heartbeat-description", "", "Human-friendly heartbeat description")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the alerts daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(ctx, cmd)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a single time window and print true or false",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBaseConfig(cmd)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			at, err := parseAt(flagCheckAt, time.Now(), loc)
			if err != nil {
				return err
			}
			var start, end *string
			if cmd.Flags().Changed("start") {
				start = &flagCheckStart
			}
			if cmd.Flags().Changed("end") {
				end = &flagCheckEnd
			}
			logger := logging.Configure(cfg.LogLevel, "console")
			return runCheck(cmd.OutOrStdout(), start, end, at, logger)
		},
	}
	checkCmd.Flags().StringVar(&flagCheckStart, "start", "", "Window start (HH:MM[:SS])")
	checkCmd.Flags().StringVar(&flagCheckEnd, "end", "", "Window end (HH:MM[:SS]); before start wraps midnight")
	checkCmd.Flags().StringVar(&flagCheckAt, "at", "", "Instant to test: RFC3339 or HH:MM[:SS] today (default now)")

	lintCmd := &cobra.Command{
		Use:   "lint",
		Short: "Lint rule files for common issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBaseConfig(cmd)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			results, err := rules.LintWithPoll(cfg.RulesDir, time.Now().In(loc), cfg.PollInterval)
			if err != nil {
				return err
			}
			printLint(cmd.OutOrStdout(), results)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, checkCmd, lintCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadBaseConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	logger := logging.Configure(level, cfg.LogFormat)

	daemonCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := state.Open(cfg.StatePath, cfg.LockPath)
	if err != nil {
		return fmt.Errorf("state store error: %w", err)
	}
	defer store.Close()

	notif, err := notifier.Build(notifier.Options{
		Kind: cfg.Notifier,
		Pushover: notifier.PushoverConfig{
			AppToken: cfg.Pushover.AppToken,
			UserKey:  cfg.Pushover.UserKey,
			Device:   cfg.Pushover.Device,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("notifier error: %w", err)
	}

	svc, err := service.New(cfg, notif, store, logger)
	if err != nil {
		return fmt.Errorf("service error: %w", err)
	}

	stopHeartbeat, err := heartbeat.Start(daemonCtx, cfg.Heartbeat, logger)
	if err != nil {
		return fmt.Errorf("heartbeat error: %w", err)
	}
	if stopHeartbeat != nil {
		defer stopHeartbeat()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(daemonCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	logger.Info().Str("rules", cfg.RulesDir).Msg("tod-alerts daemon starting")
	if err := svc.Run(daemonCtx); err != nil && daemonCtx.Err() == nil {
		return err
	}
	return nil
}

func loadBaseConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(cmd))
	if err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("rules") {
		cfg.RulesDir = strings.TrimSpace(flagRulesDir)
	}
	if flags.Changed("notifier") {
		cfg.Notifier = strings.TrimSpace(flagNotifier)
	}
	if flags.Changed("state-path") {
		cfg.StatePath = strings.TrimSpace(flagStatePath)
	}
	if flags.Changed("timezone") {
		cfg.Timezone = strings.TrimSpace(flagTimezone)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = strings.TrimSpace(flagLogLevel)
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = strings.TrimSpace(flagLogFormat)
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = strings.TrimSpace(flagMetricsAddr)
	}
	if flags.Changed("poll") {
		dur, err := time.ParseDuration(flagPollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll interval: %w", err)
		}
		cfg.PollInterval = dur
	}
	if flags.Changed("debug") {
		cfg.Debug = flagDebug
	}
	if flags.Changed("day-start") {
		v := strings.TrimSpace(flagDayStart)
		cfg.DayStart = &v
	}
	if flags.Changed("day-end") {
		v := strings.TrimSpace(flagDayEnd)
		cfg.DayEnd = &v
	}
	if flags.Changed("heartbeat") {
		cfg.Heartbeat.Enabled = flagHBEnabled
	}
	if flags.Changed("heartbeat-nats-url") {
		cfg.Heartbeat.NATSURL = strings.TrimSpace(flagHBNATSURL)
	}
	if flags.Changed("heartbeat-subject") {
		cfg.Heartbeat.Subject = strings.TrimSpace(flagHBSubject)
	}
	if flags.Changed("heartbeat-prefix") {
		cfg.Heartbeat.Prefix = strings.TrimSpace(flagHBPrefix)
	}
	if flags.Changed("heartbeat-description") {
		cfg.Heartbeat.Description = strings.TrimSpace(flagHBDesc)
	}
	if flags.Changed("heartbeat-interval") {
		dur, err := time.ParseDuration(flagHBInterval)
		if err != nil {
			return fmt.Errorf("invalid heartbeat-interval: %w", err)
		}
		cfg.Heartbeat.Interval = dur
	}
	if flags.Changed("heartbeat-skippable") {
		val := flagHBSkippable
		cfg.Heartbeat.Skippable = &val
	}
	if flags.Changed("heartbeat-grace") {
		dur, err := time.ParseDuration(flagHBGrace)
		if err != nil {
			return fmt.Errorf("invalid heartbeat-grace: %w", err)
		}
		cfg.Heartbeat.GracePeriod = &dur
	}
	return nil
}

func resolveConfigPath(cmd *cobra.Command) string {
	if cmd != nil && cmd.Flags().Changed("config") {
		return strings.TrimSpace(flagConfigPath)
	}
	if strings.TrimSpace(flagConfigPath) != "" {
		return strings.TrimSpace(flagConfigPath)
	}
	if v := strings.TrimSpace(os.Getenv("TOD_CONFIG")); v != "" {
		return v
	}
	return ""
}

// runCheck evaluates one window at one instant and prints the result.
func runCheck(out io.Writer, start, end *string, at time.Time, logger zerolog.Logger) error {
	w, err := window.Parse(start, end, window.WithID("check"), window.WithLogger(logger))
	if err != nil {
		var ce *window.ConfigurationError
		if errors.As(err, &ce) {
			return fmt.Errorf("invalid --%s: %w", checkFlagName(ce.Field), err)
		}
		return err
	}
	fmt.Fprintln(out, w.IsSatisfiedAt(at))
	return nil
}

func checkFlagName(field string) string {
	if field == window.FieldEnd {
		return "end"
	}
	return "start"
}

// parseAt resolves --at: empty means now, RFC3339 is an absolute instant,
// and HH:MM[:SS] is that time of day on now's date in loc.
func parseAt(val string, now time.Time, loc *time.Location) (time.Time, error) {
	val = strings.TrimSpace(val)
	now = now.In(loc)
	if val == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t.In(loc), nil
	}
	tod, err := timeofday.Parse(val)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: expected RFC3339 or HH:MM[:SS]", val)
	}
	return tod.On(now), nil
}

func printLint(out io.Writer, results []rules.LintResult) {
	for _, r := range results {
		next := "unknown"
		if r.HasNext {
			next = r.NextEval.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s:\n  next: %s\n", r.Name, next)
		if len(r.Issues) == 0 {
			fmt.Fprintln(out, "  issues: none")
		} else {
			fmt.Fprintln(out, "  issues:")
			for _, i := range r.Issues {
				fmt.Fprintf(out, "    - %s\n", i)
			}
		}
	}
}
