package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tod-alerts/internal/config"
	"tod-alerts/internal/metrics"
	"tod-alerts/internal/notifier"
	"tod-alerts/internal/rules"
	"tod-alerts/internal/state"
	"tod-alerts/internal/window"
)

// Service orchestrates loading rules, evaluating their windows, and sending alerts.
type Service struct {
	cfg        config.Config
	notifier   notifier.Notifier
	store      *state.Store
	logger     zerolog.Logger
	loc        *time.Location
	dayWindow  *window.Window
	ruleDir    string
	pollPeriod time.Duration
	now        func() time.Time
}

// New builds a Service. The config must have passed Validate.
func New(cfg config.Config, notify notifier.Notifier, store *state.Store, logger zerolog.Logger) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	dayWindow, err := cfg.DayWindow(window.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("day window: %w", err)
	}
	return &Service{
		cfg:        cfg,
		notifier:   notify,
		store:      store,
		logger:     logger,
		loc:        loc,
		dayWindow:  dayWindow,
		ruleDir:    cfg.RulesDir,
		pollPeriod: cfg.PollInterval,
		now:        time.Now,
	}, nil
}

// Run starts the polling loop until context cancellation.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollPeriod)
	defer ticker.Stop()

	// trigger immediately on startup
	s.logger.Debug().Dur("poll_interval", s.pollPeriod).Msg("starting daemon")
	if err := s.tick(ctx); err != nil {
		metrics.TickErrors.Inc()
		s.logger.Error().Err(err).Msg("initial tick error")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				metrics.TickErrors.Inc()
				s.logger.Error().Err(err).Msg("tick error")
			}
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	now := s.now().In(s.loc)
	if !s.withinEvalWindow(now) {
		s.logger.Debug().Str("window", s.windowStr()).Msg("skipping evaluation outside window")
		return nil
	}

	ruleDefs, err := rules.LoadDir(s.ruleDir)
	if err != nil {
		return err
	}
	compiled, err := rules.Compile(ruleDefs, s.logger)
	if err != nil {
		return err
	}
	s.logger.Debug().Int("rules", len(compiled)).Msg("loaded rules")

	triggers, err := rules.Evaluate(ctx, compiled, now)
	if err != nil {
		return err
	}
	active := make(map[string]rules.Trigger, len(triggers))
	for _, trig := range triggers {
		active[trig.Rule.Name] = trig
	}

	notified := 0
	seen := make(map[string]struct{}, len(compiled))
	for _, c := range compiled {
		name := c.Rule.Name
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		trig, isActive := active[name]
		if !isActive && c.InRolloverAt(now) {
			// 23:59 and 00:00 inside a wrapped window are not a falling edge.
			continue
		}
		rising := isActive
		if s.store != nil {
			rising, err = s.store.Record(name, isActive, now)
			if err != nil {
				return fmt.Errorf("record state for %s: %w", name, err)
			}
		}
		if !rising {
			continue
		}

		s.logger.Debug().Str("rule", name).Str("message", trig.Message).Msg("notifying")
		metrics.RuleTriggers.WithLabelValues(name).Inc()
		if err := s.notifier.Notify(ctx, name, trig.Message); err != nil {
			s.logger.Warn().Err(err).Str("rule", name).Msg("notify failed")
			continue
		}
		notified++
	}
	if s.store != nil {
		if err := s.store.Prune(seen); err != nil {
			return fmt.Errorf("prune state: %w", err)
		}
	}

	s.logger.Info().
		Int("rules", len(compiled)).
		Int("active", len(triggers)).
		Int("notified", notified).
		Msg("evaluated rules")
	return nil
}

func (s *Service) withinEvalWindow(now time.Time) bool {
	// No window configured.
	if s.dayWindow == nil {
		return true
	}
	return s.dayWindow.IsSatisfiedAt(now)
}

func (s *Service) windowStr() string {
	if s.dayWindow == nil {
		return "none"
	}
	return s.dayWindow.String()
}
