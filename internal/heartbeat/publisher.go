package heartbeat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	hb "github.com/venkytv/nats-heartbeat/pkg/heartbeat"

	"tod-alerts/internal/config"
)

// Start begins publishing heartbeats until the context is canceled.
// It returns a nil stop function when heartbeats are disabled.
func Start(ctx context.Context, cfg config.HeartbeatConfig, logger zerolog.Logger) (func(), error) {
	if !cfg.Enabled {
		return nil, nil
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("tod-alerts heartbeat"))
	if err != nil {
		return nil, err
	}
	pub := hb.NewPublisher(nc, cfg.Prefix)

	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{
		cfg:       cfg,
		publisher: pub,
		logger:    logger,
	}
	go r.loop(runCtx)

	return func() {
		cancel()
		nc.Close()
	}, nil
}

type runner struct {
	cfg       config.HeartbeatConfig
	publisher *hb.Publisher
	logger    zerolog.Logger
}

// FullSubject joins the prefix and subject the way the publisher does.
func FullSubject(cfg config.HeartbeatConfig) string {
	if strings.TrimSpace(cfg.Prefix) == "" {
		return cfg.Subject
	}
	return strings.TrimSuffix(cfg.Prefix, ".") + "." + cfg.Subject
}

func (r *runner) loop(ctx context.Context) {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval()
		r.cfg.Interval = interval
	}

	grace := "none"
	if r.cfg.GracePeriod != nil {
		grace = r.cfg.GracePeriod.String()
	}
	skippable := "none"
	if r.cfg.Skippable != nil {
		skippable = strconv.Itoa(*r.cfg.Skippable)
	}

	r.logger.Info().
		Str("subject", FullSubject(r.cfg)).
		Dur("interval", interval).
		Str("grace", grace).
		Str("skippable", skippable).
		Msg("heartbeat enabled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.publish(ctx)
		}
	}
}

func (r *runner) publish(ctx context.Context) {
	msg := hb.Message{
		Subject:     strings.TrimSpace(r.cfg.Subject),
		Interval:    r.cfg.Interval,
		Description: strings.TrimSpace(r.cfg.Description),
		Skippable:   r.cfg.Skippable,
		GracePeriod: r.cfg.GracePeriod,
	}
	if msg.Description == "" {
		msg.Description = msg.Subject
	}

	if err := r.publisher.Publish(ctx, msg); err != nil {
		r.logger.Warn().Err(err).Msg("heartbeat publish failed")
	}
}
