package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// WindowEvaluations counts window evaluations by outcome.
	WindowEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tod_window_evaluations_total",
			Help: "Total number of time-of-day window evaluations",
		},
		[]string{"result"},
	)

	// MisconfiguredWindows counts evaluations of windows missing a boundary.
	MisconfiguredWindows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tod_window_misconfigured_total",
			Help: "Total number of evaluations of windows missing a start or end time",
		},
		[]string{"missing"},
	)

	// RuleTriggers counts rules that became active and were notified.
	RuleTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tod_rule_triggers_total",
			Help: "Total number of rule activations notified",
		},
		[]string{"rule"},
	)

	// TickErrors counts failed evaluation ticks.
	TickErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tod_tick_errors_total",
			Help: "Total number of evaluation ticks that failed",
		},
	)
)

func init() {
	prometheus.MustRegister(WindowEvaluations)
	prometheus.MustRegister(MisconfiguredWindows)
	prometheus.MustRegister(RuleTriggers)
	prometheus.MustRegister(TickErrors)
}

// Serve exposes /metrics on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
