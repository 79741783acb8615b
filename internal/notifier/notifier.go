package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Notifier dispatches alert messages to an output channel.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// Options selects the notifier implementation.
type Options struct {
	Kind     string
	Pushover PushoverConfig
	Logger   zerolog.Logger
}

// Build constructs a notifier based on the configured kind.
func Build(opts Options) (Notifier, error) {
	switch opts.Kind {
	case "", "log":
		return LogNotifier{Logger: opts.Logger}, nil
	case "pushover":
		if opts.Pushover.AppToken == "" || opts.Pushover.UserKey == "" {
			return nil, errors.New("pushover notifier selected but credentials missing")
		}
		return NewPushover(opts.Pushover), nil
	default:
		return nil, fmt.Errorf("unknown notifier kind %q", opts.Kind)
	}
}

// LogNotifier writes alerts to the logger (useful for development).
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, subject, message string) error {
	n.Logger.Info().Str("event", "alert").Str("subject", subject).Msg(message)
	return nil
}
