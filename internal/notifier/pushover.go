package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	pushoverEndpoint   = "https://api.pushover.net/1/messages.json"
	pushoverMaxMessage = 1024
	pushoverMaxTitle   = 250
)

// PushoverConfig holds credentials for Pushover notifications.
type PushoverConfig struct {
	AppToken string
	UserKey  string
	Device   string
	Priority int
	Endpt    string
}

// NewPushover returns a Pushover notifier.
func NewPushover(cfg PushoverConfig) Notifier {
	if cfg.Endpt == "" {
		cfg.Endpt = pushoverEndpoint
	}
	return &PushoverNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// PushoverNotifier implements Notifier using the Pushover API.
type PushoverNotifier struct {
	cfg    PushoverConfig
	client *http.Client
}

func (p *PushoverNotifier) Notify(ctx context.Context, subject, message string) error {
	if p.cfg.AppToken == "" || p.cfg.UserKey == "" {
		return errors.New("pushover credentials missing")
	}

	form := url.Values{}
	form.Set("token", p.cfg.AppToken)
	form.Set("user", p.cfg.UserKey)
	form.Set("title", truncate(subject, pushoverMaxTitle))
	form.Set("message", truncate(message, pushoverMaxMessage))
	if p.cfg.Device != "" {
		form.Set("device", p.cfg.Device)
	}
	if p.cfg.Priority != 0 {
		form.Set("priority", strconv.Itoa(p.cfg.Priority))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpt, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("pushover returned status %s", resp.Status)
	}
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
