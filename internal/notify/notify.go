// Package notify delivers operator alerts for failures the live loop cannot recover from.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Level grades an alert.
type Level string

const (
	Info     Level = "info"
	Warning  Level = "warning"
	Critical Level = "critical"
)

// Alerter sends a message to a human.
type Alerter interface {
	Alert(ctx context.Context, level Level, msg string) error
}

// LogAlerter writes alerts to the structured log only.
type LogAlerter struct {
	Log zerolog.Logger
}

// Alert logs msg at a level matching the alert severity.
func (a LogAlerter) Alert(_ context.Context, level Level, msg string) error {
	ev := a.Log.Info()
	switch level {
	case Warning:
		ev = a.Log.Warn()
	case Critical:
		ev = a.Log.Error()
	}
	ev.Str("alert", string(level)).Msg(msg)
	return nil
}

// Webhook posts Slack-compatible JSON to an incoming-webhook URL.
type Webhook struct {
	url     string
	channel string
	client  *http.Client
	log     zerolog.Logger
}

// NewWebhook builds a webhook alerter; a nil client gets a 10s timeout.
func NewWebhook(url, channel string, client *http.Client, log zerolog.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, channel: channel, client: client, log: log}
}

type payload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Alert posts the message and also logs it, so a webhook outage never hides an alert.
func (w *Webhook) Alert(ctx context.Context, level Level, msg string) error {
	_ = LogAlerter{Log: w.log}.Alert(ctx, level, msg)

	body, err := json.Marshal(payload{Channel: w.channel, Text: fmt.Sprintf("[%s] %s", level, msg)})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post alert: status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an alert out to several alerters and returns the first error.
type Multi []Alerter

// Alert calls every alerter even if one fails.
func (m Multi) Alert(ctx context.Context, level Level, msg string) error {
	var first error
	for _, a := range m {
		if err := a.Alert(ctx, level, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
