package live

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/bus"
	"pairsbot-go/internal/config"
	"pairsbot-go/internal/exchange"
	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/notify"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/risk"
	"pairsbot-go/internal/series"
)

// FromConfig maps the YAML sections onto a trader config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Pair: pairs.Pair{
			Crypto1: cfg.Live.Crypto1,
			Crypto2: cfg.Live.Crypto2,
			Params:  cfg.Live.Spread,
		},
		Quote:        cfg.Live.Quote,
		Mode:         cfg.Strategy.Mode,
		Window:       cfg.Strategy.Window,
		Thresholds:   cfg.Strategy.Thresholds(),
		Costs:        cfg.Backtest.Costs(),
		Notional:     cfg.Live.Notional,
		Risk:         risk.Limits{MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade},
		DedupeWindow: cfg.Live.DedupeWindow,
	}
}

// RetryFromConfig converts the execution section into a dispatcher retry policy. max_retries
// counts retries after the first submit.
func RetryFromConfig(e config.Execution) execution.Retry {
	return execution.Retry{
		MaxAttempts: e.MaxRetries + 1,
		Base:        time.Duration(e.BaseBackoffMs) * time.Millisecond,
		Max:         time.Duration(e.MaxBackoffMs) * time.Millisecond,
	}
}

// WarmFromHistory fetches limit closed klines for both legs and seeds the trader with them.
func WarmFromHistory(ctx context.Context, h *exchange.History, t *Trader, interval string, limit int) error {
	if limit <= 0 {
		return nil
	}
	symA, symB := t.Symbols()
	a, err := h.Klines(ctx, symA, interval, limit)
	if err != nil {
		return fmt.Errorf("warm-up %s: %w", symA, err)
	}
	b, err := h.Klines(ctx, symB, interval, limit)
	if err != nil {
		return fmt.Errorf("warm-up %s: %w", symB, err)
	}
	hist, err := series.Align(a, b)
	if err != nil {
		return fmt.Errorf("warm-up align: %w", err)
	}
	return t.Warm(hist)
}

// NewAlerter logs every alert and also posts to the webhook when one is configured.
func NewAlerter(n config.Notify, log zerolog.Logger) notify.Alerter {
	base := notify.LogAlerter{Log: log}
	if n.WebhookURL == "" {
		return base
	}
	return notify.Multi{base, notify.NewWebhook(n.WebhookURL, n.Channel, nil, log)}
}

// ConnectEvents dials the bus when a URL is configured. The returned close func is never nil.
func ConnectEvents(b config.Bus, log zerolog.Logger) (*bus.Events, func(), error) {
	if b.URL == "" {
		return nil, func() {}, nil
	}
	codec, err := bus.CodecFor(b.Codec)
	if err != nil {
		return nil, func() {}, err
	}
	conn, err := bus.Connect(b.URL, log)
	if err != nil {
		return nil, func() {}, err
	}
	return bus.NewEvents(conn, codec, b.Subject, log), func() { _ = conn.Drain() }, nil
}
