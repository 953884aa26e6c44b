package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/notify"
)

// Retry bounds the dispatcher's exponential backoff.
type Retry struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultRetry is three attempts starting at 500ms.
var DefaultRetry = Retry{MaxAttempts: 3, Base: 500 * time.Millisecond, Max: 8 * time.Second}

func (r Retry) delay(attempt int) time.Duration {
	d := time.Duration(float64(r.Base) * math.Pow(2, float64(attempt-1)))
	if r.Max > 0 && d > r.Max {
		d = r.Max
	}
	return d
}

// Dispatcher owns the venue connection. It sizes intents, submits them with retries and reports
// fills to the recorder; final failures raise an alert instead of stopping the loop.
type Dispatcher struct {
	venue    Venue
	recorder FillRecorder
	alerter  notify.Alerter
	retry    Retry
	log      zerolog.Logger
	sleep    func(context.Context, time.Duration) error
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRecorder routes fills to r.
func WithRecorder(r FillRecorder) DispatcherOption { return func(d *Dispatcher) { d.recorder = r } }

// WithAlerter routes final failures to a.
func WithAlerter(a notify.Alerter) DispatcherOption { return func(d *Dispatcher) { d.alerter = a } }

// WithRetry overrides DefaultRetry.
func WithRetry(r Retry) DispatcherOption {
	return func(d *Dispatcher) {
		if r.MaxAttempts > 0 {
			d.retry = r
		}
	}
}

// NewDispatcher wraps a venue.
func NewDispatcher(venue Venue, log zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{venue: venue, retry: DefaultRetry, log: log, sleep: sleepCtx}
	for _, opt := range opts {
		opt(d)
	}
	if d.alerter == nil {
		d.alerter = notify.LogAlerter{Log: log}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run consumes intents until ctx ends or in is closed. Failures never stop the loop.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Intent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case intent, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := d.Execute(ctx, intent); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error().Err(err).Str("intent", intent.ID).Msg("intent failed")
			}
		}
	}
}

// Execute sizes and submits one intent. A close with no open position returns a zero Fill and nil.
func (d *Dispatcher) Execute(ctx context.Context, intent Intent) (Fill, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	var lastErr error
	attempt := 0
	for attempt < d.retry.MaxAttempts {
		attempt++
		fill, err := d.attempt(ctx, intent)
		if err == nil {
			if fill.Qty > 0 && d.recorder != nil {
				d.recorder.Record(fill)
			}
			return fill, nil
		}
		lastErr = err
		final := IsPermanent(err) || attempt == d.retry.MaxAttempts || ctx.Err() != nil
		metrics.OrderFailuresTotal.WithLabelValues(intent.Symbol, fmt.Sprint(final)).Inc()
		d.log.Warn().Err(err).Str("sym", intent.Symbol).Int("attempt", attempt).Bool("final", final).Msg("order attempt failed")
		if final {
			break
		}
		if err := d.sleep(ctx, d.retry.delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}
	execErr := &ExecutionError{Intent: intent, Attempts: attempt, Err: lastErr}
	if ctx.Err() == nil {
		_ = d.alerter.Alert(ctx, notify.Critical, execErr.Error())
	}
	return Fill{}, execErr
}

func (d *Dispatcher) attempt(ctx context.Context, intent Intent) (Fill, error) {
	order, err := d.size(ctx, intent)
	if err != nil {
		return Fill{}, err
	}
	if order.Qty == 0 {
		d.log.Info().Str("sym", intent.Symbol).Msg("nothing to close")
		return Fill{IntentID: intent.ID, Symbol: intent.Symbol, Side: intent.Side, Ts: intent.Ts}, nil
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	d.log.Info().Str("sym", order.Symbol).Str("side", string(order.Side)).Float64("qty", order.Qty).Bool("reduce_only", order.ReduceOnly).Msg("submit order")
	fill, err := d.venue.Submit(ctx, order)
	if err != nil {
		return Fill{}, err
	}
	fill.IntentID = intent.ID
	return fill, nil
}

// size turns notional into quantity at the current price, or queries the open position when the
// intent closes the symbol.
func (d *Dispatcher) size(ctx context.Context, intent Intent) (Order, error) {
	order := Order{ClientID: clientID(intent.ID), Symbol: intent.Symbol, Side: intent.Side}
	if intent.Close {
		pos, err := d.venue.Position(ctx, intent.Symbol)
		if err != nil {
			return Order{}, fmt.Errorf("position %s: %w", intent.Symbol, err)
		}
		if pos == 0 {
			return order, nil
		}
		order.Side = Sell
		if pos < 0 {
			order.Side = Buy
		}
		order.Qty = math.Abs(pos)
		order.ReduceOnly = true
		return order, nil
	}
	if intent.Notional <= 0 {
		return Order{}, Permanent(fmt.Errorf("intent %s has no notional", intent.ID))
	}
	px, err := d.venue.Price(ctx, intent.Symbol)
	if err != nil {
		return Order{}, fmt.Errorf("price %s: %w", intent.Symbol, err)
	}
	if px <= 0 {
		return Order{}, fmt.Errorf("price %s: non-positive %v", intent.Symbol, px)
	}
	order.Qty = intent.Notional / px
	return order, nil
}

// clientID keeps Binance's 36 character limit on newClientOrderId.
func clientID(id string) string {
	if len(id) > 36 {
		return id[:36]
	}
	return id
}
