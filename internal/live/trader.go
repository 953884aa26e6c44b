// Package live drives the signal state machine from a streaming bar feed and hands order intents
// to the execution layer.
package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pairsbot-go/internal/bus"
	"pairsbot-go/internal/exchange"
	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/ledger"
	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/notify"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/risk"
	"pairsbot-go/internal/series"
	"pairsbot-go/internal/signal"
	"pairsbot-go/internal/spread"
	"pairsbot-go/internal/strategy"
)

const (
	ModeStatic  = "static"
	ModeDynamic = "dynamic"
)

// Config is everything a Trader needs for one pair.
type Config struct {
	Pair         pairs.Pair
	Quote        string
	Mode         string
	Window       int // dynamic mode; zero derives it from warm-up history
	Thresholds   strategy.Thresholds
	Costs        ledger.Costs
	Notional     float64 // per leg
	Risk         risk.Limits
	DedupeWindow int
}

// ErrNotWarm is returned by Run when dynamic mode has no window yet.
var ErrNotWarm = errors.New("dynamic mode needs a window or warm-up history")

type marker interface {
	Mark(symbol string, price float64)
}

// half is a bar timestamp waiting for its other leg.
type half struct {
	a, b float64
}

// Trader owns the position state. It is driven by a single goroutine; only the Tracker is safe
// for concurrent use.
type Trader struct {
	cfg        Config
	name       string
	symA, symB string

	machine *strategy.Machine
	rolling *spread.Rolling
	dedupe  *exchange.Deduper
	pending map[int64]*half
	last    time.Time
	ledger  *ledger.Ledger
	tracker *Tracker

	intents chan<- execution.Intent
	events  *bus.Events
	alerter notify.Alerter
	marker  marker
	log     zerolog.Logger
}

// TraderOption customises a Trader.
type TraderOption func(*Trader)

// WithIntents sets the channel intents are sent on.
func WithIntents(ch chan<- execution.Intent) TraderOption {
	return func(t *Trader) { t.intents = ch }
}

// WithEvents publishes transitions on the bus.
func WithEvents(e *bus.Events) TraderOption { return func(t *Trader) { t.events = e } }

// WithTraderAlerter routes queue overflows and sync mismatches to a.
func WithTraderAlerter(a notify.Alerter) TraderOption { return func(t *Trader) { t.alerter = a } }

// NewTrader validates cfg and builds a flat trader.
func NewTrader(cfg Config, log zerolog.Logger, opts ...TraderOption) (*Trader, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStatic
	}
	if !(cfg.Notional > 0) {
		return nil, fmt.Errorf("live: notional must be positive, got %v", cfg.Notional)
	}
	if capped := cfg.Risk.Clip(cfg.Notional); capped != cfg.Notional {
		log.Warn().Float64("notional", cfg.Notional).Float64("cap", capped).Msg("per-leg notional clipped to risk cap")
		cfg.Notional = capped
	}
	if err := cfg.Risk.CheckLegs(cfg.Notional, cfg.Notional); err != nil {
		return nil, err
	}
	cfg.Mode = strings.ToLower(cfg.Mode)
	t := &Trader{
		cfg:     cfg,
		name:    cfg.Pair.Name(),
		symA:    cfg.Pair.SymbolA(cfg.Quote),
		symB:    cfg.Pair.SymbolB(cfg.Quote),
		machine: strategy.NewMachine(cfg.Thresholds, cfg.Costs.Slippage),
		dedupe:  exchange.NewDeduper(cfg.DedupeWindow),
		pending: make(map[int64]*half),
		ledger:  ledger.New(cfg.Costs),
		tracker: NewTracker(),
		log:     log.With().Str("pair", cfg.Pair.Name()).Logger(),
	}
	switch cfg.Mode {
	case ModeStatic:
		if err := cfg.Pair.Params.Validate(); err != nil {
			return nil, fmt.Errorf("live %s: %w", t.name, err)
		}
	case ModeDynamic:
		if cfg.Window > 0 {
			t.rolling = spread.NewRolling(cfg.Window)
		}
	default:
		return nil, fmt.Errorf("live: unknown mode %q", cfg.Mode)
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.alerter == nil {
		t.alerter = notify.LogAlerter{Log: t.log}
	}
	return t, nil
}

// Symbols returns the exchange symbols of both legs.
func (t *Trader) Symbols() (a, b string) { return t.symA, t.symB }

// Position is the machine state.
func (t *Trader) Position() signal.Position { return t.machine.Position() }

// Records returns the trades realized so far at bar closes.
func (t *Trader) Records() []ledger.TradeRecord { return t.ledger.Records() }

// Tracker exposes fill attribution.
func (t *Trader) Tracker() *Tracker { return t.tracker }

// Warm seeds the rolling window from history so live z-scores start immediately. In dynamic mode
// with no configured window, the window is derived from the history's mean-reversion speed.
func (t *Trader) Warm(hist series.Pair) error {
	if hist.Len() == 0 {
		return nil
	}
	if t.cfg.Mode == ModeDynamic {
		values := spread.Spread(hist, t.cfg.Pair.Params.HedgeRatio)
		if t.rolling == nil {
			n, err := spread.NewDynamic(t.cfg.Pair.Params.HedgeRatio).Window(values)
			if err != nil {
				return fmt.Errorf("live %s warm-up: %w", t.name, err)
			}
			t.rolling = spread.NewRolling(n)
			t.log.Info().Int("window", n).Float64("half_life_bars", spread.HalfLife(spread.Theta(values))).
				Msg("derived rolling window")
		}
		for _, v := range values {
			t.rolling.Push(v)
		}
	}
	t.last = hist.Ts[hist.Len()-1]
	t.log.Info().Int("bars", hist.Len()).Time("last", t.last).Msg("warm-up complete")
	return nil
}

// Sync restores the position from the venue after a restart. Mismatched legs leave the trader
// flat and raise a warning. A restored position enters the trade ledger at current prices so the
// next close realizes a record.
func (t *Trader) Sync(ctx context.Context, venue execution.Venue) error {
	qa, err := venue.Position(ctx, t.symA)
	if err != nil {
		return fmt.Errorf("sync %s: %w", t.symA, err)
	}
	qb, err := venue.Position(ctx, t.symB)
	if err != nil {
		return fmt.Errorf("sync %s: %w", t.symB, err)
	}
	pos := signal.Flat
	switch {
	case qa == 0 && qb == 0:
	case qa > 0 && qb < 0:
		pos = signal.Long
	case qa < 0 && qb > 0:
		pos = signal.Short
	default:
		msg := fmt.Sprintf("%s: venue legs do not form a pair position (%s %v, %s %v)", t.name, t.symA, qa, t.symB, qb)
		_ = t.alerter.Alert(ctx, notify.Warning, msg)
		return errors.New(msg)
	}
	t.machine.Restore(pos)
	metrics.Position.WithLabelValues(t.name).Set(float64(pos))
	if pos == signal.Flat {
		t.ledger.Resume(nil)
		t.log.Info().Msg("venue flat")
		return nil
	}
	entry, err := t.resumeEntry(ctx, venue, pos)
	if err != nil {
		return err
	}
	t.ledger.Resume(&entry)
	t.log.Info().Str("position", pos.String()).Float64("price_a", entry.PriceA).Float64("price_b", entry.PriceB).
		Float64("z", entry.Z).Msg("position restored from venue")
	return nil
}

// resumeEntry stands in for the unknown original entry of a restored position: current venue
// prices, stamped at the last processed bar.
func (t *Trader) resumeEntry(ctx context.Context, venue execution.Venue, pos signal.Position) (signal.TradeEvent, error) {
	pa, err := venue.Price(ctx, t.symA)
	if err != nil {
		return signal.TradeEvent{}, fmt.Errorf("sync price %s: %w", t.symA, err)
	}
	pb, err := venue.Price(ctx, t.symB)
	if err != nil {
		return signal.TradeEvent{}, fmt.Errorf("sync price %s: %w", t.symB, err)
	}
	ts := t.last
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	v := spread.Value(pa, pb, t.cfg.Pair.Params.HedgeRatio)
	z := math.NaN()
	if t.rolling != nil {
		if mean, std := t.rolling.Stats(); std > 0 {
			z = (v - mean) / std
		}
	} else {
		z = t.cfg.Pair.Params.Z(v)
	}
	return signal.TradeEvent{Ts: ts, Kind: signal.Open, Direction: pos, PriceA: pa, PriceB: pb, FillA: pa, FillB: pb, Z: z}, nil
}

// Run consumes bars and fills until ctx ends or bars closes. When bars closes the trader closes
// its intent channel and keeps attributing fills until fills closes.
func (t *Trader) Run(ctx context.Context, bars <-chan signal.Bar, fills <-chan execution.Fill) error {
	if t.cfg.Mode == ModeDynamic && t.rolling == nil {
		return ErrNotWarm
	}
	for {
		if bars == nil && fills == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case bar, ok := <-bars:
			if !ok {
				bars = nil
				if t.intents != nil {
					close(t.intents)
					t.intents = nil
				}
				continue
			}
			t.OnBar(ctx, bar)
		case f, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			t.onFill(f)
		}
	}
}

// OnBar ingests one bar and returns the transition it caused, if any.
func (t *Trader) OnBar(ctx context.Context, bar signal.Bar) *signal.TradeEvent {
	if !bar.Closed || !(bar.Close > 0) {
		return nil
	}
	if bar.Symbol != t.symA && bar.Symbol != t.symB {
		return nil
	}
	if t.marker != nil {
		t.marker.Mark(bar.Symbol, bar.Close)
	}
	if t.dedupe.Seen(bar) || (!t.last.IsZero() && !bar.OpenTime.After(t.last)) {
		metrics.DuplicateBarsTotal.WithLabelValues(bar.Symbol).Inc()
		t.log.Debug().Str("sym", bar.Symbol).Time("open", bar.OpenTime).Msg("dropped duplicate or stale bar")
		return nil
	}
	key := bar.OpenTime.UnixNano()
	h := t.pending[key]
	if h == nil {
		h = &half{}
		t.pending[key] = h
	}
	if bar.Symbol == t.symA {
		h.a = bar.Close
	} else {
		h.b = bar.Close
	}
	if h.a == 0 || h.b == 0 {
		return nil
	}
	ts := bar.OpenTime
	for k := range t.pending {
		if k <= key {
			delete(t.pending, k)
		}
	}
	t.last = ts
	return t.step(ctx, ts, h.a, h.b)
}

func (t *Trader) z(a, b float64) float64 {
	v := spread.Value(a, b, t.cfg.Pair.Params.HedgeRatio)
	if t.rolling != nil {
		return t.rolling.Push(v)
	}
	return t.cfg.Pair.Params.Z(v)
}

func (t *Trader) step(ctx context.Context, ts time.Time, a, b float64) *signal.TradeEvent {
	z := t.z(a, b)
	if !math.IsNaN(z) {
		metrics.ZScore.WithLabelValues(t.name).Set(z)
	}
	ev := t.machine.Step(ts, z, a, b)
	metrics.Position.WithLabelValues(t.name).Set(float64(t.machine.Position()))
	if ev == nil {
		t.log.Debug().Time("ts", ts).Float64("z", z).Msg("bar")
		return nil
	}
	metrics.TradeEventsTotal.WithLabelValues(t.name, ev.Label()).Inc()
	t.log.Info().Time("ts", ts).Str("event", ev.Label()).Float64("z", z).Bool("stop_loss", ev.StopLoss).
		Float64("price_a", a).Float64("price_b", b).Msg("trade event")

	rec, err := t.ledger.Apply(*ev)
	switch {
	case err != nil:
		t.log.Warn().Err(err).Msg("ledger rejected event")
	case rec != nil:
		t.log.Info().Float64("return", rec.Return).Dur("holding", rec.Holding()).Msg("trade closed")
	}
	if err := t.events.PublishTrade(t.name, *ev); err != nil {
		t.log.Warn().Err(err).Msg("publish trade event")
	}
	for _, it := range t.intentsFor(*ev) {
		t.send(ctx, it)
	}
	return ev
}

// intentsFor maps a transition to leg intents: long the spread buys A and sells B.
func (t *Trader) intentsFor(ev signal.TradeEvent) []execution.Intent {
	sideA, sideB := execution.Buy, execution.Sell
	if ev.Direction == signal.Short {
		sideA, sideB = execution.Sell, execution.Buy
	}
	reason := ev.Label()
	if ev.StopLoss {
		reason = "stop_loss"
	}
	mk := func(sym string, side execution.Side) execution.Intent {
		it := execution.Intent{ID: uuid.NewString(), Pair: t.name, Symbol: sym, Side: side, Reason: reason, Ts: ev.Ts}
		if ev.Kind == signal.Close {
			it.Side = side.Opposite()
			it.Close = true
		} else {
			it.Notional = t.cfg.Notional
		}
		return it
	}
	return []execution.Intent{mk(t.symA, sideA), mk(t.symB, sideB)}
}

// send never blocks the signal loop; a full queue drops the intent and raises an alert.
func (t *Trader) send(ctx context.Context, it execution.Intent) {
	if t.intents == nil {
		return
	}
	select {
	case t.intents <- it:
	default:
		msg := fmt.Sprintf("%s: intent queue full, dropped %s %s", t.name, it.Side, it.Symbol)
		t.log.Error().Str("intent", it.ID).Msg("intent queue full")
		_ = t.alerter.Alert(ctx, notify.Critical, msg)
	}
}

func (t *Trader) onFill(f execution.Fill) {
	leg := t.tracker.Apply(f)
	t.log.Info().Str("sym", f.Symbol).Str("side", string(f.Side)).Float64("qty", f.Qty).
		Float64("price", f.Price).Float64("leg_qty", leg.Qty).Msg("fill")
}
