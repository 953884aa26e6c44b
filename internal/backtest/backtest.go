// Package backtest drives the spread model, state machine, ledger and evaluator over historical
// windows, one pair at a time or as a bounded parallel sweep.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pairsbot-go/internal/ledger"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/perf"
	"pairsbot-go/internal/series"
	"pairsbot-go/internal/spread"
	"pairsbot-go/internal/strategy"
)

// ErrNoSignal is returned when no bar in the window has a defined z-score.
var ErrNoSignal = strategy.ErrNoSignal

// Unit is one independent backtest: a pair, a threshold tuple and a window.
type Unit struct {
	Pair            pairs.Pair
	Mode            string
	Window          int // dynamic mode override
	Thresholds      strategy.Thresholds
	Costs           ledger.Costs
	Start           time.Time
	End             time.Time
	ForceCloseAtEnd bool
	PeriodsPerYear  float64
	Interval        time.Duration // bar spacing; aligned bars further apart fail the unit
}

func (u Unit) String() string {
	return fmt.Sprintf("%s %s [%s]", u.Pair.Name(), u.Mode, u.Thresholds)
}

// Result carries every series a report or plot needs.
type Result struct {
	RunID    uuid.UUID
	Unit     Unit
	Signals  strategy.Signals
	Replay   ledger.Replay
	Equity   perf.EquityCurve
	Metrics  perf.Metrics
	RunAt    time.Time
	Duration time.Duration
}

// OpenAtEnd reports whether the window ended with an unmatched entry.
func (r *Result) OpenAtEnd() bool { return r.Replay.OpenAtEnd != nil }

// Backtester runs units. It holds no per-run state and may be shared across goroutines.
type Backtester struct {
	log zerolog.Logger
	now func() time.Time
}

// New returns a Backtester logging through log.
func New(log zerolog.Logger) *Backtester {
	return &Backtester{log: log, now: time.Now}
}

// Run backtests one unit over its own copies of a and b.
func (b *Backtester) Run(ctx context.Context, unit Unit, a, bs series.Series) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := b.now()
	log := b.log.With().Str("pair", unit.Pair.Name()).Str("mode", unit.Mode).Logger()

	strat, err := strategy.Build(unit.Mode, strategy.Params{
		Thresholds: unit.Thresholds,
		Slippage:   unit.Costs.Slippage,
		Spread:     unit.Pair.Params,
		Window:     unit.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}

	wa := a.Window(unit.Start, unit.End)
	wb := bs.Window(unit.Start, unit.End)
	sig, err := strat.GenerateSignals(wa, wb)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", unit.Pair.Name(), err)
	}
	if err := sig.Pair.CheckGaps(unit.Interval); err != nil {
		return nil, fmt.Errorf("%s: %w", unit.Pair.Name(), err)
	}

	rep, err := ledger.Run(sig.Pair, sig.Events, unit.Costs, unit.ForceCloseAtEnd)
	if err != nil {
		return nil, fmt.Errorf("%s ledger: %w", unit.Pair.Name(), err)
	}

	curve := perf.NewEquityCurve(rep.Returns)
	metrics := perf.NewEvaluator(unit.PeriodsPerYear, log).Evaluate(curve, rep.Records)

	res := &Result{
		RunID:    uuid.New(),
		Unit:     unit,
		Signals:  sig,
		Replay:   rep,
		Equity:   curve,
		Metrics:  metrics,
		RunAt:    started,
		Duration: b.now().Sub(started),
	}
	ev := log.Info().
		Str("run_id", res.RunID.String()).
		Int("bars", sig.Pair.Len()).
		Int("trades", metrics.NumTrades).
		Float64("total_return", metrics.TotalReturn).
		Float64("sharpe", metrics.Sharpe)
	if res.OpenAtEnd() {
		ev = ev.Str("open_at_end", rep.OpenAtEnd.Direction.String())
	}
	ev.Msg("backtest complete")
	return res, nil
}

// Skippable reports errors that concern the data or model of a single pair rather than the run.
func Skippable(err error) bool {
	return errors.Is(err, series.ErrInputData) || errors.Is(err, ErrNoSignal) || errors.Is(err, spread.ErrDegenerateModel)
}
