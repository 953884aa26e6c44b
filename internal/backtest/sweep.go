package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/series"
	"pairsbot-go/internal/strategy"
)

// DefaultWorkers bounds sweep fan-out when the caller passes zero.
const DefaultWorkers = 4

// Loader returns the price series of one symbol. Implementations must be safe for concurrent use.
type Loader interface {
	Load(symbol string) (series.Series, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(symbol string) (series.Series, error)

// Load calls f.
func (f LoaderFunc) Load(symbol string) (series.Series, error) { return f(symbol) }

// CSVLoader reads {Dir}/{SYMBOL}_USDT_{Interval}.csv once per symbol and hands out clones.
type CSVLoader struct {
	Dir      string
	Interval string
	Fill     time.Duration // forward-fill grid; 0 keeps the file as is

	mu    sync.Mutex
	cache map[string]*cached
}

type cached struct {
	once sync.Once
	s    series.Series
	err  error
}

// Load reads the symbol's CSV on first use.
func (l *CSVLoader) Load(symbol string) (series.Series, error) {
	l.mu.Lock()
	if l.cache == nil {
		l.cache = make(map[string]*cached)
	}
	e, ok := l.cache[symbol]
	if !ok {
		e = &cached{}
		l.cache[symbol] = e
	}
	l.mu.Unlock()

	e.once.Do(func() {
		e.s, e.err = series.LoadCSV(pairs.PricePath(l.Dir, symbol, l.Interval))
		if e.err == nil && l.Fill > 0 {
			e.s = e.s.FillForward(l.Fill)
		}
	})
	if e.err != nil {
		return nil, e.err
	}
	return e.s.Clone(), nil
}

// Outcome is one sweep unit's result or error; exactly one is set.
type Outcome struct {
	Unit   Unit
	Result *Result
	Err    error
}

// Sweep runs units on at most workers goroutines. A failing unit is logged and recorded without
// affecting its siblings. Outcomes come back in input order.
func (b *Backtester) Sweep(ctx context.Context, units []Unit, loader Loader, workers int) []Outcome {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	out := make([]Outcome, len(units))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, u := range units {
		out[i].Unit = u
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			continue
		}
		g.Go(func() error {
			res, err := b.runUnit(ctx, u, loader)
			if err != nil {
				metrics.SweepUnitsTotal.WithLabelValues("error").Inc()
				b.log.Warn().Err(err).Str("unit", u.String()).Bool("skippable", Skippable(err)).Msg("sweep unit failed")
				out[i].Err = err
				return nil
			}
			metrics.SweepUnitsTotal.WithLabelValues("ok").Inc()
			out[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (b *Backtester) runUnit(ctx context.Context, unit Unit, loader Loader) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit %s panicked: %v", unit, r)
		}
	}()
	a, err := loader.Load(unit.Pair.Crypto1)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", unit.Pair.Crypto1, err)
	}
	bs, err := loader.Load(unit.Pair.Crypto2)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", unit.Pair.Crypto2, err)
	}
	return b.Run(ctx, unit, a.Clone(), bs.Clone())
}

// Grid expands entry x exit x stop and skips tuples that violate the band ordering.
func Grid(entries, exits, stops []float64, lockout bool) []strategy.Thresholds {
	var out []strategy.Thresholds
	for _, exit := range exits {
		for _, entry := range entries {
			for _, stop := range stops {
				th := strategy.Thresholds{Entry: entry, Exit: exit, Stop: stop, LockoutOnStop: lockout}
				if th.Validate() == nil {
					out = append(out, th)
				}
			}
		}
	}
	return out
}

// Expand builds one unit per pair and threshold tuple from a template.
func Expand(template Unit, ps []pairs.Pair, grid []strategy.Thresholds) []Unit {
	out := make([]Unit, 0, len(ps)*len(grid))
	for _, th := range grid {
		for _, p := range ps {
			u := template
			u.Pair = p
			u.Thresholds = th
			out = append(out, u)
		}
	}
	return out
}

// Goal selects the ranking metric.
type Goal string

const (
	GoalSharpe      Goal = "sharpe"
	GoalTotalReturn Goal = "total_return"
	GoalWinRate     Goal = "win_rate"
)

func (g Goal) score(r *Result) float64 {
	if !r.Metrics.Valid {
		return math.Inf(-1)
	}
	switch g {
	case GoalTotalReturn:
		return r.Metrics.TotalReturn
	case GoalWinRate:
		return r.Metrics.WinRate
	default:
		return r.Metrics.Sharpe
	}
}

// Rank returns successful results ordered best first. Ties keep input order.
func Rank(outcomes []Outcome, goal Goal) []*Result {
	var out []*Result
	for _, o := range outcomes {
		if o.Result != nil {
			out = append(out, o.Result)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return goal.score(out[i]) > goal.score(out[j]) })
	return out
}

// Failed returns the outcomes that carry an error.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
