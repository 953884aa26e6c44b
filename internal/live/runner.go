package live

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/signal"
)

const (
	defaultBarBuffer    = 64
	defaultIntentBuffer = 16
)

// BarSource is a feed: it pushes closed bars until ctx ends.
type BarSource interface {
	Run(ctx context.Context, out chan<- signal.Bar) error
}

// Runner wires feed, trader and dispatcher into three tasks joined by bounded channels.
type Runner struct {
	feed       BarSource
	trader     *Trader
	dispatcher *execution.Dispatcher
	health     *HealthServer

	barBuffer    int
	intentBuffer int
	intents      chan execution.Intent
	fills        chan execution.Fill
	log          zerolog.Logger
}

// RunnerOption customises a Runner.
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	barBuffer    int
	intentBuffer int
	recorders    []execution.FillRecorder
	dispatch     []execution.DispatcherOption
	health       *HealthServer
}

// WithBuffers sizes the bar and intent channels.
func WithBuffers(bars, intents int) RunnerOption {
	return func(o *runnerOptions) {
		if bars > 0 {
			o.barBuffer = bars
		}
		if intents > 0 {
			o.intentBuffer = intents
		}
	}
}

// WithFillRecorders adds recorders next to the trader's own fill attribution.
func WithFillRecorders(r ...execution.FillRecorder) RunnerOption {
	return func(o *runnerOptions) { o.recorders = append(o.recorders, r...) }
}

// WithDispatcherOptions passes retry and alert settings to the dispatcher.
func WithDispatcherOptions(opts ...execution.DispatcherOption) RunnerOption {
	return func(o *runnerOptions) { o.dispatch = append(o.dispatch, opts...) }
}

// WithHealth serves gRPC health while the runner is up.
func WithHealth(h *HealthServer) RunnerOption { return func(o *runnerOptions) { o.health = h } }

// chanRecorder hands fills back to the trader without ever blocking the dispatcher.
type chanRecorder struct {
	ch  chan<- execution.Fill
	log zerolog.Logger
}

func (c chanRecorder) Record(f execution.Fill) {
	select {
	case c.ch <- f:
	default:
		c.log.Warn().Str("sym", f.Symbol).Msg("fill queue full, attribution dropped")
	}
}

// NewRunner builds the dispatcher around venue and attaches the trader to it. A venue that can
// take price marks (the paper venue) is marked from every bar.
func NewRunner(feed BarSource, trader *Trader, venue execution.Venue, log zerolog.Logger, opts ...RunnerOption) *Runner {
	o := runnerOptions{barBuffer: defaultBarBuffer, intentBuffer: defaultIntentBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Runner{
		feed:         feed,
		trader:       trader,
		health:       o.health,
		barBuffer:    o.barBuffer,
		intentBuffer: o.intentBuffer,
		intents:      make(chan execution.Intent, o.intentBuffer),
		fills:        make(chan execution.Fill, 2*o.intentBuffer),
		log:          log,
	}
	recorders := append(execution.Tee{chanRecorder{ch: r.fills, log: log}}, o.recorders...)
	dopts := append([]execution.DispatcherOption{execution.WithRecorder(recorders)}, o.dispatch...)
	r.dispatcher = execution.NewDispatcher(venue, log, dopts...)

	trader.intents = r.intents
	if m, ok := venue.(marker); ok {
		trader.marker = m
	}
	return r
}

// Run blocks until ctx ends, the feed finishes, or a task fails. State lives in the trader, so a
// feed reconnect never touches it.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	bars := make(chan signal.Bar, r.barBuffer)

	if r.health != nil {
		r.health.SetServing(true)
		g.Go(func() error { return r.health.Serve(gctx) })
	}
	g.Go(func() error {
		defer close(bars)
		err := r.feed.Run(gctx, bars)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return r.trader.Run(gctx, bars, r.fills)
	})
	g.Go(func() error {
		defer cancel()
		defer close(r.fills)
		return r.dispatcher.Run(gctx, r.intents)
	})

	r.log.Info().Str("pair", r.trader.name).Msg("live runner started")
	err := g.Wait()
	if r.health != nil {
		r.health.SetServing(false)
	}
	r.log.Info().Err(err).Msg("live runner stopped")
	return err
}
