// Package exchange hosts connectors for centralized venues and bar sources.
package exchange

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic bars (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams closed futures klines from Binance public websockets.
	ProviderBinance = "binance"
)

const (
	defaultInterval     = "15m"
	defaultStubInterval = 500 * time.Millisecond
	// BinanceFuturesWS is the combined-stream endpoint for USDⓈ-M futures.
	BinanceFuturesWS = "wss://fstream.binance.com"
	// BinanceTestnetWS is the futures testnet stream endpoint.
	BinanceTestnetWS = "wss://stream.binancefuture.com"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	interval     string
	wsURL        string
	stubInterval time.Duration
	log          zerolog.Logger
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithInterval sets the kline interval ("1m", "15m", "1h").
func WithInterval(interval string) Option {
	return func(f *Feed) {
		if interval != "" {
			f.interval = interval
		}
	}
}

// WithWSURL overrides the websocket base URL.
func WithWSURL(u string) Option {
	return func(f *Feed) {
		if u != "" {
			f.wsURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithStubInterval overrides the cadence of synthetic bars.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		interval:     defaultInterval,
		wsURL:        BinanceFuturesWS,
		stubInterval: defaultStubInterval,
		log:          log,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// setSymbols deduplicates and sorts the tracked symbols.
func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes closed bars onto the provided channel until the context is canceled. It blocks when
// out is full, which is how a slow consumer applies backpressure to the feed.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Bar) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

// runStub emits one closed bar per symbol per tick. Each symbol oscillates around 100 with its own
// phase so a pair of them produces a mean-reverting spread.
func (f *Feed) runStub(ctx context.Context, out chan<- signal.Bar) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step++
			symbols := f.snapshotSymbols()
			for i, s := range symbols {
				px := 100 * math.Exp(0.05*math.Sin(float64(step)/6+float64(i)*math.Pi/2))
				bar := signal.Bar{Symbol: s, OpenTime: ts.Truncate(f.stubInterval).UTC(), Close: px, Closed: true}
				if err := emit(ctx, out, bar); err != nil {
					return err
				}
			}
		}
	}
}

func emit(ctx context.Context, out chan<- signal.Bar, bar signal.Bar) error {
	select {
	case out <- bar:
		metrics.BarsTotal.WithLabelValues(bar.Symbol).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
