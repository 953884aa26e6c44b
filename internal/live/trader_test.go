package live

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/ledger"
	"pairsbot-go/internal/notify"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/risk"
	"pairsbot-go/internal/series"
	"pairsbot-go/internal/signal"
	"pairsbot-go/internal/spread"
	"pairsbot-go/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ts(i int) time.Time { return t0.Add(time.Duration(i) * 15 * time.Minute) }

func staticConfig() Config {
	return Config{
		Pair: pairs.Pair{
			Crypto1: "SAND",
			Crypto2: "MANA",
			Params:  spread.Params{HedgeRatio: 1, Mean: 0, Std: 0.1},
		},
		Thresholds: strategy.Thresholds{Entry: 1, Exit: 0.2, Stop: 3},
		Costs:      ledger.Costs{Fee: 0.0004},
		Notional:   1000,
	}
}

func bar(sym string, i int, px float64) signal.Bar {
	return signal.Bar{Symbol: sym, OpenTime: ts(i), Close: px, Closed: true}
}

type alerts struct{ msgs []string }

func (a *alerts) Alert(_ context.Context, _ notify.Level, msg string) error {
	a.msgs = append(a.msgs, msg)
	return nil
}

func drain(ch chan execution.Intent) []execution.Intent {
	var out []execution.Intent
	for {
		select {
		case it := <-ch:
			out = append(out, it)
		default:
			return out
		}
	}
}

func TestTraderOpensAndClosesShort(t *testing.T) {
	intents := make(chan execution.Intent, 8)
	tr, err := NewTrader(staticConfig(), zerolog.Nop(), WithIntents(intents))
	require.NoError(t, err)
	ctx := context.Background()

	assert.Nil(t, tr.OnBar(ctx, bar("SANDUSDT", 0, 100)))
	assert.Nil(t, tr.OnBar(ctx, bar("MANAUSDT", 0, 100)))

	tr.OnBar(ctx, bar("SANDUSDT", 1, 100*math.Exp(0.15)))
	ev := tr.OnBar(ctx, bar("MANAUSDT", 1, 100))
	require.NotNil(t, ev)
	assert.Equal(t, signal.Open, ev.Kind)
	assert.Equal(t, signal.Short, ev.Direction)
	assert.Equal(t, signal.Short, tr.Position())

	open := drain(intents)
	require.Len(t, open, 2)
	assert.Equal(t, execution.Intent{Pair: "SAND_MANA", Symbol: "SANDUSDT", Side: execution.Sell, Notional: 1000, Reason: "short", Ts: ts(1)},
		withoutID(open[0]))
	assert.Equal(t, execution.Buy, open[1].Side)
	assert.Equal(t, "MANAUSDT", open[1].Symbol)
	assert.NotEqual(t, open[0].ID, open[1].ID)

	// duplicate of an already processed bar
	assert.Nil(t, tr.OnBar(ctx, bar("SANDUSDT", 1, 90)))

	tr.OnBar(ctx, bar("MANAUSDT", 2, 100))
	ev = tr.OnBar(ctx, bar("SANDUSDT", 2, 101))
	require.NotNil(t, ev)
	assert.Equal(t, signal.Close, ev.Kind)
	assert.Equal(t, signal.Flat, tr.Position())

	closes := drain(intents)
	require.Len(t, closes, 2)
	for _, it := range closes {
		assert.True(t, it.Close)
		assert.Zero(t, it.Notional)
	}
	assert.Equal(t, execution.Buy, closes[0].Side)

	recs := tr.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, signal.Short, recs[0].Direction)
	assert.Greater(t, recs[0].Return, 0.0)
}

func withoutID(it execution.Intent) execution.Intent {
	it.ID = ""
	return it
}

func TestTraderPairsOutOfOrderBars(t *testing.T) {
	tr, err := NewTrader(staticConfig(), zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	tr.OnBar(ctx, bar("MANAUSDT", 3, 100))
	tr.OnBar(ctx, bar("SANDUSDT", 4, 100))
	tr.OnBar(ctx, bar("SANDUSDT", 3, 100*math.Exp(-0.15)))
	assert.Equal(t, signal.Long, tr.Position(), "bar 3 completes first")
	assert.Equal(t, ts(3), tr.last)

	tr.OnBar(ctx, bar("MANAUSDT", 4, 100))
	assert.Equal(t, ts(4), tr.last)
	assert.Equal(t, signal.Flat, tr.Position())

	// stale: older than the last processed bar
	assert.Nil(t, tr.OnBar(ctx, bar("SANDUSDT", 2, 50)))
	assert.Nil(t, tr.OnBar(ctx, bar("MANAUSDT", 2, 100)))
	assert.Empty(t, tr.pending)

	// forming candles and foreign symbols are ignored
	assert.Nil(t, tr.OnBar(ctx, signal.Bar{Symbol: "SANDUSDT", OpenTime: ts(5), Close: 1}))
	assert.Nil(t, tr.OnBar(ctx, bar("BTCUSDT", 5, 1)))
	assert.Empty(t, tr.pending)
}

func TestTraderDropsIntentsWhenQueueFull(t *testing.T) {
	intents := make(chan execution.Intent, 1)
	al := &alerts{}
	tr, err := NewTrader(staticConfig(), zerolog.Nop(), WithIntents(intents), WithTraderAlerter(al))
	require.NoError(t, err)
	ctx := context.Background()
	tr.OnBar(ctx, bar("SANDUSDT", 1, 100*math.Exp(0.15)))
	require.NotNil(t, tr.OnBar(ctx, bar("MANAUSDT", 1, 100)))

	assert.Len(t, drain(intents), 1)
	require.Len(t, al.msgs, 1)
	assert.Contains(t, al.msgs[0], "intent queue full")
	assert.Equal(t, signal.Short, tr.Position(), "state survives a dropped intent")
}

func TestNewTraderValidation(t *testing.T) {
	cfg := staticConfig()
	cfg.Notional = 0
	_, err := NewTrader(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg = staticConfig()
	cfg.Notional = -5
	cfg.Risk = risk.Limits{MaxNotionalPerTrade: 500}
	_, err = NewTrader(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg = staticConfig()
	cfg.Pair.Params.Std = 0
	_, err = NewTrader(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, spread.ErrDegenerateModel)

	cfg = staticConfig()
	cfg.Mode = "garch"
	_, err = NewTrader(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestTraderClipsNotionalToRiskCap(t *testing.T) {
	cfg := staticConfig()
	cfg.Risk = risk.Limits{MaxNotionalPerTrade: 500}
	intents := make(chan execution.Intent, 4)
	tr, err := NewTrader(cfg, zerolog.Nop(), WithIntents(intents))
	require.NoError(t, err)
	ctx := context.Background()

	tr.OnBar(ctx, bar("SANDUSDT", 0, 100*math.Exp(0.15)))
	ev := tr.OnBar(ctx, bar("MANAUSDT", 0, 100))
	require.NotNil(t, ev)
	open := drain(intents)
	require.Len(t, open, 2)
	for _, it := range open {
		assert.Equal(t, 500.0, it.Notional)
	}
}

type positions map[string]float64

func (p positions) Submit(context.Context, execution.Order) (execution.Fill, error) {
	return execution.Fill{}, errors.New("not used")
}
func (p positions) Position(_ context.Context, s string) (float64, error) { return p[s], nil }
func (p positions) Price(context.Context, string) (float64, error)        { return 1, nil }

func TestTraderSyncRestoresPosition(t *testing.T) {
	tr, err := NewTrader(staticConfig(), zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, tr.Sync(ctx, positions{"SANDUSDT": -10, "MANAUSDT": 12}))
	assert.Equal(t, signal.Short, tr.Position())

	require.NoError(t, tr.Sync(ctx, positions{"SANDUSDT": 10, "MANAUSDT": -12}))
	assert.Equal(t, signal.Long, tr.Position())
	entry := tr.ledger.Pending()
	require.NotNil(t, entry)
	assert.Equal(t, signal.Long, entry.Direction)
	assert.Equal(t, 1.0, entry.PriceA)

	// back at the mean the restored long closes and realizes a record
	ev := tr.OnBar(ctx, bar("SANDUSDT", 1, 1))
	assert.Nil(t, ev)
	ev = tr.OnBar(ctx, bar("MANAUSDT", 1, 1))
	require.NotNil(t, ev)
	assert.Equal(t, signal.Close, ev.Kind)
	require.Len(t, tr.Records(), 1)
	assert.Equal(t, signal.Long, tr.Records()[0].Direction)

	al := &alerts{}
	tr, err = NewTrader(staticConfig(), zerolog.Nop(), WithTraderAlerter(al))
	require.NoError(t, err)
	assert.Error(t, tr.Sync(ctx, positions{"SANDUSDT": 10}))
	assert.Equal(t, signal.Flat, tr.Position())
	assert.Len(t, al.msgs, 1)
}

func TestDynamicTraderNeedsWarmUp(t *testing.T) {
	cfg := staticConfig()
	cfg.Mode = "dynamic"
	tr, err := NewTrader(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Run(context.Background(), nil, nil), ErrNotWarm)

	n := 400
	hist := series.Pair{Ts: make([]time.Time, n), A: make([]float64, n), B: make([]float64, n)}
	for i := 0; i < n; i++ {
		hist.Ts[i] = ts(i)
		hist.A[i] = 100 * math.Exp(0.05*math.Sin(float64(i)/6))
		hist.B[i] = 100
	}
	require.NoError(t, tr.Warm(hist))
	require.NotNil(t, tr.rolling)
	assert.True(t, tr.rolling.Ready())
	assert.Greater(t, tr.rolling.Size(), 2)
	assert.Nil(t, tr.OnBar(context.Background(), bar("SANDUSDT", n-1, 100)), "history bars are not replayed")
}

func TestTrackerAttributesFills(t *testing.T) {
	tk := NewTracker()
	tk.Apply(execution.Fill{Symbol: "A", Side: execution.Sell, Qty: 10, Price: 5})
	leg := tk.Apply(execution.Fill{Symbol: "A", Side: execution.Buy, Qty: 10, Price: 4})
	assert.Zero(t, leg.Qty)
	assert.InDelta(t, 10, leg.Realized, 1e-12)
	assert.Equal(t, 2, leg.Fills)

	tk.Apply(execution.Fill{Symbol: "B", Side: execution.Buy, Qty: 2, Price: 10})
	leg = tk.Apply(execution.Fill{Symbol: "B", Side: execution.Sell, Qty: 3, Price: 12})
	assert.Equal(t, -1.0, leg.Qty)
	assert.Equal(t, 12.0, leg.AvgPrice)
	assert.InDelta(t, 14, tk.Realized(), 1e-12)
}
