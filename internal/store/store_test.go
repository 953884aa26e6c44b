package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairsbot-go/internal/backtest"
	"pairsbot-go/internal/ledger"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/perf"
	"pairsbot-go/internal/signal"
	"pairsbot-go/internal/strategy"
)

func result(sharpe float64, valid bool, trades int) *backtest.Result {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &backtest.Result{
		RunID: uuid.New(),
		Unit: backtest.Unit{
			Pair:       pairs.Pair{Crypto1: "BTC", Crypto2: "ETH", Category: "Layer1"},
			Mode:       "static",
			Thresholds: strategy.Thresholds{Entry: 1.2, Exit: 0.2, Stop: 3},
			Costs:      ledger.Costs{Fee: 0.001, Slippage: 0.001},
		},
		Metrics: perf.Metrics{Sharpe: sharpe, Valid: valid, NumTrades: trades},
	}
	for i := 0; i < trades; i++ {
		r.Replay.Records = append(r.Replay.Records, ledger.TradeRecord{
			Direction: signal.Short,
			EntryTs:   t0.Add(time.Duration(2*i) * time.Hour),
			ExitTs:    t0.Add(time.Duration(2*i+1) * time.Hour),
			Return:    0.01 * float64(i),
		})
	}
	return r
}

func TestSaveAndQuery(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	best := result(2.1, true, 3)
	require.NoError(t, s.SaveRun(ctx, result(0.4, true, 1)))
	require.NoError(t, s.SaveRun(ctx, best))
	require.NoError(t, s.SaveRun(ctx, result(9.9, false, 0)))

	runs, err := s.Runs(ctx, "BTC", "ETH")
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	top, err := s.Best(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, best.RunID.String(), top[0].ID)
	assert.Equal(t, "Layer1", top[0].Category)

	trades, err := s.Trades(ctx, best.RunID.String())
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "short", trades[0].Direction)
	assert.InDelta(t, 0.02, trades[2].Return, 1e-12)
}

func TestSaveRunRejectsDuplicateID(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()
	r := result(1, true, 0)
	require.NoError(t, s.SaveRun(context.Background(), r))
	require.Error(t, s.SaveRun(context.Background(), r))
}
