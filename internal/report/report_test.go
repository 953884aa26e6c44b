package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairsbot-go/internal/backtest"
	"pairsbot-go/internal/ledger"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/perf"
	"pairsbot-go/internal/series"
	"pairsbot-go/internal/signal"
	"pairsbot-go/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func result() *backtest.Result {
	pair := series.Pair{
		Ts: []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)},
		A:  []float64{100, 101, 102},
		B:  []float64{50, 50, 50},
	}
	rec := ledger.TradeRecord{Direction: signal.Long, EntryTs: t0, ExitTs: t0.Add(2 * time.Hour), EntryA: 100, EntryB: 50, ExitA: 102, ExitB: 50, Return: 0.02}
	returns := []float64{0, 0, 0.02}
	return &backtest.Result{
		RunID: uuid.New(),
		Unit: backtest.Unit{
			Pair:       pairs.Pair{Crypto1: "SAND", Crypto2: "MANA"},
			Mode:       "static",
			Thresholds: strategy.Thresholds{Entry: 1.2, Exit: 0.2, Stop: 3},
		},
		Signals: strategy.Signals{
			Pair:      pair,
			Z:         []signal.ZPoint{{Ts: t0, Z: -1.5}, {Ts: t0.Add(time.Hour), Z: -0.8}, {Ts: t0.Add(2 * time.Hour), Z: 0.1}},
			Positions: []signal.Position{signal.Flat, signal.Long, signal.Long},
		},
		Replay:  ledger.Replay{Records: []ledger.TradeRecord{rec}, Returns: returns},
		Equity:  perf.NewEquityCurve(returns),
		Metrics: perf.Metrics{TotalReturn: 0.02, NumTrades: 1, WinRate: 1, Valid: true},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteLaysOutPairFolder(t *testing.T) {
	w := Writer{Dir: t.TempDir()}
	r := result()
	require.NoError(t, w.Write(r))
	require.NoError(t, w.Write(r))

	dir := filepath.Join(w.Dir, "SAND_MANA")
	trades := readCSV(t, filepath.Join(dir, "SAND_MANA_1.20_0.20_3.00_trades.csv"))
	require.Len(t, trades, 2)
	assert.Equal(t, "long", trades[1][2])
	assert.Equal(t, "0.02", trades[1][9])

	rows := readCSV(t, filepath.Join(dir, "SAND_MANA.csv"))
	require.Len(t, rows, 3, "header plus one row per write")
	assert.Equal(t, MetricsHeader, rows[0])
	assert.Equal(t, "SAND", rows[1][1])
	assert.Equal(t, "1", rows[1][15])

	seriesRows := readCSV(t, filepath.Join(dir, "SAND_MANA_1.20_0.20_3.00_series.csv"))
	require.Len(t, seriesRows, 4)
	assert.Equal(t, "1", seriesRows[2][4])
	assert.True(t, strings.HasPrefix(seriesRows[3][6], "1.02"))
}
