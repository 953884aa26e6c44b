// Package report writes backtest output as CSV under a per-pair folder.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"pairsbot-go/internal/backtest"
	"pairsbot-go/internal/ledger"
)

// MetricsHeader is the column layout of the per-pair metrics file.
var MetricsHeader = []string{
	"run_id", "crypto1", "crypto2", "mode", "entry_z", "exit_z", "stop_z", "lockout",
	"total_ret", "ann_ret", "ann_vol", "sharpe", "max_dd", "win_rate", "avg_trade_ret",
	"num_trades", "valid", "open_at_end",
}

// Writer lays files out as {Dir}/{CRYPTO1_CRYPTO2}/...
type Writer struct {
	Dir string
}

// PairDir returns the folder holding one pair's reports.
func (w Writer) PairDir(r *backtest.Result) string {
	return filepath.Join(w.Dir, r.Unit.Pair.Name())
}

// Write emits the trade log and series files and appends the metrics row.
func (w Writer) Write(r *backtest.Result) error {
	dir := w.PairDir(r)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report dir: %w", err)
	}
	tag := fmt.Sprintf("%s_%.2f_%.2f_%.2f", r.Unit.Pair.Name(), r.Unit.Thresholds.Entry, r.Unit.Thresholds.Exit, r.Unit.Thresholds.Stop)
	if err := writeFile(filepath.Join(dir, tag+"_trades.csv"), func(out io.Writer) error {
		return WriteTrades(out, r.Replay.Records)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, tag+"_series.csv"), func(out io.Writer) error {
		return WriteSeries(out, r)
	}); err != nil {
		return err
	}
	return AppendMetrics(filepath.Join(dir, r.Unit.Pair.Name()+".csv"), r)
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// WriteTrades writes one row per realized trade.
func WriteTrades(out io.Writer, records []ledger.TradeRecord) error {
	cw := csv.NewWriter(out)
	_ = cw.Write([]string{"entry_ts", "exit_ts", "direction", "entry_a", "entry_b", "exit_a", "exit_b", "entry_z", "exit_z", "return", "stop_loss", "forced"})
	for _, rec := range records {
		_ = cw.Write([]string{
			rec.EntryTs.UTC().Format(time.RFC3339),
			rec.ExitTs.UTC().Format(time.RFC3339),
			rec.Direction.String(),
			ff(rec.EntryA), ff(rec.EntryB), ff(rec.ExitA), ff(rec.ExitB),
			ff(rec.EntryZ), ff(rec.ExitZ), ff(rec.Return),
			strconv.FormatBool(rec.StopLoss), strconv.FormatBool(rec.Forced),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteSeries writes the per-bar closes, z-score, position, return and equity for plotting.
func WriteSeries(out io.Writer, r *backtest.Result) error {
	cw := csv.NewWriter(out)
	_ = cw.Write([]string{"timestamp", "price_a", "price_b", "z", "position", "return", "equity"})
	sig := r.Signals
	for i, ts := range sig.Pair.Ts {
		_ = cw.Write([]string{
			ts.UTC().Format(time.RFC3339),
			ff(sig.Pair.A[i]), ff(sig.Pair.B[i]),
			ff(sig.Z[i].Z),
			strconv.Itoa(int(sig.Positions[i])),
			ff(r.Equity.Returns[i]), ff(r.Equity.Values[i]),
		})
	}
	cw.Flush()
	return cw.Error()
}

// MetricsRow renders a result in MetricsHeader order.
func MetricsRow(r *backtest.Result) []string {
	m := r.Metrics
	th := r.Unit.Thresholds
	return []string{
		r.RunID.String(), r.Unit.Pair.Crypto1, r.Unit.Pair.Crypto2, r.Unit.Mode,
		ff(th.Entry), ff(th.Exit), ff(th.Stop), strconv.FormatBool(th.LockoutOnStop),
		ff(m.TotalReturn), ff(m.AnnualizedReturn), ff(m.AnnualizedVol), ff(m.Sharpe),
		ff(m.MaxDrawdown), ff(m.WinRate), ff(m.AverageTradeReturn),
		strconv.Itoa(m.NumTrades), strconv.FormatBool(m.Valid), strconv.FormatBool(r.OpenAtEnd()),
	}
}

// AppendMetrics appends one row, writing the header when the file is new.
func AppendMetrics(path string, r *backtest.Result) error {
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics: %w", err)
	}
	defer f.Close()
	cw := csv.NewWriter(f)
	if fresh {
		_ = cw.Write(MetricsHeader)
	}
	_ = cw.Write(MetricsRow(r))
	cw.Flush()
	return cw.Error()
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
