// Package perf summarizes an equity curve and its trades.
package perf

import (
	"math"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/ledger"
)

// DefaultPeriodsPerYear annualizes volatility for daily-equity conventions.
const DefaultPeriodsPerYear = 252

// EquityCurve is the compounded value of one unit of capital, one point per bar.
type EquityCurve struct {
	Returns []float64
	Values  []float64
}

// NewEquityCurve compounds per-bar returns starting from 1.
func NewEquityCurve(returns []float64) EquityCurve {
	values := make([]float64, len(returns))
	eq := 1.0
	for i, r := range returns {
		eq *= 1 + r
		values[i] = eq
	}
	rs := make([]float64, len(returns))
	copy(rs, returns)
	return EquityCurve{Returns: rs, Values: values}
}

// FromEquity rebuilds per-bar returns from equity values; the first bar's return is relative to 1.
func FromEquity(values []float64) EquityCurve {
	returns := make([]float64, len(values))
	prev := 1.0
	for i, v := range values {
		if prev != 0 {
			returns[i] = v/prev - 1
		}
		prev = v
	}
	vs := make([]float64, len(values))
	copy(vs, values)
	return EquityCurve{Returns: returns, Values: vs}
}

// Len returns the number of bars.
func (c EquityCurve) Len() int { return len(c.Values) }

// Drawdowns returns equity / running max - 1 per bar.
func (c EquityCurve) Drawdowns() []float64 {
	out := make([]float64, len(c.Values))
	peak := math.Inf(-1)
	for i, v := range c.Values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			out[i] = v/peak - 1
		}
	}
	return out
}

// Metrics is the read-only result of one evaluation. Valid is false when the input admitted no
// meaningful statistics; the numeric fields are then zero and Reason says why.
type Metrics struct {
	TotalReturn        float64 `json:"total_return"`
	AnnualizedReturn   float64 `json:"annualized_return"`
	AnnualizedVol      float64 `json:"annualized_volatility"`
	Sharpe             float64 `json:"sharpe_ratio"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	WinRate            float64 `json:"win_rate"`
	AverageTradeReturn float64 `json:"average_trade_return"`
	NumTrades          int     `json:"num_trades"`
	Valid              bool    `json:"valid"`
	Reason             string  `json:"reason,omitempty"`
}

// Evaluator computes Metrics with a fixed annualization convention.
type Evaluator struct {
	periodsPerYear float64
	log            zerolog.Logger
}

// NewEvaluator falls back to DefaultPeriodsPerYear when periodsPerYear is not positive.
func NewEvaluator(periodsPerYear float64, log zerolog.Logger) *Evaluator {
	if !(periodsPerYear > 0) {
		periodsPerYear = DefaultPeriodsPerYear
	}
	return &Evaluator{periodsPerYear: periodsPerYear, log: log}
}

// PeriodsPerYear returns the annualization factor in use.
func (e *Evaluator) PeriodsPerYear() float64 { return e.periodsPerYear }

// Evaluate never fails. Degenerate input yields zeroed metrics with Valid=false and is logged.
func (e *Evaluator) Evaluate(curve EquityCurve, trades []ledger.TradeRecord) Metrics {
	m := Metrics{NumTrades: len(trades)}
	n := curve.Len()
	if n == 0 {
		return e.invalid(m, "empty equity curve")
	}
	for _, v := range curve.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return e.invalid(m, "non-finite equity value")
		}
	}

	m.TotalReturn = curve.Values[n-1] - 1
	if base := 1 + m.TotalReturn; base > 0 {
		m.AnnualizedReturn = math.Pow(base, 365/float64(n)) - 1
	} else {
		m.AnnualizedReturn = -1
	}

	if std := sampleStd(curve.Returns); !math.IsNaN(std) {
		m.AnnualizedVol = std * math.Sqrt(e.periodsPerYear)
	}
	if m.AnnualizedVol > 0 {
		m.Sharpe = m.AnnualizedReturn / m.AnnualizedVol
	}

	for _, dd := range curve.Drawdowns() {
		if dd < m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	if len(trades) > 0 {
		wins := 0
		for _, t := range trades {
			if t.Return > 0 {
				wins++
			}
		}
		m.WinRate = float64(wins) / float64(len(trades))
	}

	var sum float64
	var count int
	for _, r := range curve.Returns {
		if r != 0 {
			sum += r
			count++
		}
	}
	if count > 0 {
		m.AverageTradeReturn = sum / float64(count)
	}

	m.Valid = true
	if n < 2 {
		m.Reason = "single bar: volatility undefined"
		e.log.Debug().Str("reason", m.Reason).Msg("evaluation partially defined")
	}
	if len(trades) == 0 {
		// curve figures are kept
		m.Valid = false
		m.Reason = "no trades"
		e.log.Warn().Str("reason", m.Reason).Int("bars", n).Msg("evaluation undefined")
	}
	return m
}

func (e *Evaluator) invalid(m Metrics, reason string) Metrics {
	trades := m.NumTrades
	m = Metrics{NumTrades: trades, Reason: reason}
	e.log.Warn().Str("reason", reason).Int("trades", trades).Msg("evaluation undefined")
	return m
}

func sampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}
