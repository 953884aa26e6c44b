package strategy

import (
	"errors"
	"fmt"

	"pairsbot-go/internal/series"
	"pairsbot-go/internal/signal"
	"pairsbot-go/internal/spread"
)

// ErrNoSignal reports a z-score series with no defined point.
var ErrNoSignal = errors.New("z-score series has no defined values")

// Signals is everything a strategy derives from one aligned pair.
type Signals struct {
	Pair      series.Pair
	Z         []signal.ZPoint
	Events    []signal.TradeEvent
	Positions []signal.Position // state entering each bar
	Final     signal.Position
}

// Strategy generates signals for two raw series; implementations align and validate them.
type Strategy interface {
	GenerateSignals(a, b series.Series) (Signals, error)
	Name() string
}

// Drive feeds a z-score series through a fresh machine.
func Drive(pair series.Pair, zs []signal.ZPoint, th Thresholds, slippage float64) Signals {
	m := NewMachine(th, slippage)
	out := Signals{Pair: pair, Z: zs, Positions: make([]signal.Position, len(zs))}
	for i, zp := range zs {
		out.Positions[i] = m.Position()
		if ev := m.Step(zp.Ts, zp.Z, pair.A[i], pair.B[i]); ev != nil {
			out.Events = append(out.Events, *ev)
		}
	}
	out.Final = m.Position()
	return out
}

// Defined counts z points that can drive a decision.
func (s Signals) Defined() int {
	n := 0
	for _, zp := range s.Z {
		if zp.Defined() {
			n++
		}
	}
	return n
}

type cointegration struct {
	name     string
	model    spread.Model
	th       Thresholds
	slippage float64
}

func (c *cointegration) Name() string { return c.name }

func (c *cointegration) GenerateSignals(a, b series.Series) (Signals, error) {
	pair, err := series.Align(a, b)
	if err != nil {
		return Signals{}, err
	}
	zs, err := c.model.ZScores(pair)
	if err != nil {
		return Signals{Pair: pair, Z: zs}, fmt.Errorf("%s z-scores: %w", c.name, err)
	}
	out := Drive(pair, zs, c.th, c.slippage)
	if out.Defined() == 0 {
		return out, ErrNoSignal
	}
	return out, nil
}

// NewStaticCointegration normalizes with the offline scan's mean and std.
func NewStaticCointegration(params spread.Params, th Thresholds, slippage float64) Strategy {
	return &cointegration{name: "static_cointegration", model: spread.NewStatic(params), th: th, slippage: slippage}
}

// NewDynamicCointegration normalizes with a rolling window derived from the spread half-life.
func NewDynamicCointegration(hedge float64, window int, th Thresholds, slippage float64) Strategy {
	return &cointegration{
		name:     "dynamic_cointegration",
		model:    spread.NewDynamic(hedge, spread.WithWindow(window)),
		th:       th,
		slippage: slippage,
	}
}
