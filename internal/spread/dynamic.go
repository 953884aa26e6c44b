package spread

import (
	"fmt"
	"math"

	"pairsbot-go/internal/series"
	"pairsbot-go/internal/signal"
)

// minWindow is the smallest window with a defined sample standard deviation.
const minWindow = 2

// Theta estimates the Ornstein-Uhlenbeck mean-reversion speed from an AR(1) fit of the spread.
func Theta(spread []float64) float64 {
	if len(spread) < 2 {
		return 0
	}
	var sum float64
	for _, v := range spread {
		sum += v
	}
	mu := sum / float64(len(spread))

	var num, den float64
	for t := 0; t < len(spread)-1; t++ {
		d := spread[t] - mu
		num += d * (spread[t+1] - spread[t])
		den += d * d
	}
	if den == 0 {
		return 0
	}
	return -num / den
}

// HalfLifeWindow converts theta into a rolling window through the EMA relation
// lambda = 1 - exp(-theta*dt), n = round(2/lambda - 1).
func HalfLifeWindow(theta, dt float64) (int, error) {
	if !(theta > 0) || math.IsInf(theta, 0) {
		return 0, &DegenerateModelError{Reason: fmt.Sprintf("no mean reversion (theta=%v)", theta), Theta: theta}
	}
	if dt <= 0 {
		dt = 1
	}
	lambda := 1 - math.Exp(-theta*dt)
	if lambda <= 0 {
		return 0, &DegenerateModelError{Reason: "vanishing EMA weight", Theta: theta}
	}
	n := int(math.Round(2/lambda - 1))
	if n < minWindow {
		n = minWindow
	}
	return n, nil
}

// HalfLife returns ln(2)/theta in bars.
func HalfLife(theta float64) float64 {
	if theta <= 0 {
		return math.Inf(1)
	}
	return math.Ln2 / theta
}

// Dynamic derives its window from the spread's own half-life and normalizes with rolling stats.
type Dynamic struct {
	hedge  float64
	window int // fixed override; 0 derives from theta
}

// DynamicOption tunes the dynamic model.
type DynamicOption func(*Dynamic)

// WithWindow pins the rolling window instead of deriving it from theta.
func WithWindow(n int) DynamicOption {
	return func(d *Dynamic) {
		if n >= minWindow {
			d.window = n
		}
	}
}

// NewDynamic builds a rolling-window model for the supplied hedge ratio.
func NewDynamic(hedge float64, opts ...DynamicOption) *Dynamic {
	d := &Dynamic{hedge: hedge}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name identifies the model in logs.
func (d *Dynamic) Name() string { return "dynamic" }

// Window returns the window that ZScores would use for the given spread.
func (d *Dynamic) Window(spread []float64) (int, error) {
	if d.window > 0 {
		return d.window, nil
	}
	return HalfLifeWindow(Theta(spread), 1)
}

// ZScores normalizes each bar with the mean and sample std of the trailing window ending at it.
func (d *Dynamic) ZScores(pair series.Pair) ([]signal.ZPoint, error) {
	spreads := Spread(pair, d.hedge)
	n, err := d.Window(spreads)
	if err != nil {
		return nil, err
	}
	roll := NewRolling(n)
	out := make([]signal.ZPoint, len(spreads))
	for i, v := range spreads {
		out[i] = signal.ZPoint{Ts: pair.Ts[i], Z: roll.Push(v)}
	}
	return out, nil
}
