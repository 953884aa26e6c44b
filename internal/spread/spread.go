// Package spread turns two aligned price series into z-scores of their log spread.
//
// Undefined z-scores are NaN everywhere in this package: a zero standard deviation or a rolling
// window that is not yet full never produces 0.
package spread

import (
	"errors"
	"fmt"
	"math"

	"pairsbot-go/internal/series"
	"pairsbot-go/internal/signal"
)

// ErrDegenerateModel matches every DegenerateModelError through errors.Is.
var ErrDegenerateModel = errors.New("degenerate spread model")

// DegenerateModelError reports inputs that are well formed but admit no usable model.
type DegenerateModelError struct {
	Reason string
	Theta  float64
}

func (e *DegenerateModelError) Error() string { return "degenerate spread model: " + e.Reason }

// Is lets callers test for the category with errors.Is(err, ErrDegenerateModel).
func (e *DegenerateModelError) Is(target error) bool { return target == ErrDegenerateModel }

// Params is the static model produced by the offline cointegration scan.
type Params struct {
	HedgeRatio float64 `yaml:"hedge_ratio" json:"hedge_ratio"`
	Mean       float64 `yaml:"spread_mean" json:"spread_mean"`
	Std        float64 `yaml:"spread_std" json:"spread_std"`
}

// Validate rejects a zero or negative standard deviation.
func (p Params) Validate() error {
	if math.IsNaN(p.HedgeRatio) || math.IsNaN(p.Mean) || math.IsNaN(p.Std) {
		return &DegenerateModelError{Reason: "NaN parameter"}
	}
	if p.Std <= 0 {
		return &DegenerateModelError{Reason: fmt.Sprintf("spread std %v is not positive", p.Std)}
	}
	return nil
}

// Z normalizes a single spread value, returning NaN when std is not positive.
func (p Params) Z(spread float64) float64 {
	if p.Std <= 0 {
		return math.NaN()
	}
	return (spread - p.Mean) / p.Std
}

// Value is ln(a) - hedge*ln(b).
func Value(a, b, hedge float64) float64 {
	return math.Log(a) - hedge*math.Log(b)
}

// Spread computes the log spread for every aligned bar.
func Spread(pair series.Pair, hedge float64) []float64 {
	out := make([]float64, pair.Len())
	for i := range out {
		out[i] = Value(pair.A[i], pair.B[i], hedge)
	}
	return out
}

// Model produces a z-score series from an aligned pair.
type Model interface {
	ZScores(pair series.Pair) ([]signal.ZPoint, error)
	Name() string
}

// Static applies externally supplied mean and std to every bar.
type Static struct {
	params Params
}

// NewStatic captures the parameters by value; later edits to the caller's copy do not leak in.
func NewStatic(params Params) *Static { return &Static{params: params} }

// Name identifies the model in logs.
func (s *Static) Name() string { return "static" }

// Params returns the model parameters.
func (s *Static) Params() Params { return s.params }

// ZScores returns z for every bar. With a non-positive std every point is NaN and the error is a
// DegenerateModelError so callers can choose to skip the pair.
func (s *Static) ZScores(pair series.Pair) ([]signal.ZPoint, error) {
	spreads := Spread(pair, s.params.HedgeRatio)
	out := make([]signal.ZPoint, len(spreads))
	for i, v := range spreads {
		out[i] = signal.ZPoint{Ts: pair.Ts[i], Z: s.params.Z(v)}
	}
	if err := s.params.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// MeanStd returns the mean and sample standard deviation (n-1 denominator) of values, folding
// left to right so repeated runs are bit-identical.
func MeanStd(values []float64) (mean, std float64) {
	n := len(values)
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, math.NaN()
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// Fit derives static parameters from the spread of the supplied window using the sample std.
func Fit(pair series.Pair, hedge float64) Params {
	mean, std := MeanStd(Spread(pair, hedge))
	return Params{HedgeRatio: hedge, Mean: mean, Std: std}
}
