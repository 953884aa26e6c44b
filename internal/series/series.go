// Package series validates, aligns, and windows price series before they reach the spread model.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"pairsbot-go/internal/signal"
)

// ErrInputData matches every InputDataError through errors.Is.
var ErrInputData = errors.New("input data error")

// InputDataError describes malformed price data. The core never substitutes defaults for it.
type InputDataError struct {
	Series string
	Index  int
	Ts     time.Time
	Reason string
}

func (e *InputDataError) Error() string {
	if e.Ts.IsZero() {
		return fmt.Sprintf("series %s: %s", e.Series, e.Reason)
	}
	return fmt.Sprintf("series %s[%d] at %s: %s", e.Series, e.Index, e.Ts.Format(time.RFC3339), e.Reason)
}

// Is lets callers test for the category with errors.Is(err, ErrInputData).
func (e *InputDataError) Is(target error) bool { return target == ErrInputData }

// Series is a time-ordered sequence of closes for one asset.
type Series []signal.PricePoint

// Validate checks the series is non-empty, strictly increasing in time, and has positive finite closes.
func (s Series) Validate(name string) error {
	if len(s) == 0 {
		return &InputDataError{Series: name, Reason: "empty series"}
	}
	for i, p := range s {
		if math.IsNaN(p.Close) || math.IsInf(p.Close, 0) {
			return &InputDataError{Series: name, Index: i, Ts: p.Ts, Reason: "missing close"}
		}
		if p.Close <= 0 {
			return &InputDataError{Series: name, Index: i, Ts: p.Ts, Reason: fmt.Sprintf("non-positive close %v", p.Close)}
		}
		if i > 0 && !p.Ts.After(s[i-1].Ts) {
			return &InputDataError{Series: name, Index: i, Ts: p.Ts, Reason: "timestamps not strictly increasing"}
		}
	}
	return nil
}

// Closes returns the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Close
	}
	return out
}

// Timestamps returns the timestamps in order.
func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s))
	for i, p := range s {
		out[i] = p.Ts
	}
	return out
}

// Clone returns an independent copy so concurrent workers never share backing arrays.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Window keeps points with start <= ts <= end. A zero bound is open.
func (s Series) Window(start, end time.Time) Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if !start.IsZero() && p.Ts.Before(start) {
			continue
		}
		if !end.IsZero() && p.Ts.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Sort orders points by timestamp and drops duplicate timestamps, keeping the last observation.
func (s Series) Sort() Series {
	out := s.Clone()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	dedup := out[:0]
	for _, p := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Ts.Equal(p.Ts) {
			dedup[n-1] = p
			continue
		}
		dedup = append(dedup, p)
	}
	return dedup
}

// Pair is two series aligned on identical timestamps.
type Pair struct {
	Ts []time.Time
	A  []float64
	B  []float64
}

// Len returns the number of aligned bars.
func (p Pair) Len() int { return len(p.Ts) }

// Align validates both series and pairs them on identical timestamps. Bars before the later
// start or after the earlier end are dropped; a bar inside that overlap that only one series has
// is an InputDataError.
func Align(a, b Series) (Pair, error) {
	if err := a.Validate("a"); err != nil {
		return Pair{}, err
	}
	if err := b.Validate("b"); err != nil {
		return Pair{}, err
	}
	lo, hi := a[0].Ts, a[len(a)-1].Ts
	if b[0].Ts.After(lo) {
		lo = b[0].Ts
	}
	if b[len(b)-1].Ts.Before(hi) {
		hi = b[len(b)-1].Ts
	}
	if hi.Before(lo) {
		return Pair{}, &InputDataError{Series: "a∩b", Reason: "series do not overlap"}
	}
	inside := func(ts time.Time) bool { return !ts.Before(lo) && !ts.After(hi) }

	var out Pair
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Ts.Equal(b[j].Ts):
			out.Ts = append(out.Ts, a[i].Ts)
			out.A = append(out.A, a[i].Close)
			out.B = append(out.B, b[j].Close)
			i++
			j++
		case a[i].Ts.Before(b[j].Ts):
			if inside(a[i].Ts) {
				return Pair{}, &InputDataError{Series: "b", Index: j, Ts: a[i].Ts, Reason: "missing bar present in a"}
			}
			i++
		default:
			if inside(b[j].Ts) {
				return Pair{}, &InputDataError{Series: "a", Index: i, Ts: b[j].Ts, Reason: "missing bar present in b"}
			}
			j++
		}
	}
	if len(out.Ts) == 0 {
		return Pair{}, &InputDataError{Series: "a∩b", Reason: "series do not overlap"}
	}
	return out, nil
}

// CheckGaps fails when consecutive aligned bars are further apart than interval.
func (p Pair) CheckGaps(interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	for i := 1; i < len(p.Ts); i++ {
		if gap := p.Ts[i].Sub(p.Ts[i-1]); gap > interval {
			return &InputDataError{Series: "a∩b", Index: i, Ts: p.Ts[i], Reason: fmt.Sprintf("gap of %s exceeds bar interval %s", gap, interval)}
		}
	}
	return nil
}

// FillForward resamples onto a fixed interval grid, carrying the previous close across gaps.
func (s Series) FillForward(interval time.Duration) Series {
	if len(s) == 0 || interval <= 0 {
		return s.Clone()
	}
	out := make(Series, 0, len(s))
	out = append(out, s[0])
	for _, p := range s[1:] {
		last := out[len(out)-1]
		for ts := last.Ts.Add(interval); ts.Before(p.Ts); ts = ts.Add(interval) {
			out = append(out, signal.PricePoint{Ts: ts, Close: last.Close})
		}
		out = append(out, p)
	}
	return out
}
