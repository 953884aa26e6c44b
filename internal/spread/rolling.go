package spread

import "math"

// Rolling keeps the trailing window of spread values and normalizes each new value against it.
// The batch dynamic model and the live trader share it, so both paths produce identical z-scores.
type Rolling struct {
	buf    []float64
	next   int
	filled bool
	window []float64
}

// NewRolling allocates a window of size n (at least 2).
func NewRolling(n int) *Rolling {
	if n < minWindow {
		n = minWindow
	}
	return &Rolling{buf: make([]float64, n), window: make([]float64, 0, n)}
}

// Size returns the window length.
func (r *Rolling) Size() int { return len(r.buf) }

// Ready reports whether the window is full.
func (r *Rolling) Ready() bool { return r.filled }

// Push appends v and returns its z-score against the window that includes it.
// It returns NaN until the window is full and whenever the window std is zero.
func (r *Rolling) Push(v float64) float64 {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.filled = true
	}
	if !r.filled {
		return math.NaN()
	}
	mean, std := MeanStd(r.ordered())
	if !(std > 0) {
		return math.NaN()
	}
	return (v - mean) / std
}

// Stats returns the current window mean and sample std, NaN until full.
func (r *Rolling) Stats() (mean, std float64) {
	if !r.filled {
		return math.NaN(), math.NaN()
	}
	return MeanStd(r.ordered())
}

// ordered returns the window oldest first, fixing the summation order.
func (r *Rolling) ordered() []float64 {
	r.window = r.window[:0]
	r.window = append(r.window, r.buf[r.next:]...)
	r.window = append(r.window, r.buf[:r.next]...)
	return r.window
}
