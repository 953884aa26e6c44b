package live

import (
	"math"
	"sync"

	"pairsbot-go/internal/execution"
)

// Leg is what the venue actually filled for one symbol.
type Leg struct {
	Qty      float64 // signed
	AvgPrice float64
	Realized float64 // quote PnL booked by reducing fills
	Fills    int
}

// Tracker attributes venue fills to per-symbol legs. It is the record of what happened, as
// opposed to the state machine, which records what was decided.
type Tracker struct {
	mu   sync.Mutex
	legs map[string]Leg
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{legs: make(map[string]Leg)}
}

// Apply books one fill.
func (t *Tracker) Apply(f execution.Fill) Leg {
	t.mu.Lock()
	defer t.mu.Unlock()
	leg := t.legs[f.Symbol]
	leg.Fills++
	if f.Qty <= 0 {
		t.legs[f.Symbol] = leg
		return leg
	}
	delta := f.Qty
	if f.Side == execution.Sell {
		delta = -delta
	}
	switch {
	case leg.Qty == 0 || (leg.Qty > 0) == (delta > 0):
		total := math.Abs(leg.Qty) + f.Qty
		leg.AvgPrice = (leg.AvgPrice*math.Abs(leg.Qty) + f.Price*f.Qty) / total
		leg.Qty += delta
	default:
		closed := math.Min(math.Abs(leg.Qty), f.Qty)
		pnl := (f.Price - leg.AvgPrice) * closed
		if leg.Qty < 0 {
			pnl = -pnl
		}
		leg.Realized += pnl
		prev := leg.Qty
		leg.Qty += delta
		switch {
		case math.Abs(leg.Qty) < 1e-12:
			leg.Qty, leg.AvgPrice = 0, 0
		case (leg.Qty > 0) != (prev > 0):
			leg.AvgPrice = f.Price
		}
	}
	t.legs[f.Symbol] = leg
	return leg
}

// Leg returns the current state for symbol.
func (t *Tracker) Leg(symbol string) Leg {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.legs[symbol]
}

// Realized sums booked PnL across legs.
func (t *Tracker) Realized() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, l := range t.legs {
		total += l.Realized
	}
	return total
}
