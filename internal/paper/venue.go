package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"pairsbot-go/internal/execution"
)

// Venue fills orders against an Account at the last marked price, shifted against the taker by
// SlippageBps.
type Venue struct {
	account     *Account
	slippageBps float64
	now         func() time.Time

	mu    sync.RWMutex
	marks map[string]float64
	seq   atomic.Int64
}

// NewVenue wraps an account.
func NewVenue(account *Account, slippageBps float64) *Venue {
	return &Venue{account: account, slippageBps: slippageBps, now: time.Now, marks: make(map[string]float64)}
}

// Account exposes the underlying account.
func (v *Venue) Account() *Account { return v.account }

// Mark records the latest price for symbol.
func (v *Venue) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	v.mu.Lock()
	v.marks[symbol] = price
	v.mu.Unlock()
}

// Marks returns a copy of the latest prices.
func (v *Venue) Marks() map[string]float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]float64, len(v.marks))
	for k, p := range v.marks {
		out[k] = p
	}
	return out
}

// Price returns the last mark for symbol.
func (v *Venue) Price(_ context.Context, symbol string) (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	px, ok := v.marks[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: no mark for %s", symbol)
	}
	return px, nil
}

// Position returns the account's signed position.
func (v *Venue) Position(_ context.Context, symbol string) (float64, error) {
	return v.account.Position(symbol), nil
}

// Submit fills the whole order immediately.
func (v *Venue) Submit(ctx context.Context, order execution.Order) (execution.Fill, error) {
	mark, err := v.Price(ctx, order.Symbol)
	if err != nil {
		return execution.Fill{}, execution.Permanent(err)
	}
	px := mark * (1 + v.slippageBps/10_000)
	if order.Side == execution.Sell {
		px = mark * (1 - v.slippageBps/10_000)
	}
	if order.ReduceOnly {
		pos := v.account.Position(order.Symbol)
		if (order.Side == execution.Sell && pos <= 0) || (order.Side == execution.Buy && pos >= 0) {
			return execution.Fill{}, execution.Permanent(fmt.Errorf("paper: reduce-only %s would open %s", order.Side, order.Symbol))
		}
	}
	if err := v.account.MarketFill(order.Symbol, order.Side, order.Qty, px); err != nil {
		return execution.Fill{}, execution.Permanent(err)
	}
	return execution.Fill{
		OrderID: "paper-" + strconv.FormatInt(v.seq.Add(1), 10),
		Symbol:  order.Symbol,
		Side:    order.Side,
		Qty:     order.Qty,
		Price:   px,
		Ts:      v.now().UTC(),
	}, nil
}
