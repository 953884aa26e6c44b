// Package paper simulates a perpetual futures account so the live loop can trade without an exchange.
package paper

import (
	"errors"
	"math"
	"sync"

	"pairsbot-go/internal/execution"
)

const epsilon = 1e-9

type positionState struct {
	Qty     float64 // signed; negative is short
	AvgCost float64
}

// Account tracks collateral, realized PnL and signed per-symbol positions. Exposure is fully
// collateralized: the entry notional of all open positions may not exceed cash.
type Account struct {
	mu                   sync.Mutex
	startingCash         float64
	cash                 float64
	realizedPnL          float64
	maxPositionPerSymbol float64
	positions            map[string]positionState
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Qty         float64
	AvgCost     float64
	MarketValue float64
	Unrealized  float64
}

// Snapshot represents a thread-safe view of the account state, optionally marked to market using provided prices.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account with starting collateral and an optional absolute quantity cap per symbol.
func NewAccount(startingCash, maxPositionPerSymbol float64) *Account {
	return &Account{
		startingCash:         startingCash,
		cash:                 startingCash,
		maxPositionPerSymbol: maxPositionPerSymbol,
		positions:            make(map[string]positionState),
	}
}

// StartingCash returns the initial bankroll used to compute drawdown.
func (a *Account) StartingCash() float64 { return a.startingCash }

func sameSign(x, y float64) bool { return (x > 0 && y > 0) || (x < 0 && y < 0) }

// usedLocked is the entry notional of every open position.
func (a *Account) usedLocked() float64 {
	var used float64
	for _, p := range a.positions {
		used += math.Abs(p.Qty) * p.AvgCost
	}
	return used
}

// MarketFill applies a market order at price. An order against an open position reduces it first
// and realizes PnL on the reduced part; any excess opens the other way at price.
func (a *Account) MarketFill(symbol string, side execution.Side, qty, price float64) error {
	if qty <= 0 {
		return errors.New("quantity must be positive")
	}
	if price <= 0 {
		return errors.New("price must be positive")
	}
	var delta float64
	switch side {
	case execution.Buy:
		delta = qty
	case execution.Sell:
		delta = -qty
	default:
		return errors.New("unknown order side")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.positions[symbol]
	newQty := state.Qty + delta
	if math.Abs(newQty) <= epsilon {
		newQty = 0
	}

	next := positionState{Qty: newQty}
	realized := 0.0
	switch {
	case state.Qty == 0 || sameSign(state.Qty, delta):
		next.AvgCost = (state.AvgCost*math.Abs(state.Qty) + price*qty) / math.Abs(newQty)
	default:
		closed := math.Min(math.Abs(state.Qty), qty)
		realized = (price - state.AvgCost) * closed
		if state.Qty < 0 {
			realized = -realized
		}
		switch {
		case newQty == 0:
		case sameSign(newQty, state.Qty):
			next.AvgCost = state.AvgCost
		default:
			next.AvgCost = price
		}
	}

	if math.Abs(newQty) > math.Abs(state.Qty) {
		if a.maxPositionPerSymbol > 0 && math.Abs(newQty) > a.maxPositionPerSymbol+epsilon {
			return errors.New("position limit exceeded")
		}
		used := a.usedLocked() - math.Abs(state.Qty)*state.AvgCost + math.Abs(newQty)*next.AvgCost
		if used > a.cash+realized+epsilon {
			return errors.New("insufficient cash for order")
		}
	}

	a.realizedPnL += realized
	a.cash += realized
	if newQty == 0 {
		delete(a.positions, symbol)
	} else {
		a.positions[symbol] = next
	}
	return nil
}

// Snapshot returns a copy of balances, optionally marked using the supplied prices map. Equity is
// cash plus the unrealized PnL of every marked position.
func (a *Account) Snapshot(prices map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.cash
	for sym, pos := range a.positions {
		mark := prices[sym]
		marketValue := pos.Qty * mark
		unrealized := (mark - pos.AvgCost) * pos.Qty
		if mark == 0 {
			marketValue = 0
			unrealized = 0
		}
		positions[sym] = PositionSnapshot{
			Qty:         pos.Qty,
			AvgCost:     pos.AvgCost,
			MarketValue: marketValue,
			Unrealized:  unrealized,
		}
		equity += unrealized
	}

	return Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realizedPnL,
		Equity:      equity,
		Positions:   positions,
	}
}

// AvailableCash reports collateral not tied up in open positions.
func (a *Account) AvailableCash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash - a.usedLocked()
}

// Position returns the signed position size for the supplied symbol.
func (a *Account) Position(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}
