// Package strategy turns z-score series into position transitions for a single pair.
package strategy

import (
	"fmt"
	"math"
	"time"

	"pairsbot-go/internal/signal"
)

// Thresholds are the hysteresis bands of the state machine, all in z units.
type Thresholds struct {
	Entry         float64 `yaml:"entry" json:"entry"`
	Exit          float64 `yaml:"exit" json:"exit"`
	Stop          float64 `yaml:"stop" json:"stop"`
	LockoutOnStop bool    `yaml:"lockout_on_stop" json:"lockout_on_stop"`
}

// Validate enforces Entry > Exit >= 0 and Stop > Entry.
func (t Thresholds) Validate() error {
	switch {
	case math.IsNaN(t.Entry) || math.IsNaN(t.Exit) || math.IsNaN(t.Stop):
		return fmt.Errorf("thresholds: NaN band")
	case t.Exit < 0:
		return fmt.Errorf("thresholds: exit %v must be >= 0", t.Exit)
	case t.Entry <= t.Exit:
		return fmt.Errorf("thresholds: entry %v must exceed exit %v", t.Entry, t.Exit)
	case t.Stop <= t.Entry:
		return fmt.Errorf("thresholds: stop %v must exceed entry %v", t.Stop, t.Entry)
	}
	return nil
}

func (t Thresholds) String() string {
	return fmt.Sprintf("entry=%.2f exit=%.2f stop=%.2f lockout=%t", t.Entry, t.Exit, t.Stop, t.LockoutOnStop)
}

// Machine is the Flat/Long/Short state machine with an optional stop lockout latch.
// It is not safe for concurrent use; one goroutine owns it.
type Machine struct {
	th       Thresholds
	slippage float64
	state    signal.Position
	locked   bool
}

// NewMachine starts Flat and unlocked.
func NewMachine(th Thresholds, slippage float64) *Machine {
	return &Machine{th: th, slippage: slippage}
}

// Position returns the current state.
func (m *Machine) Position() signal.Position { return m.state }

// Locked reports whether the stop lockout latch is set.
func (m *Machine) Locked() bool { return m.locked }

// Thresholds returns the configured bands.
func (m *Machine) Thresholds() Thresholds { return m.th }

// Restore seeds the state after a restart, e.g. from an exchange position query.
func (m *Machine) Restore(pos signal.Position) {
	m.state = pos
	m.locked = false
}

// Step evaluates one bar. It returns the emitted event or nil. An undefined z changes nothing.
func (m *Machine) Step(ts time.Time, z, priceA, priceB float64) *signal.TradeEvent {
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return nil
	}
	abs := math.Abs(z)

	if m.locked {
		if abs < m.th.Exit {
			m.locked = false
		}
		return nil
	}

	if m.state == signal.Flat {
		var dir signal.Position
		switch {
		case abs > m.th.Stop:
			return nil
		case z > m.th.Entry:
			dir = signal.Short
		case z < -m.th.Entry:
			dir = signal.Long
		default:
			return nil
		}
		m.state = dir
		ev := m.event(ts, signal.Open, dir, z, priceA, priceB)
		ev.FillA, ev.FillB = Fills(dir, priceA, priceB, m.slippage)
		return ev
	}

	dir := m.state
	var stopped bool
	switch {
	case abs > m.th.Stop:
		stopped = true
	case abs < m.th.Exit:
	default:
		return nil
	}
	m.state = signal.Flat
	if stopped && m.th.LockoutOnStop {
		m.locked = true
	}
	ev := m.event(ts, signal.Close, dir, z, priceA, priceB)
	// Closing reverses each leg.
	ev.FillA, ev.FillB = Fills(-dir, priceA, priceB, m.slippage)
	ev.StopLoss = stopped
	return ev
}

func (m *Machine) event(ts time.Time, kind signal.EventKind, dir signal.Position, z, a, b float64) *signal.TradeEvent {
	return &signal.TradeEvent{Ts: ts, Kind: kind, Direction: dir, PriceA: a, PriceB: b, Z: z}
}

// Fills applies the slippage haircut for a trade that is long (buy A, sell B) or short
// (sell A, buy B) the spread.
func Fills(dir signal.Position, priceA, priceB, slip float64) (fillA, fillB float64) {
	switch dir {
	case signal.Long:
		return priceA * (1 - slip), priceB * (1 + slip)
	case signal.Short:
		return priceA * (1 + slip), priceB * (1 - slip)
	}
	return priceA, priceB
}
