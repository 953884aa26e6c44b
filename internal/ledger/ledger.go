// Package ledger matches open and close events into realized trade records.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"pairsbot-go/internal/series"
	"pairsbot-go/internal/signal"
)

var (
	// ErrUnmatchedClose is returned for a close with no open entry.
	ErrUnmatchedClose = errors.New("close without open position")
	// ErrAlreadyOpen is returned for an open while another entry is pending.
	ErrAlreadyOpen = errors.New("open while position already open")
)

// Costs are per-leg fractions charged once on entry and once on exit.
type Costs struct {
	Fee      float64 `yaml:"fee" json:"fee"`
	Slippage float64 `yaml:"slippage" json:"slippage"`
}

// RoundTrip is the haircut subtracted from every realized trade.
func (c Costs) RoundTrip() float64 { return 2*c.Fee + 2*c.Slippage }

// TradeRecord is a matched entry and exit.
type TradeRecord struct {
	Direction signal.Position `json:"direction"`
	EntryTs   time.Time       `json:"entry_ts"`
	ExitTs    time.Time       `json:"exit_ts"`
	EntryA    float64         `json:"entry_a"`
	EntryB    float64         `json:"entry_b"`
	ExitA     float64         `json:"exit_a"`
	ExitB     float64         `json:"exit_b"`
	EntryZ    float64         `json:"entry_z"`
	ExitZ     float64         `json:"exit_z"`
	Return    float64         `json:"return"`
	StopLoss  bool            `json:"stop_loss"`
	Forced    bool            `json:"forced"`
}

// Holding returns the time between entry and exit.
func (r TradeRecord) Holding() time.Duration { return r.ExitTs.Sub(r.EntryTs) }

// TradeReturn is the net return of a pair trade on bar closes.
func TradeReturn(dir signal.Position, entryA, entryB, exitA, exitB float64, costs Costs) float64 {
	var raw float64
	switch dir {
	case signal.Long:
		raw = (exitA-entryA)/entryA - (exitB-entryB)/entryB
	case signal.Short:
		raw = (entryA-exitA)/entryA - (entryB-exitB)/entryB
	}
	return raw - costs.RoundTrip()
}

// Ledger is an append-only sequence of trade records with at most one pending entry.
type Ledger struct {
	costs   Costs
	pending *signal.TradeEvent
	records []TradeRecord
}

// New returns an empty ledger charging costs on every round trip.
func New(costs Costs) *Ledger {
	return &Ledger{costs: costs}
}

// Apply consumes one event. A close returns the record it realized.
func (l *Ledger) Apply(ev signal.TradeEvent) (*TradeRecord, error) {
	switch ev.Kind {
	case signal.Open:
		if l.pending != nil {
			return nil, fmt.Errorf("%w at %s", ErrAlreadyOpen, ev.Ts.Format(time.RFC3339))
		}
		if ev.Direction != signal.Long && ev.Direction != signal.Short {
			return nil, fmt.Errorf("open at %s without direction", ev.Ts.Format(time.RFC3339))
		}
		entry := ev
		l.pending = &entry
		return nil, nil
	case signal.Close:
		if l.pending == nil {
			return nil, fmt.Errorf("%w at %s", ErrUnmatchedClose, ev.Ts.Format(time.RFC3339))
		}
		in := *l.pending
		rec := TradeRecord{
			Direction: in.Direction,
			EntryTs:   in.Ts,
			ExitTs:    ev.Ts,
			EntryA:    in.PriceA,
			EntryB:    in.PriceB,
			ExitA:     ev.PriceA,
			ExitB:     ev.PriceB,
			EntryZ:    in.Z,
			ExitZ:     ev.Z,
			StopLoss:  ev.StopLoss,
		}
		rec.Return = TradeReturn(in.Direction, in.PriceA, in.PriceB, ev.PriceA, ev.PriceB, l.costs)
		l.pending = nil
		l.records = append(l.records, rec)
		return &rec, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
}

// Resume replaces the pending entry, e.g. with a position found open after a restart. A nil
// entry clears it.
func (l *Ledger) Resume(entry *signal.TradeEvent) {
	if entry == nil {
		l.pending = nil
		return
	}
	e := *entry
	l.pending = &e
}

// Pending returns the unmatched entry, if any.
func (l *Ledger) Pending() *signal.TradeEvent {
	if l.pending == nil {
		return nil
	}
	ev := *l.pending
	return &ev
}

// Records returns a copy of the realized trades.
func (l *Ledger) Records() []TradeRecord {
	out := make([]TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Replay is the outcome of running a whole event sequence through a fresh ledger.
type Replay struct {
	Records   []TradeRecord
	Returns   []float64 // per aligned bar; non-zero only on close bars
	OpenAtEnd *signal.TradeEvent
}

// Run replays events against the aligned bars. With forceClose a trailing entry is closed on the
// final bar's closes and flagged Forced; otherwise it is reported in OpenAtEnd and contributes nothing.
func Run(pair series.Pair, events []signal.TradeEvent, costs Costs, forceClose bool) (Replay, error) {
	l := New(costs)
	out := Replay{Returns: make([]float64, pair.Len())}
	bar := 0
	for _, ev := range events {
		for bar < pair.Len() && pair.Ts[bar].Before(ev.Ts) {
			bar++
		}
		if bar == pair.Len() || !pair.Ts[bar].Equal(ev.Ts) {
			return Replay{}, fmt.Errorf("event at %s is not on an aligned bar", ev.Ts.Format(time.RFC3339))
		}
		rec, err := l.Apply(ev)
		if err != nil {
			return Replay{}, err
		}
		if rec != nil {
			out.Returns[bar] += rec.Return
		}
	}
	if pending := l.Pending(); pending != nil {
		if forceClose && pair.Len() > 0 {
			last := pair.Len() - 1
			rec, err := l.Apply(signal.TradeEvent{
				Ts:        pair.Ts[last],
				Kind:      signal.Close,
				Direction: pending.Direction,
				PriceA:    pair.A[last],
				PriceB:    pair.B[last],
				Z:         0,
			})
			if err != nil {
				return Replay{}, err
			}
			l.records[len(l.records)-1].Forced = true
			out.Returns[last] += rec.Return
		} else {
			out.OpenAtEnd = pending
		}
	}
	out.Records = l.Records()
	return out, nil
}
