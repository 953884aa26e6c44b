// Package signal standardizes payloads shared between data ingestion, strategy, and ledger layers.
package signal

import (
	"math"
	"time"
)

// PricePoint is a single close observation of one asset.
type PricePoint struct {
	Ts    time.Time
	Close float64
}

// Bar is a closed candle delivered by a live feed.
type Bar struct {
	Symbol   string
	OpenTime time.Time
	Close    float64
	Closed   bool
}

// ZPoint carries the normalized spread deviation at a timestamp. Z is NaN when undefined.
type ZPoint struct {
	Ts time.Time
	Z  float64
}

// Defined reports whether the z-score can drive a decision.
func (p ZPoint) Defined() bool { return !math.IsNaN(p.Z) && !math.IsInf(p.Z, 0) }

// Position is the pair-level exposure: long the spread buys A and sells B.
type Position int

const (
	Flat  Position = 0
	Long  Position = 1
	Short Position = -1
)

func (p Position) String() string {
	switch p {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// EventKind distinguishes entries from exits.
type EventKind string

const (
	Open  EventKind = "open"
	Close EventKind = "close"
)

// TradeEvent is emitted by the signal state machine on every position transition.
type TradeEvent struct {
	Ts        time.Time
	Kind      EventKind
	Direction Position // direction opened, or direction being closed
	PriceA    float64  // bar close of asset A
	PriceB    float64  // bar close of asset B
	FillA     float64  // slippage-adjusted fill for asset A
	FillB     float64  // slippage-adjusted fill for asset B
	Z         float64
	StopLoss  bool // close triggered by the stop band
}

// Label renders the event the way trade logs print it: long, short, or close.
func (e TradeEvent) Label() string {
	if e.Kind == Open {
		return e.Direction.String()
	}
	return string(Close)
}
