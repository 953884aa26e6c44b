// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// Opposite flips the side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Intent is what the trader asks for: spend Notional on Side, or flatten the symbol when Close is set.
type Intent struct {
	ID       string    `json:"id"`
	Pair     string    `json:"pair"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Notional float64   `json:"notional"`
	Close    bool      `json:"close"`
	Reason   string    `json:"reason"`
	Ts       time.Time `json:"ts"`
}

// Order is a sized market order ready for a venue.
type Order struct {
	ClientID   string
	Symbol     string
	Side       Side
	Qty        float64
	ReduceOnly bool
}

// Fill is the venue's report of an executed order.
type Fill struct {
	IntentID string    `json:"intent_id"`
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
	Ts       time.Time `json:"ts"`
}

// Notional is Qty times Price.
func (f Fill) Notional() float64 { return f.Qty * f.Price }

// Venue is the execution collaborator: it places market orders and answers position and price
// queries. Position is signed; negative means short.
type Venue interface {
	Submit(ctx context.Context, order Order) (Fill, error)
	Position(ctx context.Context, symbol string) (float64, error)
	Price(ctx context.Context, symbol string) (float64, error)
}

// FillRecorder captures fills for later inspection.
type FillRecorder interface {
	Record(Fill)
}

// Tee fans one fill out to several recorders; nil entries are skipped.
type Tee []FillRecorder

// Record forwards fill to every recorder.
func (t Tee) Record(fill Fill) {
	for _, r := range t {
		if r != nil {
			r.Record(fill)
		}
	}
}

// ErrExecution matches every ExecutionError through errors.Is.
var ErrExecution = errors.New("execution failed")

// ExecutionError is the final failure of an intent after retries.
type ExecutionError struct {
	Intent   Intent
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s %s after %d attempt(s): %v", e.Intent.Side, e.Intent.Symbol, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is lets callers test for the category with errors.Is(err, ErrExecution).
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks an error that retrying cannot fix, such as a rejected quantity.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// ErrBelowMinQty is returned when an order rounds below the venue's minimum size.
var ErrBelowMinQty = errors.New("quantity below venue minimum")
