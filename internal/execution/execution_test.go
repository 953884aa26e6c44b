package execution

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/notify"
)

type fakeVenue struct {
	mu        sync.Mutex
	price     float64
	positions map[string]float64
	failures  int
	failErr   error
	orders    []Order
}

func (v *fakeVenue) Submit(_ context.Context, o Order) (Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failures > 0 {
		v.failures--
		return Fill{}, v.failErr
	}
	v.orders = append(v.orders, o)
	return Fill{OrderID: "1", Symbol: o.Symbol, Side: o.Side, Qty: o.Qty, Price: v.price}, nil
}

func (v *fakeVenue) Position(_ context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positions[symbol], nil
}

func (v *fakeVenue) Price(context.Context, string) (float64, error) { return v.price, nil }

type fillSink struct {
	mu    sync.Mutex
	fills []Fill
}

func (s *fillSink) Record(f Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, f)
}

type alertSink struct {
	msgs []string
}

func (a *alertSink) Alert(_ context.Context, _ notify.Level, msg string) error {
	a.msgs = append(a.msgs, msg)
	return nil
}

func newTestDispatcher(v Venue, opts ...DispatcherOption) (*Dispatcher, *bytes.Buffer) {
	var buf bytes.Buffer
	d := NewDispatcher(v, zerolog.New(&buf), opts...)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d, &buf
}

func TestExecuteSizesByNotional(t *testing.T) {
	v := &fakeVenue{price: 50}
	sink := &fillSink{}
	d, buf := newTestDispatcher(v, WithRecorder(sink))

	fill, err := d.Execute(context.Background(), Intent{ID: "a", Symbol: "SANDUSDT", Side: Sell, Notional: 1000})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if fill.Qty != 20 || fill.IntentID != "a" {
		t.Fatalf("unexpected fill %+v", fill)
	}
	if len(sink.fills) != 1 {
		t.Fatalf("expected one recorded fill, got %d", len(sink.fills))
	}
	if !strings.Contains(buf.String(), "SANDUSDT") {
		t.Fatalf("log does not contain symbol: %s", buf.String())
	}
}

func TestCloseUsesOppositeOfPosition(t *testing.T) {
	v := &fakeVenue{price: 2, positions: map[string]float64{"SANDUSDT": -120, "MANAUSDT": 80}}
	d, _ := newTestDispatcher(v)

	if _, err := d.Execute(context.Background(), Intent{Symbol: "SANDUSDT", Close: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Execute(context.Background(), Intent{Symbol: "MANAUSDT", Close: true}); err != nil {
		t.Fatal(err)
	}
	if len(v.orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(v.orders))
	}
	if o := v.orders[0]; o.Side != Buy || o.Qty != 120 || !o.ReduceOnly {
		t.Fatalf("short close = %+v", o)
	}
	if o := v.orders[1]; o.Side != Sell || o.Qty != 80 || !o.ReduceOnly {
		t.Fatalf("long close = %+v", o)
	}
}

func TestCloseWithoutPositionIsNoop(t *testing.T) {
	v := &fakeVenue{price: 2}
	sink := &fillSink{}
	d, _ := newTestDispatcher(v, WithRecorder(sink))
	fill, err := d.Execute(context.Background(), Intent{Symbol: "SANDUSDT", Close: true})
	if err != nil {
		t.Fatal(err)
	}
	if fill.Qty != 0 || len(v.orders) != 0 || len(sink.fills) != 0 {
		t.Fatalf("expected no order, got fill %+v orders %d", fill, len(v.orders))
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	v := &fakeVenue{price: 10, failures: 2, failErr: errors.New("timeout")}
	alerts := &alertSink{}
	d, _ := newTestDispatcher(v, WithAlerter(alerts), WithRetry(Retry{MaxAttempts: 3, Base: time.Millisecond}))
	if _, err := d.Execute(context.Background(), Intent{Symbol: "X", Side: Buy, Notional: 100}); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if len(alerts.msgs) != 0 {
		t.Fatalf("unexpected alerts: %v", alerts.msgs)
	}
}

func TestFinalFailureAlerts(t *testing.T) {
	v := &fakeVenue{price: 10, failures: 5, failErr: errors.New("timeout")}
	alerts := &alertSink{}
	d, _ := newTestDispatcher(v, WithAlerter(alerts), WithRetry(Retry{MaxAttempts: 3, Base: time.Millisecond}))
	_, err := d.Execute(context.Background(), Intent{Symbol: "X", Side: Buy, Notional: 100})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Attempts != 3 {
		t.Fatalf("expected ExecutionError after 3 attempts, got %v", err)
	}
	if !errors.Is(err, ErrExecution) {
		t.Fatal("expected errors.Is ErrExecution")
	}
	if len(alerts.msgs) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.msgs))
	}
}

func TestPermanentErrorStopsRetrying(t *testing.T) {
	v := &fakeVenue{price: 10, failures: 5, failErr: Permanent(ErrBelowMinQty)}
	d, _ := newTestDispatcher(v, WithAlerter(&alertSink{}))
	_, err := d.Execute(context.Background(), Intent{Symbol: "X", Side: Buy, Notional: 100})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %v", err)
	}
	if !errors.Is(err, ErrBelowMinQty) {
		t.Fatalf("expected ErrBelowMinQty in chain: %v", err)
	}
}

func TestRunDrainsUntilClosed(t *testing.T) {
	v := &fakeVenue{price: 4}
	sink := &fillSink{}
	d, _ := newTestDispatcher(v, WithRecorder(sink))
	in := make(chan Intent, 3)
	in <- Intent{Symbol: "A", Side: Buy, Notional: 40}
	in <- Intent{Symbol: "B", Side: Sell, Notional: 40}
	in <- Intent{Symbol: "C", Side: Buy}
	close(in)
	if err := d.Run(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if len(sink.fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(sink.fills))
	}
}

func TestRetryDelayCapped(t *testing.T) {
	r := Retry{MaxAttempts: 10, Base: 500 * time.Millisecond, Max: 2 * time.Second}
	if got := r.delay(1); got != 500*time.Millisecond {
		t.Fatalf("delay(1) = %v", got)
	}
	if got := r.delay(2); got != time.Second {
		t.Fatalf("delay(2) = %v", got)
	}
	if got := r.delay(5); got != 2*time.Second {
		t.Fatalf("delay(5) = %v", got)
	}
}
