package paper

import (
	"context"
	"math"
	"testing"

	"pairsbot-go/internal/execution"
)

func TestVenueFillsAtMarkWithSlippage(t *testing.T) {
	v := NewVenue(NewAccount(10_000, 0), 10)
	ctx := context.Background()
	if _, err := v.Price(ctx, "SANDUSDT"); err == nil {
		t.Fatal("expected error before any mark")
	}
	v.Mark("SANDUSDT", 2)

	fill, err := v.Submit(ctx, execution.Order{Symbol: "SANDUSDT", Side: execution.Sell, Qty: 100})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(fill.Price-1.998) > 1e-12 || fill.OrderID != "paper-1" {
		t.Fatalf("fill = %+v", fill)
	}
	pos, _ := v.Position(ctx, "SANDUSDT")
	if pos != -100 {
		t.Fatalf("position = %v", pos)
	}

	fill, err = v.Submit(ctx, execution.Order{Symbol: "SANDUSDT", Side: execution.Buy, Qty: 100, ReduceOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(fill.Price-2.002) > 1e-12 {
		t.Fatalf("buy price = %v", fill.Price)
	}
	if pos, _ := v.Position(ctx, "SANDUSDT"); pos != 0 {
		t.Fatalf("position after close = %v", pos)
	}
}

func TestVenueReduceOnlyCannotOpen(t *testing.T) {
	v := NewVenue(NewAccount(10_000, 0), 0)
	v.Mark("X", 1)
	_, err := v.Submit(context.Background(), execution.Order{Symbol: "X", Side: execution.Sell, Qty: 1, ReduceOnly: true})
	if err == nil || !execution.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestVenueWithDispatcherClosesPosition(t *testing.T) {
	v := NewVenue(NewAccount(10_000, 0), 0)
	v.Mark("A", 10)
	ledger := NewLedger(4)
	d := execution.NewDispatcher(v, nopLogger(), execution.WithRecorder(ledger))
	ctx := context.Background()

	if _, err := d.Execute(ctx, execution.Intent{ID: "open", Symbol: "A", Side: execution.Buy, Notional: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Execute(ctx, execution.Intent{ID: "close", Symbol: "A", Close: true}); err != nil {
		t.Fatal(err)
	}
	fills := ledger.Snapshot()
	if len(fills) != 2 {
		t.Fatalf("fills = %+v", fills)
	}
	if c := fills[1]; c.IntentID != "close" || c.Side != execution.Sell || c.Qty != 100 {
		t.Fatalf("close fill = %+v", c)
	}
	if got := ledger.Turnover()["A"]; math.Abs(got-2000) > 1e-9 {
		t.Fatalf("turnover = %v", got)
	}
}
