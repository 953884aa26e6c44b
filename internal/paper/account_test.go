package paper

import (
	"math"
	"testing"

	"pairsbot-go/internal/execution"
)

func TestMarketFillBuySellPnL(t *testing.T) {
	account := NewAccount(1000, 1)

	if err := account.MarketFill("BTCUSDT", execution.Buy, 0.5, 1000); err != nil {
		t.Fatalf("unexpected buy error: %v", err)
	}
	if err := account.MarketFill("BTCUSDT", execution.Buy, 0.5, 1100); err == nil {
		t.Fatalf("expected cash error past full collateral")
	}
	if err := account.MarketFill("BTCUSDT", execution.Buy, 0.25, 800); err != nil {
		t.Fatalf("unexpected second buy error: %v", err)
	}

	snap := account.Snapshot(map[string]float64{"BTCUSDT": 1150})
	pos := snap.Positions["BTCUSDT"]
	if math.Abs(pos.Qty-0.75) > 1e-9 {
		t.Fatalf("expected qty 0.75, got %.4f", pos.Qty)
	}
	if math.Abs(pos.AvgCost-2800.0/3) > 1e-6 {
		t.Fatalf("avg cost = %v", pos.AvgCost)
	}

	if err := account.MarketFill("BTCUSDT", execution.Sell, 0.25, 1200); err != nil {
		t.Fatalf("unexpected sell error: %v", err)
	}
	realized := account.RealizedPnL()
	if realized <= 0 {
		t.Fatalf("expected positive realized pnl got %.2f", realized)
	}

	snap = account.Snapshot(map[string]float64{"BTCUSDT": 1180})
	if math.Abs(snap.Cash+snap.Positions["BTCUSDT"].Unrealized-snap.Equity) > 1e-6 {
		t.Fatalf("equity did not balance")
	}
}

func TestShortRoundTrip(t *testing.T) {
	account := NewAccount(1000, 0)
	if err := account.MarketFill("SANDUSDT", execution.Sell, 100, 5); err != nil {
		t.Fatalf("short open: %v", err)
	}
	if got := account.Position("SANDUSDT"); got != -100 {
		t.Fatalf("position = %v", got)
	}
	snap := account.Snapshot(map[string]float64{"SANDUSDT": 4})
	if math.Abs(snap.Positions["SANDUSDT"].Unrealized-100) > 1e-9 {
		t.Fatalf("short unrealized = %v", snap.Positions["SANDUSDT"].Unrealized)
	}
	if err := account.MarketFill("SANDUSDT", execution.Buy, 100, 4); err != nil {
		t.Fatalf("short close: %v", err)
	}
	if account.Position("SANDUSDT") != 0 || math.Abs(account.RealizedPnL()-100) > 1e-9 {
		t.Fatalf("pos %v pnl %v", account.Position("SANDUSDT"), account.RealizedPnL())
	}
	if math.Abs(account.AvailableCash()-1100) > 1e-9 {
		t.Fatalf("available = %v", account.AvailableCash())
	}
}

func TestMarketFillFlipsThroughZero(t *testing.T) {
	account := NewAccount(10_000, 0)
	_ = account.MarketFill("X", execution.Buy, 10, 10)
	if err := account.MarketFill("X", execution.Sell, 15, 12); err != nil {
		t.Fatal(err)
	}
	snap := account.Snapshot(nil)
	pos := snap.Positions["X"]
	if pos.Qty != -5 || pos.AvgCost != 12 {
		t.Fatalf("flipped position = %+v", pos)
	}
	if math.Abs(snap.RealizedPnL-20) > 1e-9 {
		t.Fatalf("realized = %v", snap.RealizedPnL)
	}
}

func TestMarketFillInsufficientCash(t *testing.T) {
	account := NewAccount(10, 1)
	if err := account.MarketFill("BTCUSDT", execution.Buy, 0.1, 200); err == nil {
		t.Fatalf("expected cash error")
	}
}

func TestMarketFillPositionLimit(t *testing.T) {
	account := NewAccount(1000, 0.1)
	if err := account.MarketFill("BTCUSDT", execution.Sell, 0.2, 1000); err == nil {
		t.Fatalf("expected position limit error")
	}
}
