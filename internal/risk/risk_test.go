package risk

import "testing"

func TestAllow(t *testing.T) {
	limits := Limits{MaxNotionalPerTrade: 50}
	if !limits.Allow(49.9) {
		t.Fatalf("expected notional under limit to pass")
	}
	if limits.Allow(50.1) {
		t.Fatalf("expected notional above limit to fail")
	}
	if !(Limits{}).Allow(1e9) {
		t.Fatalf("zero cap should be unlimited")
	}
}

func TestClip(t *testing.T) {
	limits := Limits{MaxNotionalPerTrade: 50}
	if got := limits.Clip(80); got != 50 {
		t.Fatalf("Clip(80) = %v", got)
	}
	if got := limits.Clip(20); got != 20 {
		t.Fatalf("Clip(20) = %v", got)
	}
}

func TestCheckLegs(t *testing.T) {
	limits := Limits{MaxNotionalPerTrade: 1000}
	if err := limits.CheckLegs(1000, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := limits.CheckLegs(1000, 1000.01); err == nil {
		t.Fatalf("expected second leg to breach")
	}
	if err := limits.CheckLegs(0, 10); err == nil {
		t.Fatalf("expected zero leg to fail")
	}
}
