// Package risk holds the guard-rails applied to intents before they reach a venue.
package risk

import "fmt"

// Limits caps each leg's notional. Zero means unlimited.
type Limits struct {
	MaxNotionalPerTrade float64
}

func (l Limits) Allow(notional float64) bool {
	return l.MaxNotionalPerTrade <= 0 || notional <= l.MaxNotionalPerTrade
}

// Clip reduces notional to the cap.
func (l Limits) Clip(notional float64) float64 {
	if l.Allow(notional) {
		return notional
	}
	return l.MaxNotionalPerTrade
}

// CheckLegs rejects a pair entry when any leg breaches the cap, so that both legs go out or neither does.
func (l Limits) CheckLegs(legs ...float64) error {
	for i, n := range legs {
		if n <= 0 {
			return fmt.Errorf("risk: leg %d has non-positive notional %v", i, n)
		}
		if !l.Allow(n) {
			return fmt.Errorf("risk: leg %d notional %.2f exceeds cap %.2f", i, n, l.MaxNotionalPerTrade)
		}
	}
	return nil
}
