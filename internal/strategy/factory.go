package strategy

import (
	"fmt"
	"strings"

	"pairsbot-go/internal/spread"
)

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	Thresholds Thresholds
	Slippage   float64
	Spread     spread.Params
	Window     int // dynamic mode only; 0 derives the window from the half-life
}

// Build returns a strategy implementation matching the configured mode.
func Build(mode string, params Params) (Strategy, error) {
	if err := params.Thresholds.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "static", "static_cointegration":
		return NewStaticCointegration(params.Spread, params.Thresholds, params.Slippage), nil
	case "dynamic", "dynamic_cointegration", "rolling":
		return NewDynamicCointegration(params.Spread.HedgeRatio, params.Window, params.Thresholds, params.Slippage), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}
