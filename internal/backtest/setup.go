package backtest

import (
	"fmt"

	"pairsbot-go/internal/config"
	"pairsbot-go/internal/strategy"
)

// FromConfig builds the unit template shared by every pair of a run: mode, window, costs, bands
// and the backtest date range. Pair is left empty.
func FromConfig(cfg *config.Config) (Unit, error) {
	start, end, err := cfg.Backtest.Window()
	if err != nil {
		return Unit{}, err
	}
	interval, err := cfg.Data.BarInterval()
	if err != nil {
		return Unit{}, fmt.Errorf("data.interval: %w", err)
	}
	return Unit{
		Mode:            cfg.Strategy.Mode,
		Window:          cfg.Strategy.Window,
		Thresholds:      cfg.Strategy.Thresholds(),
		Costs:           cfg.Backtest.Costs(),
		Start:           start,
		End:             end,
		ForceCloseAtEnd: cfg.Backtest.ForceCloseAtEnd,
		PeriodsPerYear:  cfg.Backtest.PeriodsPerYear,
		Interval:        interval,
	}, nil
}

// LoaderFromConfig reads price files from data.dir, forward-filling to the bar interval when
// data.fill_gaps is set.
func LoaderFromConfig(d config.Data) (*CSVLoader, error) {
	l := &CSVLoader{Dir: d.Dir, Interval: d.Interval}
	if d.FillGaps {
		iv, err := d.BarInterval()
		if err != nil {
			return nil, fmt.Errorf("data.interval: %w", err)
		}
		l.Fill = iv
	}
	return l, nil
}

// SweepGrid returns the configured threshold grid, or the single strategy tuple when the sweep
// section is empty.
func SweepGrid(cfg *config.Config) []strategy.Thresholds {
	s := cfg.Sweep
	if len(s.Entries) == 0 || len(s.Exits) == 0 || len(s.Stops) == 0 {
		return []strategy.Thresholds{cfg.Strategy.Thresholds()}
	}
	return Grid(s.Entries, s.Exits, s.Stops, cfg.Strategy.LockoutOnStop)
}
