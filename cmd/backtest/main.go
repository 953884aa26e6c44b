// Binary backtest replays the configured bands over every pair in the pairs file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"pairsbot-go/internal/backtest"
	"pairsbot-go/internal/config"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/report"
	"pairsbot-go/internal/store"
	"pairsbot-go/internal/strategy"
	"pairsbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	pairsFile := flag.String("pairs", "", "pairs CSV; defaults to data.pairs_file")
	only := flag.String("pair", "", "run a single pair, e.g. SAND_MANA")
	history := flag.Bool("history", false, "print stored runs of the selected pairs instead of running")
	flag.Parse()

	boot := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel).With().Str("app", cfg.App.Name).Logger()

	if *pairsFile == "" {
		*pairsFile = cfg.Data.PairsFile
	}
	ps, err := pairs.LoadCSV(*pairsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load pairs")
	}
	if *only != "" {
		var kept []pairs.Pair
		for _, p := range ps {
			if strings.EqualFold(p.Name(), *only) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			log.Fatal().Str("pair", *only).Msg("pair not in pairs file")
		}
		ps = kept
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *history {
		if cfg.Store.Path == "" {
			log.Fatal().Msg("history needs store.path")
		}
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("open store")
		}
		defer db.Close()
		if err := printHistory(ctx, db, ps); err != nil {
			log.Fatal().Err(err).Msg("read history")
		}
		return
	}

	template, err := backtest.FromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest template")
	}
	loader, err := backtest.LoaderFromConfig(cfg.Data)
	if err != nil {
		log.Fatal().Err(err).Msg("price loader")
	}

	units := backtest.Expand(template, ps, []strategy.Thresholds{template.Thresholds})
	outcomes := backtest.New(util.Component(log, "backtest")).Sweep(ctx, units, loader, cfg.Sweep.Workers)

	var db *store.Store
	if cfg.Store.Path != "" {
		if db, err = store.Open(cfg.Store.Path); err != nil {
			log.Fatal().Err(err).Msg("open store")
		}
		defer db.Close()
	}
	w := report.Writer{Dir: cfg.Backtest.ReportDir}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tTRADES\tTOTAL\tSHARPE\tMAX DD\tWIN\tOPEN")
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t%v\n", o.Unit.Pair.Name(), o.Err)
			continue
		}
		r := o.Result
		if cfg.Backtest.ReportDir != "" {
			if err := w.Write(r); err != nil {
				log.Error().Err(err).Str("pair", r.Unit.Pair.Name()).Msg("write report")
			}
		}
		if db != nil {
			if err := db.SaveRun(ctx, r); err != nil {
				log.Error().Err(err).Str("pair", r.Unit.Pair.Name()).Msg("save run")
			}
		}
		m := r.Metrics
		fmt.Fprintf(tw, "%s\t%d\t%.2f%%\t%.2f\t%.2f%%\t%.0f%%\t%v\n",
			r.Unit.Pair.Name(), m.NumTrades, m.TotalReturn*100, m.Sharpe, m.MaxDrawdown*100, m.WinRate*100, r.OpenAtEnd())
	}
	_ = tw.Flush()

	if failed := backtest.Failed(outcomes); len(outcomes) > 0 && len(failed) == len(outcomes) {
		log.Error().Int("units", len(outcomes)).Msg("every pair failed")
		os.Exit(1)
	}
}

// printHistory lists each pair's stored runs, newest first, with the trades of the newest run.
func printHistory(ctx context.Context, db *store.Store, ps []pairs.Pair) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	for _, p := range ps {
		runs, err := db.Runs(ctx, p.Crypto1, p.Crypto2)
		if err != nil {
			return fmt.Errorf("%s runs: %w", p.Name(), err)
		}
		fmt.Fprintf(tw, "%s\t%d runs\n", p.Name(), len(runs))
		for _, r := range runs {
			fmt.Fprintf(tw, "  %s\t%s\t%.2f/%.2f/%.2f\t%d\t%.2f%%\t%.2f\n",
				r.ID, r.CreatedAt.Format(time.RFC3339), r.EntryZ, r.ExitZ, r.StopZ, r.NumTrades, r.TotalReturn*100, r.Sharpe)
		}
		if len(runs) == 0 {
			continue
		}
		trades, err := db.Trades(ctx, runs[0].ID)
		if err != nil {
			return fmt.Errorf("%s trades: %w", p.Name(), err)
		}
		for _, tr := range trades {
			fmt.Fprintf(tw, "    %s\t%s\t%s\t%.4f%%\n",
				tr.Direction, tr.EntryTs.Format(time.RFC3339), tr.ExitTs.Format(time.RFC3339), tr.Return*100)
		}
	}
	return nil
}
