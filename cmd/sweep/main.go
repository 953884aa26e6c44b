// Binary sweep grid-searches entry, exit and stop bands across the pairs file and ranks the runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"pairsbot-go/internal/backtest"
	"pairsbot-go/internal/config"
	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/report"
	"pairsbot-go/internal/store"
	"pairsbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	pairsFile := flag.String("pairs", "", "pairs CSV; defaults to data.pairs_file")
	top := flag.Int("top", 10, "number of ranked runs to print and report")
	flag.Parse()

	boot := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel).With().Str("app", cfg.App.Name).Logger()
	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
	}

	if *pairsFile == "" {
		*pairsFile = cfg.Data.PairsFile
	}
	ps, err := pairs.LoadCSV(*pairsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load pairs")
	}
	template, err := backtest.FromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest template")
	}
	loader, err := backtest.LoaderFromConfig(cfg.Data)
	if err != nil {
		log.Fatal().Err(err).Msg("price loader")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	grid := backtest.SweepGrid(cfg)
	units := backtest.Expand(template, ps, grid)
	log.Info().Int("pairs", len(ps)).Int("grid", len(grid)).Int("units", len(units)).Msg("sweep started")
	started := time.Now()
	outcomes := backtest.New(util.Component(log, "backtest")).Sweep(ctx, units, loader, cfg.Sweep.Workers)
	ranked := backtest.Rank(outcomes, backtest.Goal(cfg.Sweep.Goal))
	log.Info().
		Int("ok", len(ranked)).
		Int("failed", len(backtest.Failed(outcomes))).
		Dur("elapsed", time.Since(started)).
		Msg("sweep complete")

	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("open store")
		}
		defer db.Close()
		for _, r := range ranked {
			if err := db.SaveRun(ctx, r); err != nil {
				log.Error().Err(err).Str("run_id", r.RunID.String()).Msg("save run")
			}
		}
		best, err := db.Best(ctx, 1)
		if err != nil {
			log.Error().Err(err).Msg("best stored run")
		} else if len(best) > 0 {
			b := best[0]
			log.Info().Str("run_id", b.ID).Str("pair", b.Crypto1+"_"+b.Crypto2).
				Float64("entry", b.EntryZ).Float64("exit", b.ExitZ).Float64("stop", b.StopZ).
				Float64("sharpe", b.Sharpe).Msg("best stored run")
		}
	}

	if *top > len(ranked) {
		*top = len(ranked)
	}
	w := report.Writer{Dir: cfg.Backtest.ReportDir}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPAIR\tENTRY\tEXIT\tSTOP\tTRADES\tTOTAL\tSHARPE\tMAX DD\tWIN")
	for i, r := range ranked[:*top] {
		if cfg.Backtest.ReportDir != "" {
			if err := w.Write(r); err != nil {
				log.Error().Err(err).Str("pair", r.Unit.Pair.Name()).Msg("write report")
			}
		}
		th, m := r.Unit.Thresholds, r.Metrics
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%d\t%.2f%%\t%.2f\t%.2f%%\t%.0f%%\n",
			i+1, r.Unit.Pair.Name(), th.Entry, th.Exit, th.Stop, m.NumTrades, m.TotalReturn*100, m.Sharpe, m.MaxDrawdown*100, m.WinRate*100)
	}
	_ = tw.Flush()
}
