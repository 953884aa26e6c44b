package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"pairsbot-go/internal/config"
	"pairsbot-go/internal/exchange"
	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/live"
	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/paper"
	"pairsbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	provider := flag.String("feed", exchange.ProviderBinance, "bar feed: binance or stub")
	flag.Parse()

	boot := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel).With().Str("app", cfg.App.Name).Logger()

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	alerter := live.NewAlerter(cfg.Notify, util.Component(log, "notify"))
	events, closeBus, err := live.ConnectEvents(cfg.Bus, util.Component(log, "bus"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect bus")
	}
	defer closeBus()

	trader, err := live.NewTrader(live.FromConfig(cfg), util.Component(log, "trader"),
		live.WithEvents(events), live.WithTraderAlerter(alerter))
	if err != nil {
		log.Fatal().Err(err).Msg("build trader")
	}

	restURL, wsURL := execution.BinanceFuturesURL, exchange.BinanceFuturesWS
	if cfg.Exchange.Testnet {
		restURL, wsURL = execution.BinanceTestnetURL, exchange.BinanceTestnetWS
	}
	if cfg.Exchange.RestURL != "" {
		restURL = cfg.Exchange.RestURL
	}
	if cfg.Exchange.WSURL != "" {
		wsURL = cfg.Exchange.WSURL
	}
	if *provider == exchange.ProviderBinance {
		hist := exchange.NewHistory(restURL, util.Component(log, "history"))
		if err := live.WarmFromHistory(ctx, hist, trader, cfg.Data.Interval, cfg.Live.WarmupBars); err != nil {
			log.Fatal().Err(err).Msg("warm-up")
		}
	}

	symA, symB := trader.Symbols()
	feed := exchange.NewFeed(*provider, []string{symA, symB}, util.Component(log, "feed"),
		exchange.WithInterval(cfg.Data.Interval), exchange.WithWSURL(wsURL))

	venue := paper.NewVenue(paper.NewAccount(cfg.Paper.StartingCash, 0), cfg.Paper.SlippageBps)
	fills := paper.NewLedger(1024)
	recorders := []execution.FillRecorder{fills}
	if events != nil {
		recorders = append(recorders, events)
	}
	if cfg.Paper.FillsPath != "" {
		jsonl, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath, util.Component(log, "fills"))
		if err != nil {
			log.Fatal().Err(err).Msg("open fills log")
		}
		defer jsonl.Close()
		recorders = append(recorders, jsonl)
	}

	opts := []live.RunnerOption{
		live.WithBuffers(cfg.Live.BarBuffer, cfg.Live.IntentBuffer),
		live.WithFillRecorders(recorders...),
		live.WithDispatcherOptions(
			execution.WithAlerter(alerter),
			execution.WithRetry(live.RetryFromConfig(cfg.Execution)),
		),
	}
	if cfg.App.HealthAddr != "" {
		opts = append(opts, live.WithHealth(live.NewHealthServer(cfg.App.HealthAddr, util.Component(log, "health"))))
	}
	runner := live.NewRunner(feed, trader, venue, log, opts...)

	log.Info().Str("pair", symA+"/"+symB).Str("feed", *provider).Msg("paper engine started")
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("paper engine stopped")
	}

	snap := venue.Account().Snapshot(venue.Marks())
	log.Info().
		Float64("cash", snap.Cash).
		Float64("equity", snap.Equity).
		Float64("realized", snap.RealizedPnL).
		Int("trades", len(trader.Records())).
		Int("fills", len(fills.Snapshot())).
		Msg("shutting down")
	for sym, notional := range fills.Turnover() {
		log.Info().Str("sym", sym).Float64("notional", notional).Msg("turnover")
	}
}
