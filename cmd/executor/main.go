// Binary executor trades the configured pair on Binance USDⓈ-M futures with real orders.
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
	"pairsbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	envFile := flag.String("env", ".env", "dotenv file holding BINANCE_API_KEY and BINANCE_API_SECRET")
	flag.Parse()

	boot := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel).With().Str("app", cfg.App.Name).Logger()

	creds, err := config.LoadCredentials(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("credentials")
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

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Bool("testnet", cfg.Exchange.Testnet).Msg("metrics up")

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

	venue := execution.NewBinance(restURL, creds.APIKey, creds.APISecret, util.Component(log, "binance"),
		execution.WithRecvWindow(cfg.Execution.RecvWindowMs))
	hist := exchange.NewHistory(restURL, util.Component(log, "history"))
	if err := live.WarmFromHistory(ctx, hist, trader, cfg.Data.Interval, cfg.Live.WarmupBars); err != nil {
		log.Fatal().Err(err).Msg("warm-up")
	}
	if err := trader.Sync(ctx, venue); err != nil {
		log.Fatal().Err(err).Msg("sync position")
	}

	symA, symB := trader.Symbols()
	feed := exchange.NewFeed(exchange.ProviderBinance, []string{symA, symB}, util.Component(log, "feed"),
		exchange.WithInterval(cfg.Data.Interval), exchange.WithWSURL(wsURL))

	opts := []live.RunnerOption{
		live.WithBuffers(cfg.Live.BarBuffer, cfg.Live.IntentBuffer),
		live.WithDispatcherOptions(
			execution.WithAlerter(alerter),
			execution.WithRetry(live.RetryFromConfig(cfg.Execution)),
		),
	}
	if events != nil {
		opts = append(opts, live.WithFillRecorders(events))
	}
	if cfg.App.HealthAddr != "" {
		opts = append(opts, live.WithHealth(live.NewHealthServer(cfg.App.HealthAddr, util.Component(log, "health"))))
	}
	runner := live.NewRunner(feed, trader, venue, log, opts...)

	log.Info().Str("pair", symA+"/"+symB).Str("position", trader.Position().String()).Msg("executor started")
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("executor stopped")
	}
	log.Info().Float64("realized", trader.Tracker().Realized()).Msg("shutting down")
}
