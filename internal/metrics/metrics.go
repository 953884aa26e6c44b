package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_bars_total", Help: "Closed bars ingested"},
		[]string{"symbol"},
	)
	DuplicateBarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_duplicate_bars_total", Help: "Bars dropped as duplicate or stale"},
		[]string{"symbol"},
	)
	TradeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_trade_events_total", Help: "State machine transitions"},
		[]string{"pair", "event"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	OrderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_order_failures_total", Help: "Order attempts that failed"},
		[]string{"symbol", "final"},
	)
	FeedReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_feed_reconnects_total", Help: "Websocket reconnect attempts"},
		[]string{"provider"},
	)
	SweepUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_sweep_units_total", Help: "Backtest units completed by outcome"},
		[]string{"outcome"},
	)
	ZScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pairsbot_zscore", Help: "Latest spread z-score"},
		[]string{"pair"},
	)
	Position = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pairsbot_position", Help: "Pair state: 1 long, -1 short, 0 flat"},
		[]string{"pair"},
	)
)

func init() {
	prometheus.MustRegister(
		BarsTotal, DuplicateBarsTotal, TradeEventsTotal,
		OrdersTotal, OrderFailuresTotal, FeedReconnectsTotal,
		SweepUnitsTotal, ZScore, Position,
	)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
