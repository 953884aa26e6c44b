package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pairsbot-go/internal/signal"
)

func TestFeedRunEmitsBars(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, []string{"sandusdt", "MANAUSDT", "SANDUSDT"}, zerolog.Nop(), WithStubInterval(10*time.Millisecond))
	bars := make(chan signal.Bar, 2)

	go func() {
		_ = feed.Run(ctx, bars)
	}()

	var got []signal.Bar
	for len(got) < 2 {
		select {
		case b := <-bars:
			got = append(got, b)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for bars")
		}
	}
	cancel()
	if got[0].Symbol != "MANAUSDT" || got[1].Symbol != "SANDUSDT" {
		t.Fatalf("unexpected symbols %s %s", got[0].Symbol, got[1].Symbol)
	}
	if !got[0].OpenTime.Equal(got[1].OpenTime) || !got[0].Closed || got[0].Close <= 0 {
		t.Fatalf("bars not aligned: %+v", got)
	}
}

func TestParseBinanceSymbol(t *testing.T) {
	cases := map[string]string{
		"btcusdt@kline_15m": "BTCUSDT",
		"ethusdt@aggTrade":  "ETHUSDT",
		"dogeusdt":          "DOGEUSDT",
		"":                  "",
	}
	for stream, expected := range cases {
		if got := parseBinanceSymbol(stream); got != expected {
			t.Fatalf("expected %s got %s", expected, got)
		}
	}
}

const (
	formingKline = `{"stream":"sandusdt@kline_15m","data":{"e":"kline","s":"SANDUSDT","k":{"t":1704067200000,"i":"15m","c":"0.6010","x":false}}}`
	closedKline  = `{"stream":"sandusdt@kline_15m","data":{"e":"kline","s":"SANDUSDT","k":{"t":1704067200000,"i":"15m","c":"0.6021","x":true}}}`
)

func TestParseKline(t *testing.T) {
	if _, ok, err := parseKline([]byte(formingKline)); ok || err != nil {
		t.Fatalf("forming candle should be skipped, ok=%v err=%v", ok, err)
	}
	bar, ok, err := parseKline([]byte(closedKline))
	if err != nil || !ok {
		t.Fatalf("closed candle: ok=%v err=%v", ok, err)
	}
	if bar.Symbol != "SANDUSDT" || bar.Close != 0.6021 || bar.OpenTime.UnixMilli() != 1704067200000 {
		t.Fatalf("unexpected bar %+v", bar)
	}
	if _, _, err := parseKline([]byte(`{"data":{"e":"kline","k":{"c":"abc","x":true}}}`)); err == nil {
		t.Fatal("expected error for bad close")
	}
}

func TestBinanceFeedEmitsOnlyClosedBarsAndReconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "sandusdt@kline_15m") {
			http.Error(w, "bad streams", http.StatusBadRequest)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)
		_ = c.WriteMessage(websocket.TextMessage, []byte(formingKline))
		_ = c.WriteMessage(websocket.TextMessage, []byte(closedKline))
		if n == 1 {
			return
		}
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	feed := NewFeed(ProviderBinance, []string{"SANDUSDT"}, zerolog.Nop(), WithWSURL(wsURL), WithInterval("15m"))

	bars := make(chan signal.Bar, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- feed.Run(ctx, bars) }()

	for i := 0; i < 2; i++ {
		select {
		case b := <-bars:
			if b.Close != 0.6021 {
				t.Fatalf("forming candle leaked: %+v", b)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for bar %d", i)
		}
	}
	if conns.Load() < 2 {
		t.Fatalf("expected a reconnect, saw %d connections", conns.Load())
	}
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("feed did not stop after cancel")
	}
}

func TestBinanceFeedRequiresSymbols(t *testing.T) {
	feed := NewFeed(ProviderBinance, nil, zerolog.Nop())
	if err := feed.Run(context.Background(), make(chan signal.Bar)); err == nil {
		t.Fatal("expected error without symbols")
	}
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(2)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := signal.Bar{Symbol: "A", OpenTime: t0}
	b := signal.Bar{Symbol: "B", OpenTime: t0}
	c := signal.Bar{Symbol: "A", OpenTime: t0.Add(time.Minute)}

	if d.Seen(a) || d.Seen(b) {
		t.Fatal("first sightings reported as duplicates")
	}
	if !d.Seen(a) {
		t.Fatal("duplicate not detected")
	}
	if d.Seen(c) {
		t.Fatal("new bar reported as duplicate")
	}
	if d.Len() != 2 {
		t.Fatalf("window not bounded: %d", d.Len())
	}
	if d.Seen(a) {
		t.Fatal("evicted key should be forgotten")
	}
}
