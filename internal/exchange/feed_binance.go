package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/signal"
)

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceKline `json:"data"`
}

type binanceKline struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	K      struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Close    string `json:"c"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

const maxBackoff = 30 * time.Second

func (f *Feed) streamURL() (string, error) {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return "", fmt.Errorf("binance feed requires at least one symbol")
	}
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@kline_" + f.interval
	}
	return fmt.Sprintf("%s/stream?streams=%s", f.wsURL, strings.Join(streams, "/")), nil
}

func (f *Feed) runBinance(ctx context.Context, out chan<- signal.Bar) error {
	url, err := f.streamURL()
	if err != nil {
		return err
	}
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeBinanceStream(ctx, url, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.FeedReconnectsTotal.WithLabelValues(ProviderBinance).Inc()
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("binance feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, out chan<- signal.Bar) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", f.snapshotSymbols()).Str("interval", f.interval).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		bar, ok, err := parseKline(message)
		if err != nil {
			f.log.Warn().Err(err).Msg("failed to decode binance kline")
			continue
		}
		if !ok {
			continue
		}
		if err := emit(ctx, out, bar); err != nil {
			return err
		}
	}
}

// parseKline decodes a combined-stream kline message. ok is false for candles still forming.
func parseKline(message []byte) (bar signal.Bar, ok bool, err error) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return signal.Bar{}, false, err
	}
	if env.Data.Event != "kline" || !env.Data.K.Closed {
		return signal.Bar{}, false, nil
	}
	px, err := strconv.ParseFloat(env.Data.K.Close, 64)
	if err != nil {
		return signal.Bar{}, false, fmt.Errorf("invalid close %q: %w", env.Data.K.Close, err)
	}
	if px <= 0 || math.IsNaN(px) {
		return signal.Bar{}, false, fmt.Errorf("non-positive close %v", px)
	}
	symbol := env.Data.Symbol
	if symbol == "" {
		symbol = parseBinanceSymbol(env.Stream)
	}
	return signal.Bar{
		Symbol:   strings.ToUpper(symbol),
		OpenTime: time.UnixMilli(env.Data.K.OpenTime).UTC(),
		Close:    px,
		Closed:   true,
	}, true, nil
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
