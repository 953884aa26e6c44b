package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/series"
	"pairsbot-go/internal/signal"
)

const (
	// BinanceFuturesREST serves public futures market data.
	BinanceFuturesREST = "https://fapi.binance.com"
	maxKlineLimit      = 1500
	defaultAttempts    = 5
)

// History downloads closed klines over REST, used to warm up the live model and to refresh CSVs.
type History struct {
	baseURL  string
	client   *http.Client
	attempts int
	wait     time.Duration
	log      zerolog.Logger
}

// NewHistory builds a REST client; an empty baseURL means BinanceFuturesREST.
func NewHistory(baseURL string, log zerolog.Logger) *History {
	if baseURL == "" {
		baseURL = BinanceFuturesREST
	}
	return &History{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: defaultAttempts,
		wait:     time.Second,
		log:      log,
	}
}

// WithRetry overrides the attempt count and the first wait; waits double after each failure.
func (h *History) WithRetry(attempts int, wait time.Duration) *History {
	if attempts > 0 {
		h.attempts = attempts
	}
	if wait >= 0 {
		h.wait = wait
	}
	return h
}

// Klines returns up to limit closed bars for symbol ending before now, oldest first.
func (h *History) Klines(ctx context.Context, symbol, interval string, limit int) (series.Series, error) {
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	q := url.Values{
		"symbol":   {strings.ToUpper(symbol)},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	endpoint := h.baseURL + "/fapi/v1/klines?" + q.Encode()

	wait := h.wait
	var lastErr error
	for attempt := 1; attempt <= h.attempts; attempt++ {
		rows, err := h.fetch(ctx, endpoint)
		if err == nil {
			return decodeKlines(rows, time.Now())
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h.log.Warn().Err(err).Str("sym", symbol).Int("attempt", attempt).Msg("kline download failed")
		if attempt == h.attempts {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wait *= 2
	}
	return nil, fmt.Errorf("klines %s after %d attempts: %w", symbol, h.attempts, lastErr)
}

func (h *History) fetch(ctx context.Context, endpoint string) ([][]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("klines status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	return rows, nil
}

// decodeKlines keeps rows whose close time has passed; the last row is usually still forming.
func decodeKlines(rows [][]json.RawMessage, now time.Time) (series.Series, error) {
	out := make(series.Series, 0, len(rows))
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(row))
		}
		var openMs, closeMs int64
		var closeStr string
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		if err := json.Unmarshal(row[4], &closeStr); err != nil {
			return nil, fmt.Errorf("kline %d close: %w", i, err)
		}
		if err := json.Unmarshal(row[6], &closeMs); err != nil {
			return nil, fmt.Errorf("kline %d close time: %w", i, err)
		}
		if time.UnixMilli(closeMs).After(now) {
			continue
		}
		px, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			return nil, fmt.Errorf("kline %d close %q: %w", i, closeStr, err)
		}
		out = append(out, signal.PricePoint{Ts: time.UnixMilli(openMs).UTC(), Close: px})
	}
	return out, nil
}
