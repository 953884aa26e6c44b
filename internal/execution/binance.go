package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// BinanceFuturesURL is the USDⓈ-M futures REST endpoint.
	BinanceFuturesURL = "https://fapi.binance.com"
	// BinanceTestnetURL is the futures testnet REST endpoint.
	BinanceTestnetURL = "https://testnet.binancefuture.com"

	defaultRecvWindow = 5000
)

// LotSize is the exchange's quantity filter for a symbol.
type LotSize struct {
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
	StepSize decimal.Decimal
}

// Round clamps qty into [MinQty, MaxQty] and floors it to StepSize.
func (l LotSize) Round(qty float64) (decimal.Decimal, error) {
	q := decimal.NewFromFloat(qty)
	if q.LessThan(l.MinQty) {
		return decimal.Zero, Permanent(fmt.Errorf("%w: %s < %s", ErrBelowMinQty, q, l.MinQty))
	}
	if l.MaxQty.IsPositive() && q.GreaterThan(l.MaxQty) {
		q = l.MaxQty
	}
	if l.StepSize.IsPositive() {
		q = q.Div(l.StepSize).Floor().Mul(l.StepSize)
	}
	if q.LessThan(l.MinQty) || !q.IsPositive() {
		return decimal.Zero, Permanent(fmt.Errorf("%w: %s", ErrBelowMinQty, q))
	}
	return q, nil
}

// APIError is an error body returned by the exchange.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: http %d code %d: %s", e.Status, e.Code, e.Msg)
}

// BinanceOption customises a Binance venue.
type BinanceOption func(*Binance)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) BinanceOption { return func(b *Binance) { b.client = c } }

// WithRecvWindow sets recvWindow in milliseconds.
func WithRecvWindow(ms int) BinanceOption {
	return func(b *Binance) {
		if ms > 0 {
			b.recvWindow = ms
		}
	}
}

// WithClock overrides the timestamp source for signed requests.
func WithClock(now func() time.Time) BinanceOption { return func(b *Binance) { b.now = now } }

// Binance is a Venue backed by the USDⓈ-M futures REST API.
type Binance struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int
	client     *http.Client
	now        func() time.Time
	log        zerolog.Logger

	mu      sync.Mutex
	filters map[string]LotSize
}

// NewBinance builds a signed client. An empty baseURL means BinanceFuturesURL.
func NewBinance(baseURL, apiKey, apiSecret string, log zerolog.Logger, opts ...BinanceOption) *Binance {
	if baseURL == "" {
		baseURL = BinanceFuturesURL
	}
	b := &Binance{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: defaultRecvWindow,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *Binance) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		params.Set("recvWindow", strconv.Itoa(b.recvWindow))
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		query = params.Encode()
		query += "&signature=" + Sign(b.apiSecret, query)
	}
	endpoint := b.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return Permanent(err)
	}
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		if apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(body))
		}
		// 429 and 418 are rate limits; 5xx is the exchange's problem.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusTeapot {
			return Permanent(apiErr)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// Price returns the last traded price of symbol.
func (b *Binance) Price(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", url.Values{"symbol": {symbol}}, false, &resp); err != nil {
		return 0, err
	}
	return resp.Price.InexactFloat64(), nil
}

// Position returns the signed position amount for symbol; zero when none is open.
func (b *Binance) Position(ctx context.Context, symbol string) (float64, error) {
	var resp []struct {
		Symbol      string          `json:"symbol"`
		PositionAmt decimal.Decimal `json:"positionAmt"`
	}
	if err := b.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{"symbol": {symbol}}, true, &resp); err != nil {
		return 0, err
	}
	total := decimal.Zero
	for _, p := range resp {
		if p.Symbol == symbol {
			total = total.Add(p.PositionAmt)
		}
	}
	return total.InexactFloat64(), nil
}

// LotSize returns the LOT_SIZE filter for symbol, loading exchangeInfo once.
func (b *Binance) LotSize(ctx context.Context, symbol string) (LotSize, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filters == nil {
		if err := b.loadFilters(ctx); err != nil {
			return LotSize{}, err
		}
	}
	lot, ok := b.filters[symbol]
	if !ok {
		return LotSize{}, Permanent(fmt.Errorf("binance: unknown symbol %s", symbol))
	}
	return lot, nil
}

func (b *Binance) loadFilters(ctx context.Context) error {
	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string          `json:"filterType"`
				MinQty     decimal.Decimal `json:"minQty"`
				MaxQty     decimal.Decimal `json:"maxQty"`
				StepSize   decimal.Decimal `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}
	filters := make(map[string]LotSize, len(info.Symbols))
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				filters[s.Symbol] = LotSize{MinQty: f.MinQty, MaxQty: f.MaxQty, StepSize: f.StepSize}
			}
		}
	}
	b.filters = filters
	b.log.Debug().Int("symbols", len(filters)).Msg("loaded lot size filters")
	return nil
}

// Submit rounds the order to the symbol's lot size and places a MARKET order.
func (b *Binance) Submit(ctx context.Context, order Order) (Fill, error) {
	lot, err := b.LotSize(ctx, order.Symbol)
	if err != nil {
		return Fill{}, err
	}
	qty, err := lot.Round(order.Qty)
	if err != nil {
		return Fill{}, err
	}
	params := url.Values{
		"symbol":           {order.Symbol},
		"side":             {string(order.Side)},
		"type":             {"MARKET"},
		"quantity":         {qty.String()},
		"newOrderRespType": {"RESULT"},
	}
	if order.ClientID != "" {
		params.Set("newClientOrderId", order.ClientID)
	}
	if order.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	var resp struct {
		OrderID     int64           `json:"orderId"`
		Status      string          `json:"status"`
		ExecutedQty decimal.Decimal `json:"executedQty"`
		AvgPrice    decimal.Decimal `json:"avgPrice"`
		UpdateTime  int64           `json:"updateTime"`
	}
	if err := b.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return Fill{}, err
	}
	if resp.Status == "REJECTED" || resp.Status == "EXPIRED" {
		return Fill{}, Permanent(errors.New("binance: order " + strings.ToLower(resp.Status)))
	}
	executed := resp.ExecutedQty
	if executed.IsZero() {
		executed = qty
	}
	ts := b.now().UTC()
	if resp.UpdateTime > 0 {
		ts = time.UnixMilli(resp.UpdateTime).UTC()
	}
	return Fill{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Symbol:  order.Symbol,
		Side:    order.Side,
		Qty:     executed.InexactFloat64(),
		Price:   resp.AvgPrice.InexactFloat64(),
		Ts:      ts,
	}, nil
}
