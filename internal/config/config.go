// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pairsbot-go/internal/ledger"
	"pairsbot-go/internal/spread"
	"pairsbot-go/internal/strategy"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name" validate:"required"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	HealthAddr  string `yaml:"health_addr"`
	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
}

// Data locates price files and the cointegration scan output.
type Data struct {
	Dir       string `yaml:"dir"`
	Interval  string `yaml:"interval" validate:"required"`
	PairsFile string `yaml:"pairs_file"`
	FillGaps  bool   `yaml:"fill_gaps"`
}

// BarInterval parses Interval ("15m", "1h", "1d").
func (d Data) BarInterval() (time.Duration, error) {
	s := strings.TrimSpace(d.Interval)
	if strings.HasSuffix(s, "d") {
		var n int
		if _, err := fmt.Sscanf(s, "%dd", &n); err != nil || n <= 0 {
			return 0, fmt.Errorf("bad interval %q", d.Interval)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("bad interval %q", d.Interval)
	}
	return dur, nil
}

// Strategy holds the state machine bands and the spread model selection.
type Strategy struct {
	Mode          string  `yaml:"mode" validate:"omitempty,oneof=static dynamic"`
	Entry         float64 `yaml:"entry" validate:"gtfield=Exit"`
	Exit          float64 `yaml:"exit" validate:"gte=0"`
	Stop          float64 `yaml:"stop" validate:"gtfield=Entry"`
	LockoutOnStop bool    `yaml:"lockout_on_stop"`
	Window        int     `yaml:"window" validate:"gte=0"`
}

// Thresholds converts the bands for the state machine.
func (s Strategy) Thresholds() strategy.Thresholds {
	return strategy.Thresholds{Entry: s.Entry, Exit: s.Exit, Stop: s.Stop, LockoutOnStop: s.LockoutOnStop}
}

// Backtest bounds the historical window and the cost model.
type Backtest struct {
	Start           string  `yaml:"start"`
	End             string  `yaml:"end"`
	Fee             float64 `yaml:"fee" validate:"gte=0,lt=1"`
	Slippage        float64 `yaml:"slippage" validate:"gte=0,lt=1"`
	ForceCloseAtEnd bool    `yaml:"force_close_at_end"`
	PeriodsPerYear  float64 `yaml:"periods_per_year" validate:"gte=0"`
	ReportDir       string  `yaml:"report_dir"`
}

// Costs converts the fee and slippage haircut.
func (b Backtest) Costs() ledger.Costs {
	return ledger.Costs{Fee: b.Fee, Slippage: b.Slippage}
}

// Window parses Start and End; an empty bound stays zero (open). End is inclusive of its whole day
// when given as a bare date.
func (b Backtest) Window() (start, end time.Time, err error) {
	if start, err = parseDate(b.Start, false); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.start: %w", err)
	}
	if end, err = parseDate(b.End, true); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.end: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest window ends before it starts")
	}
	return start, end, nil
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Sweep is the threshold grid and its fan-out.
type Sweep struct {
	Workers int       `yaml:"workers" validate:"gte=0"`
	Entries []float64 `yaml:"entries"`
	Exits   []float64 `yaml:"exits"`
	Stops   []float64 `yaml:"stops"`
	Goal    string    `yaml:"goal" validate:"omitempty,oneof=sharpe total_return win_rate"`
}

// Live configures the streaming trader for one pair.
type Live struct {
	Crypto1      string        `yaml:"crypto1"`
	Crypto2      string        `yaml:"crypto2"`
	Quote        string        `yaml:"quote"`
	Spread       spread.Params `yaml:"spread"`
	Notional     float64       `yaml:"notional" validate:"gte=0"`
	WarmupBars   int           `yaml:"warmup_bars" validate:"gte=0"`
	BarBuffer    int           `yaml:"bar_buffer" validate:"gte=0"`
	IntentBuffer int           `yaml:"intent_buffer" validate:"gte=0"`
	DedupeWindow int           `yaml:"dedupe_window" validate:"gte=0"`
}

// Exchange describes the centralized exchange connectivity parameters the bot expects.
type Exchange struct {
	Name    string `yaml:"name"`
	RestURL string `yaml:"rest_url"`
	WSURL   string `yaml:"ws_url"`
	Testnet bool   `yaml:"testnet"`
}

// Execution tunes order dispatch retries.
type Execution struct {
	MaxRetries    int `yaml:"max_retries" validate:"gte=0,lte=10"`
	BaseBackoffMs int `yaml:"base_backoff_ms" validate:"gte=0"`
	MaxBackoffMs  int `yaml:"max_backoff_ms" validate:"gte=0"`
	RecvWindowMs  int `yaml:"recv_window_ms" validate:"gte=0"`
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade" validate:"gte=0"`
}

// Paper captures paper-trading account settings.
type Paper struct {
	StartingCash float64 `yaml:"starting_cash" validate:"gte=0"`
	SlippageBps  float64 `yaml:"slippage_bps" validate:"gte=0"`
	FillsPath    string  `yaml:"fills_path"`
}

// Store points at the SQLite results database.
type Store struct {
	Path string `yaml:"path"`
}

// Bus configures the NATS event publisher; an empty URL disables it.
type Bus struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Codec   string `yaml:"codec" validate:"omitempty,oneof=json proto"`
}

// Notify configures operator alerts; an empty webhook logs only.
type Notify struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
	Channel    string `yaml:"channel"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Data      Data      `yaml:"data"`
	Strategy  Strategy  `yaml:"strategy"`
	Backtest  Backtest  `yaml:"backtest"`
	Sweep     Sweep     `yaml:"sweep"`
	Live      Live      `yaml:"live"`
	Exchange  Exchange  `yaml:"exchange"`
	Execution Execution `yaml:"execution"`
	Risk      Risk      `yaml:"risk"`
	Paper     Paper     `yaml:"paper"`
	Store     Store     `yaml:"store"`
	Bus       Bus       `yaml:"bus"`
	Notify    Notify    `yaml:"notify"`
}

// Load reads a YAML file from disk, hydrates a Config struct and validates it.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Strategy.Mode == "" {
		c.Strategy.Mode = "static"
	}
	if c.Live.Quote == "" {
		c.Live.Quote = "USDT"
	}
	if c.Execution.MaxRetries == 0 {
		c.Execution.MaxRetries = 3
	}
	if c.Execution.BaseBackoffMs == 0 {
		c.Execution.BaseBackoffMs = 500
	}
	if c.Execution.MaxBackoffMs == 0 {
		c.Execution.MaxBackoffMs = 8000
	}
	if c.Bus.Subject == "" {
		c.Bus.Subject = "pairsbot.events"
	}
}

var validate = validator.New()

// Validate checks struct tags, including the ordering exit < entry < stop.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (%d problems)", f.Namespace(), f.Tag(), len(verrs))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Data.BarInterval(); err != nil {
		return fmt.Errorf("invalid config: data.interval: %w", err)
	}
	if _, _, err := c.Backtest.Window(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Credentials are the exchange API keys, never stored in YAML.
type Credentials struct {
	APIKey    string
	APISecret string
}

// ErrMissingCredentials is returned when either key is absent from the environment.
var ErrMissingCredentials = errors.New("BINANCE_API_KEY and BINANCE_API_SECRET must be set")

// LoadCredentials reads keys from the environment after a best-effort load of the given .env files.
func LoadCredentials(envFiles ...string) (Credentials, error) {
	_ = godotenv.Load(envFiles...) // best-effort
	c := Credentials{
		APIKey:    strings.TrimSpace(os.Getenv("BINANCE_API_KEY")),
		APISecret: strings.TrimSpace(os.Getenv("BINANCE_API_SECRET")),
	}
	if c.APIKey == "" || c.APISecret == "" {
		return c, ErrMissingCredentials
	}
	return c, nil
}
