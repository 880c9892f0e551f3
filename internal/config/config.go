// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Engine   EngineConfig           `toml:"engine"`
	Venues   map[string]VenueConfig `toml:"venues"`
	Journal  JournalConfig          `toml:"journal"`
	Postgres PostgresConfig         `toml:"postgres"`
	Redis    RedisConfig            `toml:"redis"`
	S3       S3Config               `toml:"s3"`
	Server   ServerConfig           `toml:"server"`
	Notify   NotifyConfig           `toml:"notify"`
	Mode     string                 `toml:"mode"`
	LogLevel string                 `toml:"log_level"`
}

// EngineConfig holds the decision-loop and position-sizing parameters.
type EngineConfig struct {
	Symbols      []string `toml:"symbols"`
	TickInterval Duration `toml:"tick_interval"`

	// OpenThresholdPercent is the minimum diff percent that triggers an
	// open; CloseThresholdPercent is the residual diff percent at or below
	// which an open position becomes eligible to close.
	OpenThresholdPercent  float64 `toml:"open_threshold_percent"`
	CloseThresholdPercent float64 `toml:"close_threshold_percent"`

	// EpsilonPercent suppresses repeated near-identical opportunity output.
	EpsilonPercent float64 `toml:"epsilon_percent"`

	// SizingMode is "fixed_notional" or "fixed_quantity".
	SizingMode           string  `toml:"sizing_mode"`
	PerSideInvestmentUSD float64 `toml:"per_side_investment_usd"`
	TargetQuantity       float64 `toml:"target_quantity"`

	// MaxInventory caps aggregate open volume per symbol across all open
	// positions. MaxTradeVolume caps a single open.
	MaxInventory   float64 `toml:"max_inventory"`
	MaxTradeVolume float64 `toml:"max_trade_volume"`

	// LiquidityAware additionally caps volume by a fraction of the visible
	// depth on the thinner side of the book.
	LiquidityAware    bool    `toml:"liquidity_aware"`
	LiquidityFraction float64 `toml:"liquidity_fraction"`
}

// VenueConfig holds per-venue adapter parameters and budgets.
type VenueConfig struct {
	Enabled bool `toml:"enabled"`

	// Adapter selects the implementation: "mexc", "lbank", "binance",
	// "browser".
	Adapter string `toml:"adapter"`

	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
	PageURL string `toml:"page_url"` // browser adapter orderbook page

	// BidSelector and AskSelector locate the top-of-book nodes on PageURL
	// for the browser adapter.
	BidSelector string `toml:"bid_selector"`
	AskSelector string `toml:"ask_selector"`

	FeePercent float64 `toml:"fee_percent"`

	// Concurrency bounds simultaneous in-flight fetches; RateLimit is the
	// quota per RateWindow. Exceeding either makes a refresh a no-op.
	Concurrency int      `toml:"concurrency"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  Duration `toml:"rate_window"`

	// MaxAge is how long a cached quote is considered fresh. Heavier-cost
	// venues get longer max-age and smaller concurrency budgets.
	MaxAge       Duration `toml:"max_age"`
	FetchTimeout Duration `toml:"fetch_timeout"`

	// Symbols maps engine symbols to venue-native symbols, e.g.
	// "DEBT_USDT" -> "debtusdt".
	Symbols map[string]string `toml:"symbols"`
}

// JournalConfig holds the durable event log parameters.
type JournalConfig struct {
	Path          string `toml:"path"`
	RotateBytes   int64  `toml:"rotate_bytes"` // 0 disables rotation
	Archive       bool   `toml:"archive"`      // upload rotated segments to S3
	ArchivePrefix string `toml:"archive_prefix"`
}

// PostgresConfig holds the optional trade-history mirror parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"pool_max_conns"`
	MinConns      int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the optional signal-bus connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for journal
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the status HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"` // empty disables authentication
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "200ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the engine was tuned
// with: MEXC vs LBank futures on DEBT_USDT, 1.5% open threshold.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbols:               []string{"DEBT_USDT"},
			TickInterval:          Duration{50 * time.Millisecond},
			OpenThresholdPercent:  1.5,
			CloseThresholdPercent: 0.3,
			EpsilonPercent:        0.01,
			SizingMode:            SizingFixedNotional,
			PerSideInvestmentUSD:  100.0,
			TargetQuantity:        0,
			MaxInventory:          10_000,
			MaxTradeVolume:        5_000,
			LiquidityAware:        false,
			LiquidityFraction:     0.25,
		},
		Venues: map[string]VenueConfig{
			"mexc": {
				Enabled:      true,
				Adapter:      "mexc",
				BaseURL:      "https://contract.mexc.com",
				WsURL:        "wss://contract.mexc.com/edge",
				FeePercent:   0.02,
				Concurrency:  2,
				RateLimit:    20,
				RateWindow:   Duration{10 * time.Second},
				MaxAge:       Duration{2 * time.Second},
				FetchTimeout: Duration{5 * time.Second},
				Symbols:      map[string]string{"DEBT_USDT": "DEBT_USDT"},
			},
			"lbank": {
				Enabled:      true,
				Adapter:      "lbank",
				BaseURL:      "https://api.lbkex.com",
				FeePercent:   0.06,
				Concurrency:  2,
				RateLimit:    20,
				RateWindow:   Duration{10 * time.Second},
				MaxAge:       Duration{2 * time.Second},
				FetchTimeout: Duration{5 * time.Second},
				Symbols:      map[string]string{"DEBT_USDT": "debt_usdt"},
			},
		},
		Journal: JournalConfig{
			Path:          "data/trades.log",
			RotateBytes:   0,
			Archive:       false,
			ArchivePrefix: "journal",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "arbot",
			SSLMode:       "disable",
			MaxConns:      10,
			MinConns:      2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "arbot-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"open", "close"},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// Operating modes accepted for Config.Mode.
const (
	ModeLive    = "live"
	ModeMonitor = "monitor"
	ModeReplay  = "replay"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeLive:    true,
	ModeMonitor: true,
	ModeReplay:  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Sizing modes accepted for Engine.SizingMode.
const (
	SizingFixedNotional = "fixed_notional"
	SizingFixedQuantity = "fixed_quantity"
)

// validSizingModes enumerates the accepted values for Engine.SizingMode.
var validSizingModes = map[string]bool{
	SizingFixedNotional: true,
	SizingFixedQuantity: true,
}

// validAdapters enumerates the accepted venue adapter kinds.
var validAdapters = map[string]bool{
	"mexc":    true,
	"lbank":   true,
	"binance": true,
	"browser": true,
}

// Validate checks the engine section on its own. Runtime config updates
// go through this before being applied.
func (e *EngineConfig) Validate() error {
	if errs := e.problems(); len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (e *EngineConfig) problems() []string {
	var errs []string
	if len(e.Symbols) == 0 {
		errs = append(errs, "engine: at least one symbol is required")
	}
	if e.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if e.OpenThresholdPercent <= 0 {
		errs = append(errs, "engine: open_threshold_percent must be > 0")
	}
	if e.CloseThresholdPercent < 0 {
		errs = append(errs, "engine: close_threshold_percent must be >= 0")
	}
	if e.CloseThresholdPercent >= e.OpenThresholdPercent {
		errs = append(errs, "engine: close_threshold_percent must be below open_threshold_percent")
	}
	if e.EpsilonPercent < 0 {
		errs = append(errs, "engine: epsilon_percent must be >= 0")
	}
	if !validSizingModes[e.SizingMode] {
		errs = append(errs, fmt.Sprintf("engine: unknown sizing_mode %q (valid: fixed_notional, fixed_quantity)", e.SizingMode))
	}
	if e.SizingMode == SizingFixedNotional && e.PerSideInvestmentUSD <= 0 {
		errs = append(errs, "engine: per_side_investment_usd must be > 0 for fixed_notional sizing")
	}
	if e.SizingMode == SizingFixedQuantity && e.TargetQuantity <= 0 {
		errs = append(errs, "engine: target_quantity must be > 0 for fixed_quantity sizing")
	}
	if e.MaxInventory <= 0 {
		errs = append(errs, "engine: max_inventory must be > 0")
	}
	if e.MaxTradeVolume <= 0 {
		errs = append(errs, "engine: max_trade_volume must be > 0")
	}
	if e.LiquidityAware && (e.LiquidityFraction <= 0 || e.LiquidityFraction > 1) {
		errs = append(errs, "engine: liquidity_fraction must be in (0, 1] when liquidity_aware is set")
	}
	return errs
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, monitor, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	errs = append(errs, c.Engine.problems()...)

	// Venues
	enabled := 0
	for name, v := range c.Venues {
		if !v.Enabled {
			continue
		}
		enabled++
		if !validAdapters[v.Adapter] {
			errs = append(errs, fmt.Sprintf("venues.%s: unknown adapter %q", name, v.Adapter))
		}
		if v.Adapter == "browser" {
			if v.PageURL == "" {
				errs = append(errs, fmt.Sprintf("venues.%s: page_url is required for the browser adapter", name))
			}
			if v.BidSelector == "" || v.AskSelector == "" {
				errs = append(errs, fmt.Sprintf("venues.%s: bid_selector and ask_selector are required for the browser adapter", name))
			}
		} else if v.Adapter != "binance" && v.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: base_url must not be empty", name))
		}
		if v.FeePercent < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: fee_percent must be >= 0", name))
		}
		if v.Concurrency < 1 {
			errs = append(errs, fmt.Sprintf("venues.%s: concurrency must be >= 1", name))
		}
		if v.RateLimit < 1 {
			errs = append(errs, fmt.Sprintf("venues.%s: rate_limit must be >= 1", name))
		}
		if v.RateWindow.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: rate_window must be > 0", name))
		}
		if v.MaxAge.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: max_age must be > 0", name))
		}
		if v.FetchTimeout.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: fetch_timeout must be > 0", name))
		}
		for _, sym := range c.Engine.Symbols {
			if _, ok := v.Symbols[sym]; !ok {
				errs = append(errs, fmt.Sprintf("venues.%s: no symbol mapping for %q", name, sym))
			}
		}
	}
	if enabled < 2 && strings.ToLower(c.Mode) != ModeReplay {
		errs = append(errs, "venues: at least two enabled venues are required")
	}

	// Journal
	if c.Journal.Path == "" {
		errs = append(errs, "journal: path must not be empty")
	}
	if c.Journal.Archive {
		if c.Journal.RotateBytes <= 0 {
			errs = append(errs, "journal: rotate_bytes must be > 0 when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when journal archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when journal archive is enabled")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.MaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
