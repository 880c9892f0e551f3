package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Per-venue settings are keyed by upper-cased venue name, e.g.
// ARBOT_VENUE_MEXC_RATE_LIMIT.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.OpenThresholdPercent, "ARBOT_ENGINE_OPEN_THRESHOLD_PERCENT")
	setFloat64(&cfg.Engine.CloseThresholdPercent, "ARBOT_ENGINE_CLOSE_THRESHOLD_PERCENT")
	setFloat64(&cfg.Engine.EpsilonPercent, "ARBOT_ENGINE_EPSILON_PERCENT")
	setStr(&cfg.Engine.SizingMode, "ARBOT_ENGINE_SIZING_MODE")
	setFloat64(&cfg.Engine.PerSideInvestmentUSD, "ARBOT_ENGINE_PER_SIDE_INVESTMENT_USD")
	setFloat64(&cfg.Engine.TargetQuantity, "ARBOT_ENGINE_TARGET_QUANTITY")
	setFloat64(&cfg.Engine.MaxInventory, "ARBOT_ENGINE_MAX_INVENTORY")
	setFloat64(&cfg.Engine.MaxTradeVolume, "ARBOT_ENGINE_MAX_TRADE_VOLUME")
	setBool(&cfg.Engine.LiquidityAware, "ARBOT_ENGINE_LIQUIDITY_AWARE")
	setDuration(&cfg.Engine.TickInterval, "ARBOT_ENGINE_TICK_INTERVAL")
	setStringSlice(&cfg.Engine.Symbols, "ARBOT_ENGINE_SYMBOLS")

	// ── Venues ──
	for name, v := range cfg.Venues {
		prefix := "ARBOT_VENUE_" + strings.ToUpper(name) + "_"
		setBool(&v.Enabled, prefix+"ENABLED")
		setStr(&v.BaseURL, prefix+"BASE_URL")
		setStr(&v.WsURL, prefix+"WS_URL")
		setStr(&v.PageURL, prefix+"PAGE_URL")
		setFloat64(&v.FeePercent, prefix+"FEE_PERCENT")
		setInt(&v.Concurrency, prefix+"CONCURRENCY")
		setInt(&v.RateLimit, prefix+"RATE_LIMIT")
		setDuration(&v.RateWindow, prefix+"RATE_WINDOW")
		setDuration(&v.MaxAge, prefix+"MAX_AGE")
		setDuration(&v.FetchTimeout, prefix+"FETCH_TIMEOUT")
		cfg.Venues[name] = v
	}

	// ── Journal ──
	setStr(&cfg.Journal.Path, "ARBOT_JOURNAL_PATH")
	setInt64(&cfg.Journal.RotateBytes, "ARBOT_JOURNAL_ROTATE_BYTES")
	setBool(&cfg.Journal.Archive, "ARBOT_JOURNAL_ARCHIVE")
	setStr(&cfg.Journal.ArchivePrefix, "ARBOT_JOURNAL_ARCHIVE_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.MaxConns, "ARBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "ARBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
