package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies REVBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the bot can run
// purely from defaults and the environment. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known REVBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.APIKey, "ALPACA_API_KEY")
	setStr(&cfg.Broker.SecretKey, "ALPACA_SECRET_KEY")
	setStr(&cfg.Broker.APIKey, "REVBOT_BROKER_API_KEY")
	setStr(&cfg.Broker.SecretKey, "REVBOT_BROKER_SECRET_KEY")
	setBool(&cfg.Broker.Paper, "REVBOT_BROKER_PAPER")
	setStr(&cfg.Broker.PaperURL, "REVBOT_BROKER_PAPER_URL")
	setStr(&cfg.Broker.LiveURL, "REVBOT_BROKER_LIVE_URL")
	setStr(&cfg.Broker.DataURL, "REVBOT_BROKER_DATA_URL")
	setStr(&cfg.Broker.Feed, "REVBOT_BROKER_FEED")
	setDuration(&cfg.Broker.Timeout, "REVBOT_BROKER_TIMEOUT")
	setInt(&cfg.Broker.MaxRetries, "REVBOT_BROKER_MAX_RETRIES")

	// ── Strategy ──
	setSymbols(&cfg.Strategy.Universe, "REVBOT_STRATEGY_UNIVERSE")
	setInt(&cfg.Strategy.Window, "REVBOT_STRATEGY_WINDOW")
	setInt(&cfg.Strategy.HistoryBuffer, "REVBOT_STRATEGY_HISTORY_BUFFER")
	setFloat64(&cfg.Strategy.PositionSizeUSD, "REVBOT_STRATEGY_POSITION_SIZE_USD")
	setInt(&cfg.Strategy.MaxHoldingDays, "REVBOT_STRATEGY_MAX_HOLDING_DAYS")
	setInt(&cfg.Strategy.MaxDayTrades, "REVBOT_STRATEGY_MAX_DAY_TRADES")
	setBool(&cfg.Strategy.RecheckNewFills, "REVBOT_STRATEGY_RECHECK_NEW_FILLS")
	setFloat64(&cfg.Strategy.Thresholds.EntryLong, "REVBOT_STRATEGY_ENTRY_LONG")
	setFloat64(&cfg.Strategy.Thresholds.EntryShort, "REVBOT_STRATEGY_ENTRY_SHORT")
	setFloat64(&cfg.Strategy.Thresholds.ExitLong, "REVBOT_STRATEGY_EXIT_LONG")
	setFloat64(&cfg.Strategy.Thresholds.ExitShort, "REVBOT_STRATEGY_EXIT_SHORT")
	setFloat64(&cfg.Strategy.Thresholds.StopLossLong, "REVBOT_STRATEGY_STOP_LOSS_LONG")
	setFloat64(&cfg.Strategy.Thresholds.StopLossShort, "REVBOT_STRATEGY_STOP_LOSS_SHORT")

	// ── Store ──
	setStr(&cfg.Store.Backend, "REVBOT_STORE_BACKEND")
	setStr(&cfg.Store.Dir, "REVBOT_STORE_DIR")
	setStr(&cfg.Store.BoltPath, "REVBOT_STORE_BOLT_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "REVBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "REVBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "REVBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "REVBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "REVBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "REVBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "REVBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "REVBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "REVBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "REVBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REVBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REVBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REVBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REVBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REVBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REVBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REVBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "REVBOT_REDIS_LOCK_TTL")
	setDuration(&cfg.Redis.PriceMaxAge, "REVBOT_REDIS_PRICE_MAX_AGE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "REVBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "REVBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "REVBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "REVBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "REVBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "REVBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "REVBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "REVBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "REVBOT_S3_FORCE_PATH_STYLE")

	// ── Schedule ──
	setDuration(&cfg.Schedule.Interval, "REVBOT_SCHEDULE_INTERVAL")
	setBool(&cfg.Schedule.RunOnStart, "REVBOT_SCHEDULE_RUN_ON_START")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "REVBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "REVBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "REVBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "REVBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "REVBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "REVBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "REVBOT_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.File, "REVBOT_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "REVBOT_LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "REVBOT_LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "REVBOT_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "REVBOT_LOG_COMPRESS")

	// ── Top-level ──
	setStr(&cfg.Mode, "REVBOT_MODE")
	setStr(&cfg.LogLevel, "REVBOT_LOG_LEVEL")
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

func setDuration(dst *duration, key string) {
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

// setSymbols is setStringSlice for ticker lists, which are upper-cased.
func setSymbols(dst *[]string, key string) {
	setStringSlice(dst, key)
	if os.Getenv(key) == "" {
		return
	}
	for i, s := range *dst {
		(*dst)[i] = strings.ToUpper(s)
	}
}
