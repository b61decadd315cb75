// Package config defines the top-level configuration for the mean-reversion
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by REVBOT_* environment variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Strategy StrategyConfig `toml:"strategy"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Schedule ScheduleConfig `toml:"schedule"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds Alpaca credentials and endpoints.
type BrokerConfig struct {
	APIKey     string   `toml:"api_key"`
	SecretKey  string   `toml:"secret_key"`
	Paper      bool     `toml:"paper"`
	PaperURL   string   `toml:"paper_url"`
	LiveURL    string   `toml:"live_url"`
	DataURL    string   `toml:"data_url"`
	Feed       string   `toml:"feed"`
	Timeout    duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
}

// TradingURL returns the trading endpoint selected by the paper flag.
func (b BrokerConfig) TradingURL() string {
	if b.Paper {
		return b.PaperURL
	}
	return b.LiveURL
}

// StrategyConfig holds the signal and sizing parameters.
type StrategyConfig struct {
	Universe        []string         `toml:"universe"`
	Window          int              `toml:"window"`
	HistoryBuffer   int              `toml:"history_buffer"`
	PositionSizeUSD float64          `toml:"position_size_usd"`
	MaxHoldingDays  int              `toml:"max_holding_days"`
	MaxDayTrades    int              `toml:"max_day_trades"`
	RecheckNewFills bool             `toml:"recheck_new_fills"`
	Thresholds      ThresholdsConfig `toml:"thresholds"`
}

// ThresholdsConfig holds the z-score decision boundaries.
type ThresholdsConfig struct {
	EntryLong     float64 `toml:"entry_long"`
	EntryShort    float64 `toml:"entry_short"`
	ExitLong      float64 `toml:"exit_long"`
	ExitShort     float64 `toml:"exit_short"`
	StopLossLong  float64 `toml:"stop_loss_long"`
	StopLossShort float64 `toml:"stop_loss_short"`
}

// StoreConfig selects the state backend. Backend is one of "file", "bolt" or
// "postgres".
type StoreConfig struct {
	Backend  string `toml:"backend"`
	Dir      string `toml:"dir"`
	BoltPath string `toml:"bolt_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// enabled it provides the cycle lock, the latest-price cache and the event bus.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	LockTTL     duration `toml:"lock_ttl"`
	PriceMaxAge duration `toml:"price_max_age"`
}

// S3Config holds S3-compatible object storage parameters for run snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScheduleConfig controls the built-in scheduler used by "schedule" mode.
type ScheduleConfig struct {
	Interval   duration `toml:"interval"`
	RunOnStart bool     `toml:"run_on_start"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds status HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig controls the rotating log file written next to stdout.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// DefaultUniverse is the shipped list of large-cap US equities.
var DefaultUniverse = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "BRK.B", "JPM", "JNJ",
	"V", "PG", "XOM", "UNH", "HD", "MA", "CVX", "MRK", "ABBV", "PEP",
	"KO", "AVGO", "COST", "LLY", "WMT", "MCD", "BAC", "CRM", "ACN", "TMO",
	"CSCO", "ABT", "ADBE", "DHR", "NKE", "LIN", "DIS", "TXN", "VZ", "NEE",
	"PM", "WFC", "CMCSA", "ORCL", "AMD", "INTC", "QCOM", "HON", "UPS", "IBM",
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	universe := make([]string, len(DefaultUniverse))
	copy(universe, DefaultUniverse)

	return Config{
		Broker: BrokerConfig{
			Paper:      true,
			PaperURL:   "https://paper-api.alpaca.markets",
			LiveURL:    "https://api.alpaca.markets",
			DataURL:    "https://data.alpaca.markets",
			Feed:       "iex",
			Timeout:    duration{15 * time.Second},
			MaxRetries: 3,
		},
		Strategy: StrategyConfig{
			Universe:        universe,
			Window:          30,
			HistoryBuffer:   20,
			PositionSizeUSD: 100,
			MaxHoldingDays:  5,
			MaxDayTrades:    3,
			RecheckNewFills: true,
			Thresholds: ThresholdsConfig{
				EntryLong:     -1.5,
				EntryShort:    1.5,
				ExitLong:      -0.1,
				ExitShort:     0.1,
				StopLossLong:  -3.0,
				StopLossShort: 3.0,
			},
		},
		Store: StoreConfig{
			Backend:  "file",
			Dir:      "state",
			BoltPath: "state/revbot.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "revbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PoolSize:    4,
			MaxRetries:  3,
			LockTTL:     duration{10 * time.Minute},
			PriceMaxAge: duration{15 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "revbot-data",
			Prefix:         "snapshots",
			ForcePathStyle: true,
		},
		Schedule: ScheduleConfig{
			Interval:   duration{24 * time.Hour},
			RunOnStart: true,
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"order_placed", "position_closed", "cycle_failed"},
		},
		Log: LogConfig{
			File:       "bot.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Mode:     "once",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"once":     true,
	"schedule": true,
	"server":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"file":     true,
	"bolt":     true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: once, schedule, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker
	if c.Broker.APIKey == "" || c.Broker.SecretKey == "" {
		errs = append(errs, "broker: api_key and secret_key must be set (or ALPACA_API_KEY / ALPACA_SECRET_KEY)")
	}
	if c.Broker.TradingURL() == "" {
		errs = append(errs, "broker: trading url must not be empty")
	}
	if c.Broker.DataURL == "" {
		errs = append(errs, "broker: data_url must not be empty")
	}
	if c.Broker.Timeout.Duration <= 0 {
		errs = append(errs, "broker: timeout must be > 0")
	}

	// Strategy
	s := c.Strategy
	if len(s.Universe) == 0 {
		errs = append(errs, "strategy: universe must not be empty")
	}
	if s.Window < 2 {
		errs = append(errs, fmt.Sprintf("strategy: window must be >= 2, got %d", s.Window))
	}
	if s.HistoryBuffer < 0 {
		errs = append(errs, "strategy: history_buffer must be >= 0")
	}
	if s.PositionSizeUSD <= 0 {
		errs = append(errs, "strategy: position_size_usd must be > 0")
	}
	if s.MaxHoldingDays < 1 {
		errs = append(errs, "strategy: max_holding_days must be >= 1")
	}
	if s.MaxDayTrades < 0 {
		errs = append(errs, "strategy: max_day_trades must be >= 0")
	}
	t := s.Thresholds
	if t.EntryLong >= t.ExitLong {
		errs = append(errs, "strategy.thresholds: entry_long must be below exit_long")
	}
	if t.EntryShort <= t.ExitShort {
		errs = append(errs, "strategy.thresholds: entry_short must be above exit_short")
	}

	// Store
	if !validBackends[strings.ToLower(c.Store.Backend)] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: file, bolt, postgres)", c.Store.Backend))
	}
	switch strings.ToLower(c.Store.Backend) {
	case "file":
		if c.Store.Dir == "" {
			errs = append(errs, "store: dir must not be empty for the file backend")
		}
	case "bolt":
		if c.Store.BoltPath == "" {
			errs = append(errs, "store: bolt_path must not be empty for the bolt backend")
		}
	case "postgres":
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
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
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
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Schedule
	if strings.ToLower(c.Mode) == "schedule" && c.Schedule.Interval.Duration < time.Minute {
		errs = append(errs, "schedule: interval must be >= 1m")
	}

	// Server
	if c.Server.Enabled || strings.ToLower(c.Mode) == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
