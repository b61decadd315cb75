package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/revbot/internal/blob/s3"
	"github.com/alanyoungcy/revbot/internal/cache/redis"
	"github.com/alanyoungcy/revbot/internal/config"
	"github.com/alanyoungcy/revbot/internal/domain"
	"github.com/alanyoungcy/revbot/internal/marketdata"
	"github.com/alanyoungcy/revbot/internal/notify"
	"github.com/alanyoungcy/revbot/internal/platform/alpaca"
	"github.com/alanyoungcy/revbot/internal/store/bolt"
	"github.com/alanyoungcy/revbot/internal/store/file"
	"github.com/alanyoungcy/revbot/internal/store/postgres"
)

// Dependencies bundles the concrete collaborators the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Broker *alpaca.Client
	Market domain.MarketData
	Store  domain.StateStore

	// Optional; nil when Redis is disabled.
	Lock   domain.LockManager
	Events *redis.EventBus

	Archivers []domain.SnapshotArchiver
	Notifier  *notify.Notifier
}

// Wire constructs every dependency from cfg and returns them together with a
// cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Broker and market data ---
	deps.Broker = alpaca.NewClient(alpaca.Config{
		APIKey:     cfg.Broker.APIKey,
		SecretKey:  cfg.Broker.SecretKey,
		TradingURL: cfg.Broker.TradingURL(),
		DataURL:    cfg.Broker.DataURL,
		Feed:       cfg.Broker.Feed,
		Timeout:    cfg.Broker.Timeout.Duration,
		MaxRetries: cfg.Broker.MaxRetries,
	})
	deps.Market = deps.Broker

	// --- State store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "file":
		fs, err := file.New(cfg.Store.Dir)
		if err != nil {
			return fail(fmt.Errorf("wire: file store: %w", err))
		}
		deps.Store = fs
		deps.Archivers = append(deps.Archivers, fs)
	case "bolt":
		bs, err := bolt.Open(cfg.Store.BoltPath)
		if err != nil {
			return fail(fmt.Errorf("wire: bolt store: %w", err))
		}
		deps.Store = bs
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				pgClient.Close()
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewStateStore(pgClient)
	default:
		return fail(fmt.Errorf("wire: unknown store backend %q", cfg.Store.Backend))
	}
	store := deps.Store
	closers = append(closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn("wire: close store", slog.String("error", err.Error()))
		}
	})

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		maxAge := cfg.Redis.PriceMaxAge.Duration
		deps.Lock = redis.NewLockManager(redisClient)
		deps.Events = redis.NewEventBus(redisClient)
		deps.Market = marketdata.NewCached(deps.Broker, redis.NewPriceCache(redisClient, 2*maxAge), maxAge, logger)
	}

	// --- S3 snapshots (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			// Archiving is best effort, so an unreachable bucket only warns.
			logger.WarnContext(ctx, "wire: s3 bucket not reachable",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Archivers = append(deps.Archivers,
			s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Store, cfg.S3.Prefix))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
