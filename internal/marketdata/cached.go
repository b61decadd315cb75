// Package marketdata gathers the per-cycle market snapshot and optionally
// fronts the market data source with a latest-price cache.
package marketdata

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// Cached writes every fetched latest price through to a PriceCache and
// falls back to a cached price no older than maxAge when a fetch fails.
type Cached struct {
	inner  domain.MarketData
	cache  domain.PriceCache
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.MarketData = (*Cached)(nil)

// NewCached wraps inner with cache.
func NewCached(inner domain.MarketData, cache domain.PriceCache, maxAge time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		cache:  cache,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "price_cache")),
		now:    time.Now,
	}
}

// GetHistoricalBars is not cached.
func (c *Cached) GetHistoricalBars(ctx context.Context, instruments []string, limit int) (map[string]domain.PriceSeries, error) {
	return c.inner.GetHistoricalBars(ctx, instruments, limit)
}

// GetLatestPrice fetches from the source, caching on success.
func (c *Cached) GetLatestPrice(ctx context.Context, instrument string) (float64, error) {
	price, err := c.inner.GetLatestPrice(ctx, instrument)
	if err == nil {
		if cerr := c.cache.SetPrice(ctx, instrument, price, c.now()); cerr != nil {
			c.logger.Warn("price cache: write failed", slog.String("instrument", instrument), slog.String("error", cerr.Error()))
		}
		return price, nil
	}

	cached, ts, cerr := c.cache.GetPrice(ctx, instrument)
	if cerr != nil || cached <= 0 || c.now().Sub(ts) > c.maxAge {
		return 0, err
	}
	c.logger.Warn("price cache: serving cached price",
		slog.String("instrument", instrument),
		slog.Float64("price", cached),
		slog.Duration("age", c.now().Sub(ts)),
		slog.String("fetch_error", err.Error()),
	)
	return cached, nil
}
