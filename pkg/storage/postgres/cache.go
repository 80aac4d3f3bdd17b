package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

// l1TTL bounds how stale the in-process tier may be regardless of the
// Redis TTL
const l1TTL = 10 * time.Second

// CachedStore decorates a storage.Store with an in-process LRU in front of
// Redis. Transaction queries are never cached. Cache failures degrade to
// the underlying store.
type CachedStore struct {
	storage.Store
	redis  *RedisClient
	l1     *lru.LRU[string, interface{}]
	logger *observability.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedStore wraps next. redis may be nil, in which case only the
// in-process tier is used.
func NewCachedStore(next storage.Store, redis *RedisClient, l1Size int, logger *observability.Logger) *CachedStore {
	if l1Size <= 0 {
		l1Size = 1024
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &CachedStore{
		Store:  next,
		redis:  redis,
		l1:     lru.NewLRU[string, interface{}](l1Size, nil, l1TTL),
		logger: logger.WithField("component", "cache"),
	}
}

// CacheStats summarizes hit rates
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	L1Items int     `json:"l1_items"`
	RedisUp bool    `json:"redis_up"`
}

// Stats returns cache statistics
func (c *CachedStore) Stats(ctx context.Context) CacheStats {
	stats := CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		L1Items: c.l1.Len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if c.redis != nil {
		stats.RedisUp = c.redis.Ping(ctx) == nil
	}
	return stats
}

func symbolKey(symbols []string) string {
	if len(symbols) == 0 {
		return "*"
	}
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// cached is the read-through path shared by every cached method. T must
// round-trip through JSON.
func cached[T any](ctx context.Context, c *CachedStore, cacheType, key string, load func() (T, error)) (T, error) {
	if v, ok := c.l1.Get(key); ok {
		if typed, ok := v.(T); ok {
			c.hits.Add(1)
			return typed, nil
		}
	}

	if c.redis != nil {
		var out T
		found, err := c.redis.GetJSON(ctx, key, &out)
		if err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("redis read failed")
		}
		if found {
			c.hits.Add(1)
			c.l1.Add(key, out)
			return out, nil
		}
	}

	c.misses.Add(1)
	out, err := load()
	if err != nil {
		return out, err
	}

	c.l1.Add(key, out)
	if c.redis != nil {
		if err := c.redis.SetJSON(ctx, key, out, c.redis.TTL(cacheType)); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("redis write failed")
		}
	}
	return out, nil
}

// GetPortfolio reads through the cache. Not-found results are not cached.
func (c *CachedStore) GetPortfolio(ctx context.Context, id int64) (*storage.Portfolio, error) {
	return cached(ctx, c, "portfolio", fmt.Sprintf("portfolio:%d", id), func() (*storage.Portfolio, error) {
		return c.Store.GetPortfolio(ctx, id)
	})
}

// LatestPrices reads through the cache keyed by the sorted symbol set
func (c *CachedStore) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	return cached(ctx, c, "latest_prices", "prices:"+symbolKey(symbols), func() (map[string]float64, error) {
		return c.Store.LatestPrices(ctx, symbols)
	})
}

// AggregateBySymbol reads through the cache keyed by the sorted symbol set
func (c *CachedStore) AggregateBySymbol(ctx context.Context, symbols []string) ([]storage.SymbolAggregate, error) {
	return cached(ctx, c, "symbol_agg", "agg:symbol:"+symbolKey(symbols), func() ([]storage.SymbolAggregate, error) {
		return c.Store.AggregateBySymbol(ctx, symbols)
	})
}

// AggregateByPeriod reads through the cache keyed by period and symbol
func (c *CachedStore) AggregateByPeriod(ctx context.Context, period storage.Period, symbol string) ([]storage.PeriodAggregate, error) {
	key := fmt.Sprintf("agg:period:%s:%s", period, symbol)
	return cached(ctx, c, "period_agg", key, func() ([]storage.PeriodAggregate, error) {
		return c.Store.AggregateByPeriod(ctx, period, symbol)
	})
}

// InvalidateMarketData drops every cached market entry. The ticker calls
// this after inserting new ticks.
func (c *CachedStore) InvalidateMarketData(ctx context.Context) error {
	for _, key := range c.l1.Keys() {
		if strings.HasPrefix(key, "prices:") || strings.HasPrefix(key, "agg:") {
			c.l1.Remove(key)
		}
	}
	if c.redis == nil {
		return nil
	}
	return c.redis.InvalidatePatterns(ctx, "prices:*", "agg:*")
}

// HealthCheck checks the underlying store and, when configured, Redis
func (c *CachedStore) HealthCheck(ctx context.Context) error {
	if err := c.Store.HealthCheck(ctx); err != nil {
		return err
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

var _ storage.Store = (*CachedStore)(nil)
