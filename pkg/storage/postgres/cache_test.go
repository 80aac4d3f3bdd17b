package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/finmcp/pkg/storage"
	"github.com/platinummonkey/finmcp/pkg/storage/storagetest"
)

func seededFake() *storagetest.Store {
	fake := storagetest.NewStore()
	fake.AddPortfolio(storage.Portfolio{
		ID: 1, UserID: 2, TotalValue: 1500,
		Assets: map[string]storage.Holding{"AAPL": {Shares: 10, Price: 150, Value: 1500}},
	})
	now := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	fake.AddTicks(
		storage.MarketTick{Symbol: "AAPL", Price: 150, Timestamp: now.Add(-24 * time.Hour)},
		storage.MarketTick{Symbol: "AAPL", Price: 155, Timestamp: now},
		storage.MarketTick{Symbol: "MSFT", Price: 400, Timestamp: now},
	)
	return fake
}

func TestCachedStore_L1Only(t *testing.T) {
	fake := seededFake()
	cs := NewCachedStore(fake, nil, 16, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := cs.GetPortfolio(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), p.UserID)
	}
	assert.Equal(t, 1, fake.Calls("get_portfolio"))

	stats := cs.Stats(ctx)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.False(t, stats.RedisUp)
}

func TestCachedStore_SymbolOrderSharesKey(t *testing.T) {
	fake := seededFake()
	cs := NewCachedStore(fake, nil, 16, nil)
	ctx := context.Background()

	a, err := cs.LatestPrices(ctx, []string{"MSFT", "AAPL"})
	require.NoError(t, err)
	b, err := cs.LatestPrices(ctx, []string{"AAPL", "MSFT"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 155.0, a["AAPL"])
	assert.Equal(t, 1, fake.Calls("latest_prices"))
}

func TestCachedStore_ErrorsAreNotCached(t *testing.T) {
	fake := seededFake()
	cs := NewCachedStore(fake, nil, 16, nil)
	ctx := context.Background()

	_, err := cs.GetPortfolio(ctx, 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = cs.GetPortfolio(ctx, 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 2, fake.Calls("get_portfolio"))
}

func TestCachedStore_TransactionsPassThrough(t *testing.T) {
	fake := seededFake()
	cs := NewCachedStore(fake, nil, 16, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cs.QueryTransactions(ctx, storage.TransactionFilter{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, fake.Calls("query_transactions"))
}

func TestCachedStore_RedisTier(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	fake := seededFake()
	ctx := context.Background()

	first := NewCachedStore(fake, client, 16, nil)
	_, err := first.AggregateBySymbol(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("agg:symbol:AAPL"))

	// a fresh process shares Redis but not L1
	second := NewCachedStore(fake, client, 16, nil)
	aggs, err := second.AggregateBySymbol(ctx, []string{"AAPL"})
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, int64(2), aggs[0].Count)
	assert.Equal(t, 1, fake.Calls("aggregate_by_symbol"))
	assert.True(t, second.Stats(ctx).RedisUp)
}

func TestCachedStore_InvalidateMarketData(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	fake := seededFake()
	cs := NewCachedStore(fake, client, 16, nil)
	ctx := context.Background()

	_, err := cs.LatestPrices(ctx, []string{"AAPL"})
	require.NoError(t, err)
	_, err = cs.AggregateByPeriod(ctx, storage.PeriodDay, "")
	require.NoError(t, err)
	_, err = cs.GetPortfolio(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, cs.InvalidateMarketData(ctx))
	assert.False(t, mr.Exists("prices:AAPL"))
	assert.False(t, mr.Exists("agg:period:day:"))
	assert.True(t, mr.Exists("portfolio:1"))

	_, err = cs.LatestPrices(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("latest_prices"))
}

func TestCachedStore_RedisDownDegrades(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	fake := seededFake()
	cs := NewCachedStore(fake, client, 16, nil)
	mr.SetError("ERR server unavailable")

	p, err := cs.GetPortfolio(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Error(t, cs.HealthCheck(context.Background()))
}

func TestCachedStore_HealthCheckPropagatesStore(t *testing.T) {
	fake := seededFake()
	fake.Fail(errors.New("db down"))
	cs := NewCachedStore(fake, nil, 16, nil)
	assert.EqualError(t, cs.HealthCheck(context.Background()), "db down")
}
