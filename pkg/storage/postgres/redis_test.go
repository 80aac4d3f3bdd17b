package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/finmcp/pkg/storage"
)

func setupRedisClientTest(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	config := storage.DefaultConfig()
	config.RedisURL = "redis://" + mr.Addr()

	client, err := NewRedisClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewRedisClient(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client, _ := setupRedisClientTest(t)
		assert.NotNil(t, client.GetClient())
		assert.NoError(t, client.Ping(context.Background()))
		assert.NotNil(t, client.GetPoolStats())
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisClient(storage.Config{RedisURL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redis URL")
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := NewRedisClient(storage.Config{RedisURL: "redis://127.0.0.1:1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to redis")
	})
}

func TestRedisClient_JSONRoundTrip(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	ctx := context.Background()

	p := storage.Portfolio{ID: 1, UserID: 2, Assets: map[string]storage.Holding{"AAPL": {Shares: 1, Price: 2, Value: 2}}}
	require.NoError(t, client.SetJSON(ctx, "portfolio:1", p, time.Minute))

	var got storage.Portfolio
	found, err := client.GetJSON(ctx, "portfolio:1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, p.Assets, got.Assets)

	mr.FastForward(2 * time.Minute)
	found, err = client.GetJSON(ctx, "portfolio:1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisClient_GetJSONCorrupt(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	require.NoError(t, mr.Set("prices:AAPL", "{broken"))

	var out map[string]float64
	found, err := client.GetJSON(context.Background(), "prices:AAPL", &out)
	assert.Error(t, err)
	assert.False(t, found)
	assert.False(t, mr.Exists("prices:AAPL"))
}

func TestRedisClient_InvalidatePatterns(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	for _, k := range []string{"prices:AAPL", "agg:symbol:*", "portfolio:1"} {
		require.NoError(t, mr.Set(k, "1"))
	}

	require.NoError(t, client.InvalidatePatterns(context.Background(), "prices:*", "agg:*"))
	assert.False(t, mr.Exists("prices:AAPL"))
	assert.False(t, mr.Exists("agg:symbol:*"))
	assert.True(t, mr.Exists("portfolio:1"))
}

func TestRedisClient_TTL(t *testing.T) {
	client, _ := setupRedisClientTest(t)
	assert.Equal(t, 5*time.Minute, client.TTL("portfolio"))
	assert.Zero(t, client.TTL("unknown"))
}
