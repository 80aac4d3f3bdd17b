package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/finmcp/pkg/config"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/storage"
	"github.com/platinummonkey/finmcp/pkg/storage/postgres"
)

func TestCollectStats(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	conn := postgres.NewConnectionManagerFromDB(db)
	t.Cleanup(func() { conn.Close() })

	mr := miniredis.RunT(t)
	cfg := storage.DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	redisClient, err := postgres.NewRedisClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })
	require.NoError(t, redisClient.Ping(context.Background()))

	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	cached := postgres.NewCachedStore(postgres.NewStore(conn), redisClient, 8, logger)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	collectStats(context.Background(), metrics, conn, redisClient, cached)

	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.RedisConnectionsTotal), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.RedisConnectionsIdle), 1.0)
	assert.Zero(t, testutil.ToFloat64(metrics.CacheHitsTotal))
}

func TestCollectStats_NoRedis(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	conn := postgres.NewConnectionManagerFromDB(db)
	t.Cleanup(func() { conn.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	collectStats(context.Background(), metrics, conn, nil, nil)

	assert.Zero(t, testutil.ToFloat64(metrics.RedisConnectionsTotal))
}

func TestLoadConfig(t *testing.T) {
	for _, name := range []string{"PORT", "FINMCP_PORT"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	fromEnv := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(fromEnv, []byte("server:\n  port: \"9200\"\n"), 0o600))
	explicit := filepath.Join(dir, "flag.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("server:\n  port: \"9300\"\n"), 0o600))
	t.Setenv(config.ConfigFileEnv, fromEnv)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "9200", cfg.Server.Port)

	cfg, err = loadConfig(explicit)
	require.NoError(t, err)
	assert.Equal(t, "9300", cfg.Server.Port)
}
