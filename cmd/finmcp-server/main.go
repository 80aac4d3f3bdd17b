package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/finmcp/pkg/api"
	"github.com/platinummonkey/finmcp/pkg/auth"
	"github.com/platinummonkey/finmcp/pkg/config"
	"github.com/platinummonkey/finmcp/pkg/middleware"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/orchestrator"
	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/storage"
	"github.com/platinummonkey/finmcp/pkg/storage/postgres"
	"github.com/platinummonkey/finmcp/pkg/tools"
)

const statsInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default $"+config.ConfigFileEnv+")")
	migrate := flag.Bool("migrate", true, "Apply pending schema migrations on startup")
	flag.Parse()

	if err := run(*configPath, *migrate); err != nil {
		fmt.Fprintf(os.Stderr, "finmcp-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, migrate bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	if cfg.UsesDefaultSecret() {
		logger.Warn("using the default JWT secret; set FINMCP_JWT_SECRET before exposing this server")
	}

	ctx := context.Background()
	sm := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("init OpenTelemetry: %w", err)
	}
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	var (
		metrics  *observability.Metrics
		otelMets *observability.OTelMetrics
	)
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if providers != nil {
		if otelMets, err = observability.NewOTelMetrics(); err != nil {
			return fmt.Errorf("init OTel instruments: %w", err)
		}
	}
	recorder := observability.NewRecorder(metrics, otelMets)

	conn, err := postgres.NewConnectionManager(postgres.ConnectionConfigFromStorage(cfg.Storage), logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	sm.RegisterShutdownFunc(func(context.Context) error { return conn.Close() })

	if migrate {
		applied, err := postgres.RunMigrations(ctx, conn.Primary())
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.WithField("versions", applied).Info("applied schema migrations")
		}
	}

	storeOpts := []postgres.StoreOption{postgres.WithQueryObserver(recorder.Query)}
	if cfg.Storage.PostgresEcho {
		storeOpts = append(storeOpts, postgres.WithEcho(logger))
	}
	var store storage.Store = postgres.NewStore(conn, storeOpts...)

	health := observability.NewHealthChecker(cfg.Server.Version)
	health.Register("database", conn.HealthCheck)

	var (
		redisClient *postgres.RedisClient
		cached      *postgres.CachedStore
	)
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			// Redis is optional; the server runs uncached with in-memory limits
			logger.WithError(err).Warn("redis unavailable, continuing without it")
		} else {
			sm.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
			health.RegisterOptional("redis", redisClient.Ping)
		}
	}
	if cfg.Storage.CacheEnabled {
		cached = postgres.NewCachedStore(store, redisClient, cfg.Storage.L1CacheSize, logger)
		store = cached
	}

	tm, err := auth.NewTokenManager(cfg.Auth.JWTSecret, auth.WithTTL(cfg.Auth.TokenExpiry), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return fmt.Errorf("create token manager: %w", err)
	}
	resolver := rbac.NewResolver(tm, cfg.Policy())
	auditLogger := auth.NewAuditLogger(logger)

	registry, err := tools.NewFinancialRegistry(resolver, store,
		tools.WithLogger(logger),
		tools.WithRecorder(recorder),
		tools.WithAuditLogger(auditLogger))
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	logger.Debugf("registered %d tools", len(registry.Definitions()))

	engine := orchestrator.NewEngine(registry, orchestrator.StoreHoldings{Store: store},
		orchestrator.WithPacing(cfg.Pacing()),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(recorder))

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		rlCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.Burst,
		}
		if redisClient != nil {
			limiter = middleware.NewDistributedRateLimiter(redisClient.GetClient(), rlCfg, "finmcp:ratelimit")
			logger.Info("using redis rate limiter")
		} else {
			mem := middleware.NewRateLimiter(rlCfg)
			sm.Go("ratelimit-cleanup", mem.RunCleanup)
			limiter = mem
		}
	}

	srv, err := api.NewServer(api.Options{
		Name:        cfg.Server.Name,
		Version:     cfg.Server.Version,
		CORSOrigins: cfg.Server.CORSOrigins,

		RateLimitFailClosed: cfg.RateLimit.FailClosed,
	}, api.Dependencies{
		Registry: registry,
		Engine:   engine,
		Resolver: resolver,
		Limiter:  limiter,
		Metrics:  metrics,
		Recorder: recorder,
		Health:   health,
		Logger:   logger,
		Audit:    auditLogger,
	})
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sm.Go("http", observability.HTTPServerRunner(httpServer, nil, cfg.Server.ShutdownTimeout))
	sm.Go("replica-health", func(ctx context.Context) error {
		conn.StartHealthCheckRoutine(ctx, 30*time.Second)
		<-ctx.Done()
		return nil
	})
	if metrics != nil {
		sm.Go("pool-stats", statsCollector(metrics, conn, redisClient, cached, logger))
	}

	logger.WithFields(map[string]interface{}{
		"addr":          cfg.Addr(),
		"version":       cfg.Server.Version,
		"cache":         cached != nil,
		"redis":         redisClient != nil,
		"rate_limiting": limiter != nil,
		"anonymous":     cfg.Auth.AllowUnauthenticated,
	}).Info("financial MCP server starting")

	return sm.Run(ctx)
}

func newLogger(cfg *config.Config) (*observability.Logger, io.Closer, error) {
	if path := cfg.Observability.LogFile; path != "" {
		logger, closer, err := observability.NewFileLogger(cfg.LogLevel(), path)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return logger, closer, nil
	}
	return observability.NewLogger(cfg.LogLevel(), os.Stdout), nil, nil
}

// loadConfig reads path, or the file named by the environment when path
// is empty
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadConfig()
	}
	return config.Load(path)
}

// statsCollector publishes pool and cache statistics until ctx is done
func statsCollector(metrics *observability.Metrics, conn *postgres.ConnectionManager, redisClient *postgres.RedisClient, cached *postgres.CachedStore, logger *observability.Logger) observability.Runner {
	return func(ctx context.Context) error {
		defer observability.RecoverPanic(logger, "pool stats")
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				collectStats(ctx, metrics, conn, redisClient, cached)
			}
		}
	}
}

func collectStats(ctx context.Context, metrics *observability.Metrics, conn *postgres.ConnectionManager, redisClient *postgres.RedisClient, cached *postgres.CachedStore) {
	metrics.ObserveDBStats(conn.Stats().Primary)
	if redisClient != nil {
		pool := redisClient.GetPoolStats()
		metrics.ObserveRedisPool(pool.TotalConns, pool.IdleConns, pool.Timeouts)
	}
	if cached != nil {
		stats := cached.Stats(ctx)
		metrics.ObserveCache(stats.Hits, stats.Misses)
	}
}
