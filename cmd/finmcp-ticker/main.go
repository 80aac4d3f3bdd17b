package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/finmcp/pkg/config"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/storage"
	"github.com/platinummonkey/finmcp/pkg/storage/postgres"
)

var (
	configFile = flag.String("config", os.Getenv(config.ConfigFileEnv), "Path to a YAML config file")
	schedule   = flag.String("schedule", getEnv("TICK_SCHEDULE", "@every 1m"), "Cron schedule for price ticks")
	runOnce    = flag.Bool("run-once", false, "Append one round of ticks and exit")
	logLevel   = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
)

// ticker appends one random-walk step per symbol and drops cached market
// data so readers see the new prices
type ticker struct {
	store  *postgres.Store
	cache  *postgres.CachedStore
	rand   *rand.Rand
	now    func() time.Time
	logger *logrus.Logger
}

// Appends simulated market ticks on a cron schedule
func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if err := run(logger); err != nil {
		logger.Errorf("Market ticker failed: %v", err)
		os.Exit(1)
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	obsLogger := observability.NewLogger(observability.ParseLogLevel(*logLevel), os.Stderr)
	conn, err := postgres.NewConnectionManager(postgres.ConnectionConfigFromStorage(cfg.Storage), obsLogger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close()

	t := &ticker{
		store:  postgres.NewStore(conn),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		logger: logger,
	}

	if cfg.Storage.RedisURL != "" {
		redisClient, err := postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			logger.Warnf("Redis unavailable, cached prices will expire on their own: %v", err)
		} else {
			defer redisClient.Close()
			t.cache = postgres.NewCachedStore(t.store, redisClient, 1, obsLogger)
		}
	}

	if *runOnce {
		if err := t.tick(context.Background()); err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		return nil
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.tick(ctx); err != nil {
			logger.Errorf("Tick failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", *schedule, err)
	}

	c.Start()
	logger.Infof("Market ticker started with schedule %q", *schedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down market ticker...")
	<-c.Stop().Done()
	logger.Info("Market ticker stopped")
	return nil
}

func (t *ticker) tick(ctx context.Context) error {
	latest, err := t.store.LatestTicks(ctx)
	if err != nil {
		return err
	}

	ticks := nextTicks(t.rand, latest, t.now().UTC())
	if len(ticks) == 0 {
		t.logger.Warn("No market data to extend; run finmcp-seed first")
		return nil
	}
	if err := t.store.InsertMarketTicks(ctx, ticks); err != nil {
		return err
	}

	if t.cache != nil {
		if err := t.cache.InvalidateMarketData(ctx); err != nil {
			t.logger.Warnf("Failed to invalidate cached market data: %v", err)
		}
	}
	t.logger.WithField("symbols", len(ticks)).Info("Appended market ticks")
	return nil
}

// nextTicks steps every symbol's latest price once. Symbols without a
// seeded base price walk around their current price.
func nextTicks(r *rand.Rand, latest []storage.MarketTick, now time.Time) []storage.MarketTick {
	out := make([]storage.MarketTick, 0, len(latest))
	for _, prev := range latest {
		base, ok := postgres.BasePrices[prev.Symbol]
		if !ok {
			base = prev.Price
		}
		volume := postgres.TickVolume(r, base)
		out = append(out, storage.MarketTick{
			Symbol:    prev.Symbol,
			Price:     math.Round(postgres.NextPrice(r, prev.Price, base)*100) / 100,
			Volume:    &volume,
			Timestamp: now,
		})
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
