package main

import (
	"context"
	"database/sql"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/finmcp/pkg/config"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/storage/postgres"
)

// Config holds the seeder configuration
type Config struct {
	ConfigFile  string
	DatabaseURL string
	Options     postgres.SeedOptions
	RandomSeed  int64
	Force       bool
	SkipMigrate bool
	Rollback    int
	LogLevel    string
}

// Seeds the database with demo transactions, portfolios and price history
func main() {
	cfg := parseFlags()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("Starting financial MCP seeder")

	appCfg, err := config.Load(cfg.ConfigFile)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.DatabaseURL != "" {
		appCfg.Storage.PostgresURL = cfg.DatabaseURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obsLogger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stderr)
	conn, err := postgres.NewConnectionManager(postgres.ConnectionConfigFromStorage(appCfg.Storage), obsLogger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if cfg.Rollback > 0 {
		if err := rollback(ctx, conn.Primary(), cfg.Rollback, logger); err != nil {
			logger.Fatalf("Failed to roll back migration %d: %v", cfg.Rollback, err)
		}
		return
	}

	if !cfg.SkipMigrate {
		applied, err := postgres.RunMigrations(ctx, conn.Primary())
		if err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		logger.WithField("versions", applied).Info("Schema is up to date")
	}

	r := rand.New(rand.NewSource(cfg.RandomSeed))
	ds := postgres.GenerateDataset(r, time.Now(), cfg.Options)

	seeder := postgres.NewSeeder(conn, obsLogger)
	loaded, err := seeder.Seed(ctx, ds, cfg.Force)
	if err != nil {
		logger.Fatalf("Failed to seed database: %v", err)
	}
	if !loaded {
		logger.Info("Database already seeded; pass -force to reload")
		return
	}

	counts, err := seeder.Counts(ctx)
	if err != nil {
		logger.Fatalf("Failed to count rows: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"transactions": counts.Transactions,
		"portfolios":   counts.Portfolios,
		"market_data":  counts.MarketData,
	}).Info("Database seeded")
}

func parseFlags() *Config {
	cfg := &Config{}
	defaults := postgres.DefaultSeedOptions()

	flag.StringVar(&cfg.ConfigFile, "config", os.Getenv(config.ConfigFileEnv), "Path to a YAML config file")
	flag.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL URL, overriding the configuration")
	flag.IntVar(&cfg.Options.Users, "users", defaults.Users, "Number of distinct transaction owners")
	flag.IntVar(&cfg.Options.Transactions, "transactions", defaults.Transactions, "Number of transactions to generate")
	flag.IntVar(&cfg.Options.Portfolios, "portfolios", defaults.Portfolios, "Number of portfolios to generate")
	flag.IntVar(&cfg.Options.HistoryDays, "days", defaults.HistoryDays, "Days of daily price history per symbol")
	flag.Int64Var(&cfg.RandomSeed, "seed", 42, "Random seed for reproducible data")
	flag.BoolVar(&cfg.Force, "force", false, "Seed even when the database already contains data")
	flag.BoolVar(&cfg.SkipMigrate, "skip-migrate", false, "Do not apply schema migrations first")
	flag.IntVar(&cfg.Rollback, "rollback", 0, "Revert the given migration version and exit without seeding")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flag.Parse()

	if cfg.Options.Users <= 0 || cfg.Options.Transactions < 0 || cfg.Options.Portfolios < 0 || cfg.Options.HistoryDays < 0 || cfg.Rollback < 0 {
		flag.Usage()
		os.Exit(2)
	}
	return cfg
}

// rollback reverts one schema migration
func rollback(ctx context.Context, db *sql.DB, version int, logger *logrus.Logger) error {
	if err := postgres.RollbackMigration(ctx, db, version); err != nil {
		return err
	}
	logger.WithField("version", version).Info("Migration rolled back")
	return nil
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
