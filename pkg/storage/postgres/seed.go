package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

// Seed data vocabularies
var (
	SeedCurrencies = []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD"}

	SeedCategories = []string{
		"Stock Purchase", "Stock Sale", "Dividend", "Interest", "Fee",
		"Transfer", "Withdrawal", "Deposit", "Options Trade", "Bond Purchase",
		"Mutual Fund", "ETF", "Crypto", "Forex", "Commodities",
	}

	// BasePrices anchors the random walk of every seeded symbol
	BasePrices = map[string]float64{
		"AAPL": 175, "GOOGL": 140, "MSFT": 380, "AMZN": 150,
		"TSLA": 250, "META": 320, "NVDA": 480, "JPM": 150,
		"V": 250, "JNJ": 160, "WMT": 160, "PG": 150,
		"MA": 400, "DIS": 90, "NFLX": 450, "AMD": 120,
		"INTC": 45, "CSCO": 55, "PEP": 170, "COST": 550,
		"AVGO": 900, "TXN": 160, "CMCSA": 45, "ADBE": 550,
		"NKE": 100, "QCOM": 120, "PYPL": 60, "INTU": 550,
		"AMGN": 250, "TMO": 550, "BKNG": 3500, "SBUX": 100,
		"GILD": 75, "ISRG": 350, "VRTX": 400, "ADI": 180,
		"REGN": 800, "CDNS": 250, "FISV": 120, "KLAC": 500,
		"SNPS": 500,
	}

	// SeedSymbols lists the seeded symbols in a stable order
	SeedSymbols = []string{
		"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA", "META", "NVDA", "JPM",
		"V", "JNJ", "WMT", "PG", "MA", "DIS", "NFLX", "AMD", "INTC",
		"CSCO", "PEP", "COST", "AVGO", "TXN", "CMCSA", "ADBE", "NKE",
		"QCOM", "PYPL", "INTU", "AMGN", "TMO", "BKNG", "SBUX", "GILD",
		"ISRG", "VRTX", "ADI", "REGN", "CDNS", "FISV", "KLAC", "SNPS",
	}

	highRiskCategories = map[string]bool{"Crypto": true, "Options Trade": true, "Forex": true}
)

// SeedOptions sizes the generated dataset
type SeedOptions struct {
	Users        int
	Transactions int
	Portfolios   int
	HistoryDays  int
}

// DefaultSeedOptions matches the demo dataset
func DefaultSeedOptions() SeedOptions {
	return SeedOptions{Users: 15, Transactions: 150, Portfolios: 15, HistoryDays: 30}
}

// Dataset is a generated set of records ready to load
type Dataset struct {
	Transactions []storage.Transaction
	Portfolios   []storage.Portfolio
	Ticks        []storage.MarketTick
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// GenerateDataset builds a deterministic dataset for r relative to now
func GenerateDataset(r *rand.Rand, now time.Time, opts SeedOptions) Dataset {
	now = now.UTC()
	var ds Dataset

	for i := 0; i < opts.Transactions; i++ {
		userID := int64(r.Intn(opts.Users) + 1)

		var amount float64
		switch x := r.Float64(); {
		case x < 0.3:
			amount = uniform(r, 10, 500)
		case x < 0.7:
			amount = uniform(r, 500, 5000)
		default:
			amount = uniform(r, 5000, 50000)
		}
		amount = round2(amount)

		category := SeedCategories[r.Intn(len(SeedCategories))]
		risk := uniform(r, 0.1, 0.9)
		if amount > 10000 {
			risk += 0.1
		}
		if highRiskCategories[category] {
			risk += 0.2
		}
		risk = math.Min(round2(risk), 1.0)

		ts := now.Add(-time.Duration(r.Intn(91))*24*time.Hour -
			time.Duration(r.Intn(24))*time.Hour -
			time.Duration(r.Intn(60))*time.Minute)

		ds.Transactions = append(ds.Transactions, storage.Transaction{
			UserID:    userID,
			Amount:    amount,
			Currency:  SeedCurrencies[r.Intn(len(SeedCurrencies))],
			Timestamp: ts,
			Category:  &category,
			RiskScore: &risk,
		})
	}

	for i := 0; i < opts.Portfolios; i++ {
		p := storage.Portfolio{
			UserID:      int64(r.Intn(opts.Users) + 1),
			Assets:      make(map[string]storage.Holding),
			LastUpdated: now.Add(-time.Duration(r.Intn(31)) * 24 * time.Hour),
		}
		n := r.Intn(10) + 3
		for j := 0; j < n; j++ {
			symbol := SeedSymbols[r.Intn(len(SeedSymbols))]
			shares := float64(r.Intn(1000) + 1)
			price := round2(uniform(r, 50, 500))
			p.Assets[symbol] = storage.Holding{Shares: shares, Price: price, Value: shares * price}
		}
		for _, h := range p.Assets {
			p.TotalValue += h.Value
		}
		p.TotalValue = round2(p.TotalValue)
		ds.Portfolios = append(ds.Portfolios, p)
	}

	closeTime := time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, time.UTC)
	for _, symbol := range SeedSymbols {
		base := BasePrices[symbol]
		price := base
		for d := opts.HistoryDays - 1; d >= 0; d-- {
			price = NextPrice(r, price, base)
			volume := TickVolume(r, base)
			ds.Ticks = append(ds.Ticks, storage.MarketTick{
				Symbol:    symbol,
				Price:     round2(price),
				Volume:    &volume,
				Timestamp: closeTime.AddDate(0, 0, -d),
			})
		}
	}

	return ds
}

// NextPrice takes one random-walk step with a slight upward drift, clamped
// to within 30% of base
func NextPrice(r *rand.Rand, price, base float64) float64 {
	price *= 1 + uniform(r, -0.02, 0.03)
	price = math.Max(price, base*0.7)
	return math.Min(price, base*1.3)
}

// TickVolume draws a plausible daily volume, scaled down for expensive symbols
func TickVolume(r *rand.Rand, base float64) int64 {
	switch {
	case base > 1000:
		return int64(r.Intn(2500001) + 500000)
	case base > 200:
		return int64(r.Intn(9000001) + 1000000)
	default:
		return int64(r.Intn(13000001) + 2000000)
	}
}

// SeedCounts reports existing row counts
type SeedCounts struct {
	Transactions int64
	Portfolios   int64
	MarketData   int64
}

// Empty reports whether every table is empty
func (c SeedCounts) Empty() bool {
	return c.Transactions == 0 && c.Portfolios == 0 && c.MarketData == 0
}

// Seeder loads a generated dataset into PostgreSQL
type Seeder struct {
	conn   *ConnectionManager
	store  *Store
	logger *observability.Logger
}

// NewSeeder creates a seeder writing through conn
func NewSeeder(conn *ConnectionManager, logger *observability.Logger) *Seeder {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Seeder{conn: conn, store: NewStore(conn), logger: logger.WithField("component", "seeder")}
}

// Counts returns the current row counts
func (s *Seeder) Counts(ctx context.Context) (SeedCounts, error) {
	var c SeedCounts
	db := s.conn.Primary()
	for _, t := range []struct {
		table string
		dst   *int64
	}{
		{"transactions", &c.Transactions},
		{"portfolios", &c.Portfolios},
		{"market_data", &c.MarketData},
	} {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(t.dst); err != nil {
			return c, wrapErr("count "+t.table, err)
		}
	}
	return c, nil
}

// Seed loads ds. Without force, a database that already holds data is left
// untouched and Seed reports false.
func (s *Seeder) Seed(ctx context.Context, ds Dataset, force bool) (bool, error) {
	if !force {
		counts, err := s.Counts(ctx)
		if err != nil {
			return false, err
		}
		if !counts.Empty() {
			s.logger.WithFields(map[string]interface{}{
				"transactions": counts.Transactions,
				"portfolios":   counts.Portfolios,
				"market_data":  counts.MarketData,
			}).Info("database already contains data, skipping seed")
			return false, nil
		}
	}

	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return false, wrapErr("begin seed", err)
	}

	txStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO transactions (user_id, amount, currency, timestamp, category, risk_score) VALUES ($1, $2, $3, $4, $5, $6)")
	if err != nil {
		tx.Rollback()
		return false, wrapErr("prepare transaction insert", err)
	}
	defer txStmt.Close()

	for _, t := range ds.Transactions {
		if _, err := txStmt.ExecContext(ctx, t.UserID, t.Amount, t.Currency, t.Timestamp, t.Category, t.RiskScore); err != nil {
			tx.Rollback()
			return false, wrapErr("insert transaction", err)
		}
	}

	pStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO portfolios (user_id, assets, total_value, last_updated) VALUES ($1, $2, $3, $4)")
	if err != nil {
		tx.Rollback()
		return false, wrapErr("prepare portfolio insert", err)
	}
	defer pStmt.Close()

	for _, p := range ds.Portfolios {
		assets, err := json.Marshal(p.Assets)
		if err != nil {
			tx.Rollback()
			return false, fmt.Errorf("failed to encode assets: %w", err)
		}
		if _, err := pStmt.ExecContext(ctx, p.UserID, assets, p.TotalValue, p.LastUpdated); err != nil {
			tx.Rollback()
			return false, wrapErr("insert portfolio", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, wrapErr("commit seed", err)
	}

	if err := s.store.InsertMarketTicks(ctx, ds.Ticks); err != nil {
		return false, err
	}

	s.logger.WithFields(map[string]interface{}{
		"transactions": len(ds.Transactions),
		"portfolios":   len(ds.Portfolios),
		"ticks":        len(ds.Ticks),
	}).Info("database seeded")
	return true, nil
}
