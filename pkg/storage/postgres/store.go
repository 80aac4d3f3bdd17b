package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

// portfolioTransactionLimit caps the history handed to the risk analyzer
const portfolioTransactionLimit = 1000

// QueryObserver is notified after every query with its outcome
type QueryObserver func(operation string, duration time.Duration, err error)

// Store implements storage.Store and storage.MarketDataWriter over PostgreSQL
type Store struct {
	conn     *ConnectionManager
	observer QueryObserver
	echo     *observability.Logger
}

// StoreOption customizes a Store
type StoreOption func(*Store)

// WithQueryObserver installs a per-query callback, typically metrics
func WithQueryObserver(observer QueryObserver) StoreOption {
	return func(s *Store) {
		s.observer = observer
	}
}

// WithEcho logs every statement at debug level
func WithEcho(logger *observability.Logger) StoreOption {
	return func(s *Store) {
		s.echo = logger
	}
}

// NewStore creates a store over conn
func NewStore(conn *ConnectionManager, opts ...StoreOption) *Store {
	s := &Store{conn: conn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.observer != nil {
		s.observer(op, time.Since(start), err)
	}
}

func (s *Store) logQuery(op, query string, args []interface{}) {
	if s.echo != nil {
		s.echo.WithFields(map[string]interface{}{
			"operation": op,
			"query":     strings.Join(strings.Fields(query), " "),
			"args":      len(args),
		}).Debug("sql")
	}
}

// wrapErr classifies driver errors into storage error kinds
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr *net.OpError
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return storage.QueryError(op, err)
}

const transactionColumns = "id, user_id, amount, currency, timestamp, category, risk_score"

func scanTransactions(rows *sql.Rows) ([]storage.Transaction, error) {
	defer rows.Close()

	out := make([]storage.Transaction, 0)
	for rows.Next() {
		var (
			tx       storage.Transaction
			category sql.NullString
			risk     sql.NullFloat64
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Currency, &tx.Timestamp, &category, &risk); err != nil {
			return nil, err
		}
		if category.Valid {
			c := category.String
			tx.Category = &c
		}
		if risk.Valid {
			r := risk.Float64
			tx.RiskScore = &r
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// queryBuilder accumulates WHERE clauses with positional parameters
type queryBuilder struct {
	where []string
	args  []interface{}
}

func (b *queryBuilder) add(clause string, arg interface{}) {
	b.args = append(b.args, arg)
	b.where = append(b.where, fmt.Sprintf(clause, len(b.args)))
}

func (b *queryBuilder) whereClause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

func (b *queryBuilder) next(arg interface{}) string {
	b.args = append(b.args, arg)
	return fmt.Sprintf("$%d", len(b.args))
}

// QueryTransactions returns transactions matching filter, newest first.
// A zero limit means the default page size.
func (s *Store) QueryTransactions(ctx context.Context, filter storage.TransactionFilter) (result []storage.Transaction, err error) {
	const op = "query transactions"
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { s.observe("query_transactions", start, err) }()

	var b queryBuilder
	if filter.UserID != nil {
		b.add("user_id = $%d", *filter.UserID)
	}
	if filter.Category != nil {
		b.add("category = $%d", *filter.Category)
	}
	if len(filter.Categories) > 0 {
		b.add("category = ANY($%d)", pq.Array(filter.Categories))
	}
	if filter.Currency != nil {
		b.add("currency = $%d", *filter.Currency)
	}
	if filter.StartDate != nil {
		b.add("timestamp >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		b.add("timestamp <= $%d", *filter.EndDate)
	}
	if filter.MinAmount != nil {
		b.add("amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		b.add("amount <= $%d", *filter.MaxAmount)
	}
	if filter.MinRiskScore != nil {
		b.add("risk_score >= $%d", *filter.MinRiskScore)
	}
	if filter.MaxRiskScore != nil {
		b.add("risk_score <= $%d", *filter.MaxRiskScore)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = storage.DefaultTransactionLimit
	}

	query := "SELECT " + transactionColumns + " FROM transactions" + b.whereClause() +
		" ORDER BY timestamp DESC"
	query += " OFFSET " + b.next(filter.Offset)
	query += " LIMIT " + b.next(limit)

	s.logQuery(op, query, b.args)
	rows, err := s.conn.Replica().QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	result, err = scanTransactions(rows)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return result, nil
}

// PortfolioTransactions returns the portfolio owner's transactions in the
// window, newest first. An unknown portfolio yields an empty slice.
func (s *Store) PortfolioTransactions(ctx context.Context, portfolioID int64, from, to *time.Time) (result []storage.Transaction, err error) {
	const op = "query portfolio transactions"

	start := time.Now()
	defer func() { s.observe("portfolio_transactions", start, err) }()

	var b queryBuilder
	b.add("p.id = $%d", portfolioID)
	if from != nil {
		b.add("t.timestamp >= $%d", *from)
	}
	if to != nil {
		b.add("t.timestamp <= $%d", *to)
	}

	query := `SELECT t.id, t.user_id, t.amount, t.currency, t.timestamp, t.category, t.risk_score
		FROM transactions t JOIN portfolios p ON p.user_id = t.user_id` + b.whereClause() +
		" ORDER BY t.timestamp DESC LIMIT " + b.next(portfolioTransactionLimit)

	s.logQuery(op, query, b.args)
	rows, err := s.conn.Replica().QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	result, err = scanTransactions(rows)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return result, nil
}

// GetPortfolio loads a portfolio by id
func (s *Store) GetPortfolio(ctx context.Context, id int64) (p *storage.Portfolio, err error) {
	const op = "query portfolio"
	if id <= 0 {
		return nil, storage.NewValidationError("portfolio_id", "portfolio_id must be positive")
	}

	start := time.Now()
	defer func() { s.observe("get_portfolio", start, err) }()

	query := "SELECT id, user_id, assets, total_value, last_updated FROM portfolios WHERE id = $1"
	s.logQuery(op, query, []interface{}{id})

	var (
		portfolio storage.Portfolio
		assets    []byte
	)
	err = s.conn.Replica().QueryRowContext(ctx, query, id).
		Scan(&portfolio.ID, &portfolio.UserID, &assets, &portfolio.TotalValue, &portfolio.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundf("portfolio %d", id)
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}

	portfolio.Assets = make(map[string]storage.Holding)
	if len(assets) > 0 {
		if err := json.Unmarshal(assets, &portfolio.Assets); err != nil {
			return nil, storage.QueryError("decode portfolio assets", err)
		}
	}
	return &portfolio, nil
}

// LatestPrices returns the newest price for each requested symbol
func (s *Store) LatestPrices(ctx context.Context, symbols []string) (prices map[string]float64, err error) {
	const op = "query latest prices"
	prices = make(map[string]float64)
	if len(symbols) == 0 {
		return prices, nil
	}

	start := time.Now()
	defer func() { s.observe("latest_prices", start, err) }()

	query := `SELECT DISTINCT ON (symbol) symbol, price FROM market_data
		WHERE symbol = ANY($1) ORDER BY symbol, timestamp DESC`
	s.logQuery(op, query, []interface{}{symbols})

	rows, err := s.conn.Replica().QueryContext(ctx, query, pq.Array(symbols))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sym   string
			price float64
		)
		if err := rows.Scan(&sym, &price); err != nil {
			return nil, wrapErr(op, err)
		}
		prices[sym] = price
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return prices, nil
}

// LatestTicks returns the newest tick of every symbol, ordered by symbol
func (s *Store) LatestTicks(ctx context.Context) (ticks []storage.MarketTick, err error) {
	const op = "query latest ticks"

	start := time.Now()
	defer func() { s.observe("latest_ticks", start, err) }()

	query := `SELECT DISTINCT ON (symbol) id, symbol, price, volume, timestamp FROM market_data
		ORDER BY symbol, timestamp DESC`
	s.logQuery(op, query, nil)

	rows, err := s.conn.Replica().QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t      storage.MarketTick
			volume sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Price, &volume, &t.Timestamp); err != nil {
			return nil, wrapErr(op, err)
		}
		if volume.Valid {
			v := volume.Int64
			t.Volume = &v
		}
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return ticks, nil
}

// AggregateBySymbol summarizes ticks per symbol, ordered by symbol
func (s *Store) AggregateBySymbol(ctx context.Context, symbols []string) (aggs []storage.SymbolAggregate, err error) {
	const op = "aggregate market data by symbol"

	start := time.Now()
	defer func() { s.observe("aggregate_by_symbol", start, err) }()

	var b queryBuilder
	if len(symbols) > 0 {
		b.add("symbol = ANY($%d)", pq.Array(symbols))
	}
	query := `SELECT symbol, AVG(price), MIN(price), MAX(price), COALESCE(AVG(volume), 0), COUNT(*)
		FROM market_data` + b.whereClause() + " GROUP BY symbol ORDER BY symbol"
	s.logQuery(op, query, b.args)

	rows, err := s.conn.Replica().QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	aggs = make([]storage.SymbolAggregate, 0)
	for rows.Next() {
		var a storage.SymbolAggregate
		if err := rows.Scan(&a.Symbol, &a.AvgPrice, &a.MinPrice, &a.MaxPrice, &a.AvgVolume, &a.Count); err != nil {
			return nil, wrapErr(op, err)
		}
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return aggs, nil
}

// AggregateByPeriod buckets ticks with date_trunc, oldest bucket first
func (s *Store) AggregateByPeriod(ctx context.Context, period storage.Period, symbol string) (aggs []storage.PeriodAggregate, err error) {
	const op = "aggregate market data by period"
	if !period.Valid() {
		period = storage.PeriodDay
	}

	start := time.Now()
	defer func() { s.observe("aggregate_by_period", start, err) }()

	var b queryBuilder
	trunc := "date_trunc(" + b.next(string(period)) + "::text, timestamp)"
	if symbol != "" {
		b.add("symbol = $%d", symbol)
	}
	query := "SELECT " + trunc + " AS period, AVG(price), MIN(price), MAX(price), COALESCE(SUM(volume), 0), COUNT(*) FROM market_data" +
		b.whereClause() + " GROUP BY 1 ORDER BY 1"
	s.logQuery(op, query, b.args)

	rows, err := s.conn.Replica().QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	aggs = make([]storage.PeriodAggregate, 0)
	for rows.Next() {
		var a storage.PeriodAggregate
		if err := rows.Scan(&a.Period, &a.AvgPrice, &a.MinPrice, &a.MaxPrice, &a.TotalVolume, &a.Count); err != nil {
			return nil, wrapErr(op, err)
		}
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return aggs, nil
}

// InsertMarketTicks appends ticks in a single transaction
func (s *Store) InsertMarketTicks(ctx context.Context, ticks []storage.MarketTick) (err error) {
	const op = "insert market ticks"
	if len(ticks) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { s.observe("insert_market_ticks", start, err) }()

	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO market_data (symbol, price, volume, timestamp) VALUES ($1, $2, $3, $4)")
	if err != nil {
		tx.Rollback()
		return wrapErr(op, err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		var volume interface{}
		if t.Volume != nil {
			volume = *t.Volume
		}
		if _, err := stmt.ExecContext(ctx, strings.ToUpper(t.Symbol), t.Price, volume, t.Timestamp); err != nil {
			tx.Rollback()
			return wrapErr(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

var (
	_ storage.Store            = (*Store)(nil)
	_ storage.MarketDataWriter = (*Store)(nil)
)
