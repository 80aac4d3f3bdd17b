package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/finmcp/pkg/storage"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(NewConnectionManagerFromDB(db), opts...), mock
}

var txColumns = []string{"id", "user_id", "amount", "currency", "timestamp", "category", "risk_score"}

func TestStore_QueryTransactions(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("builds filtered query", func(t *testing.T) {
		var observed []string
		s, mock := newTestStore(t, WithQueryObserver(func(op string, _ time.Duration, err error) {
			observed = append(observed, op)
		}))

		uid := int64(7)
		cat := "Dividend"
		minAmt := 100.0
		mock.ExpectQuery(`SELECT id, user_id, amount, currency, timestamp, category, risk_score FROM transactions WHERE user_id = \$1 AND category = \$2 AND amount >= \$3 ORDER BY timestamp DESC OFFSET \$4 LIMIT \$5`).
			WithArgs(uid, cat, minAmt, 0, storage.DefaultTransactionLimit).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(1, 7, 250.5, "USD", ts, "Dividend", 0.3).
				AddRow(2, 7, 120.0, "EUR", ts.Add(-time.Hour), nil, nil))

		txs, err := s.QueryTransactions(context.Background(), storage.TransactionFilter{
			UserID: &uid, Category: &cat, MinAmount: &minAmt,
		})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, "Dividend", *txs[0].Category)
		assert.InDelta(t, 0.3, *txs[0].RiskScore, 1e-9)
		assert.Nil(t, txs[1].Category)
		assert.Nil(t, txs[1].RiskScore)
		assert.Equal(t, []string{"query_transactions"}, observed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no filters", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery(`FROM transactions ORDER BY timestamp DESC OFFSET \$1 LIMIT \$2`).
			WithArgs(10, 5).
			WillReturnRows(sqlmock.NewRows(txColumns))

		txs, err := s.QueryTransactions(context.Background(), storage.TransactionFilter{Offset: 10, Limit: 5})
		require.NoError(t, err)
		assert.Empty(t, txs)
		assert.NotNil(t, txs)
	})

	t.Run("invalid filter never reaches the database", func(t *testing.T) {
		s, mock := newTestStore(t)
		_, err := s.QueryTransactions(context.Background(), storage.TransactionFilter{Limit: 5000})
		assert.True(t, storage.IsValidation(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver error is wrapped", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery("FROM transactions").WillReturnError(errors.New("relation does not exist"))

		_, err := s.QueryTransactions(context.Background(), storage.TransactionFilter{})
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrDatabase)
		assert.Contains(t, err.Error(), "failed to query transactions")
	})

	t.Run("bad connection", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery("FROM transactions").WillReturnError(driver.ErrBadConn)

		_, err := s.QueryTransactions(context.Background(), storage.TransactionFilter{})
		assert.ErrorIs(t, err, storage.ErrConnection)
	})
}

func TestStore_PortfolioTransactions(t *testing.T) {
	s, mock := newTestStore(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`JOIN portfolios p ON p.user_id = t.user_id WHERE p.id = \$1 AND t.timestamp >= \$2 ORDER BY t.timestamp DESC LIMIT \$3`).
		WithArgs(int64(3), from, portfolioTransactionLimit).
		WillReturnRows(sqlmock.NewRows(txColumns).AddRow(9, 4, 10.0, "USD", from.Add(time.Hour), "Fee", 0.2))

	txs, err := s.PortfolioTransactions(context.Background(), 3, &from, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(4), txs[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetPortfolio(t *testing.T) {
	updated := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	columns := []string{"id", "user_id", "assets", "total_value", "last_updated"}

	t.Run("found", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery("FROM portfolios WHERE id = \\$1").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, 2,
				[]byte(`{"AAPL":{"shares":10,"price":150,"value":1500}}`), 1500.0, updated))

		p, err := s.GetPortfolio(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), p.UserID)
		assert.Equal(t, storage.Holding{Shares: 10, Price: 150, Value: 1500}, p.Assets["AAPL"])
		assert.Equal(t, []string{"AAPL"}, p.Symbols())
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery("FROM portfolios").WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows(columns))

		_, err := s.GetPortfolio(context.Background(), 99)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Equal(t, "portfolio 99: not found", err.Error())
	})

	t.Run("non-positive id", func(t *testing.T) {
		s, _ := newTestStore(t)
		_, err := s.GetPortfolio(context.Background(), 0)
		assert.True(t, storage.IsValidation(err))
	})

	t.Run("corrupt assets", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery("FROM portfolios").
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, 2, []byte(`not-json`), 0.0, updated))

		_, err := s.GetPortfolio(context.Background(), 1)
		assert.ErrorIs(t, err, storage.ErrDatabase)
	})
}

func TestStore_LatestPrices(t *testing.T) {
	t.Run("empty symbols skip the query", func(t *testing.T) {
		s, mock := newTestStore(t)
		prices, err := s.LatestPrices(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, prices)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("distinct on symbol", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery(`SELECT DISTINCT ON \(symbol\) symbol, price FROM market_data`).
			WillReturnRows(sqlmock.NewRows([]string{"symbol", "price"}).
				AddRow("AAPL", 181.2).AddRow("MSFT", 402.0))

		prices, err := s.LatestPrices(context.Background(), []string{"AAPL", "MSFT", "ZZZ"})
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"AAPL": 181.2, "MSFT": 402.0}, prices)
	})
}

func TestStore_AggregateBySymbol(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`FROM market_data GROUP BY symbol ORDER BY symbol`).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "avg", "min", "max", "vol", "count"}).
			AddRow("AAPL", 175.0, 170.0, 180.0, 1000000.0, 30))

	aggs, err := s.AggregateBySymbol(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, storage.SymbolAggregate{
		Symbol: "AAPL", AvgPrice: 175, MinPrice: 170, MaxPrice: 180, AvgVolume: 1000000, Count: 30,
	}, aggs[0])
}

func TestStore_AggregateByPeriod(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("with symbol", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery(`date_trunc\(\$1::text, timestamp\) AS period.* WHERE symbol = \$2 GROUP BY 1 ORDER BY 1`).
			WithArgs("week", "AAPL").
			WillReturnRows(sqlmock.NewRows([]string{"period", "avg", "min", "max", "vol", "count"}).
				AddRow(day, 100.0, 90.0, 110.0, int64(5000), 7))

		aggs, err := s.AggregateByPeriod(context.Background(), storage.PeriodWeek, "AAPL")
		require.NoError(t, err)
		require.Len(t, aggs, 1)
		assert.Equal(t, int64(5000), aggs[0].TotalVolume)
		assert.True(t, aggs[0].Period.Equal(day))
	})

	t.Run("invalid period defaults to day", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectQuery(`date_trunc`).
			WithArgs("day").
			WillReturnRows(sqlmock.NewRows([]string{"period", "avg", "min", "max", "vol", "count"}))

		_, err := s.AggregateByPeriod(context.Background(), storage.Period("fortnight"), "")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_InsertMarketTicks(t *testing.T) {
	ts := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	vol := int64(1000)

	t.Run("commits all ticks", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectBegin()
		prep := mock.ExpectPrepare("INSERT INTO market_data")
		prep.ExpectExec().WithArgs("AAPL", 181.0, vol, ts).WillReturnResult(sqlmock.NewResult(1, 1))
		prep.ExpectExec().WithArgs("MSFT", 400.0, nil, ts).WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		err := s.InsertMarketTicks(context.Background(), []storage.MarketTick{
			{Symbol: "aapl", Price: 181, Volume: &vol, Timestamp: ts},
			{Symbol: "MSFT", Price: 400, Timestamp: ts},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		s, mock := newTestStore(t)
		mock.ExpectBegin()
		prep := mock.ExpectPrepare("INSERT INTO market_data")
		prep.ExpectExec().WillReturnError(errors.New("constraint violation"))
		mock.ExpectRollback()

		err := s.InsertMarketTicks(context.Background(), []storage.MarketTick{{Symbol: "AAPL", Price: 1, Timestamp: ts}})
		assert.ErrorIs(t, err, storage.ErrDatabase)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty is a no-op", func(t *testing.T) {
		s, mock := newTestStore(t)
		require.NoError(t, s.InsertMarketTicks(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWrapErr(t *testing.T) {
	assert.Nil(t, wrapErr("x", nil))
	assert.ErrorIs(t, wrapErr("x", context.Canceled), context.Canceled)
	assert.ErrorIs(t, wrapErr("x", driver.ErrBadConn), storage.ErrConnection)
	assert.ErrorIs(t, wrapErr("x", errors.New("boom")), storage.ErrDatabase)
}
