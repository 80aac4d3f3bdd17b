// Package storagetest provides an in-memory storage.Store for tests of the
// layers above storage.
package storagetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/finmcp/pkg/storage"
)

// Store is a goroutine-safe in-memory storage.Store. It mirrors the
// ordering and limit rules of the SQL implementation.
type Store struct {
	mu           sync.RWMutex
	transactions []storage.Transaction
	portfolios   map[int64]storage.Portfolio
	ticks        []storage.MarketTick
	nextID       int64
	err          error
	calls        map[string]int
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{
		portfolios: make(map[int64]storage.Portfolio),
		calls:      make(map[string]int),
	}
}

// Fail makes every subsequent call return err. Pass nil to recover.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many times op was invoked
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.err
}

// AddTransactions appends transactions, assigning ids when zero
func (s *Store) AddTransactions(txs ...storage.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.nextID++
		if tx.ID == 0 {
			tx.ID = s.nextID
		}
		s.transactions = append(s.transactions, tx)
	}
}

// AddPortfolio stores p under p.ID
func (s *Store) AddPortfolio(p storage.Portfolio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolios[p.ID] = p
}

// AddTicks appends market ticks
func (s *Store) AddTicks(ticks ...storage.MarketTick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ticks {
		s.nextID++
		if t.ID == 0 {
			t.ID = s.nextID
		}
		t.Symbol = strings.ToUpper(t.Symbol)
		s.ticks = append(s.ticks, t)
	}
}

func newestFirst(txs []storage.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp.After(txs[j].Timestamp) })
}

func matches(f storage.TransactionFilter, tx storage.Transaction) bool {
	switch {
	case f.UserID != nil && tx.UserID != *f.UserID:
		return false
	case f.Category != nil && (tx.Category == nil || *tx.Category != *f.Category):
		return false
	case f.Currency != nil && tx.Currency != *f.Currency:
		return false
	case f.StartDate != nil && tx.Timestamp.Before(*f.StartDate):
		return false
	case f.EndDate != nil && tx.Timestamp.After(*f.EndDate):
		return false
	case f.MinAmount != nil && tx.Amount < *f.MinAmount:
		return false
	case f.MaxAmount != nil && tx.Amount > *f.MaxAmount:
		return false
	case f.MinRiskScore != nil && (tx.RiskScore == nil || *tx.RiskScore < *f.MinRiskScore):
		return false
	case f.MaxRiskScore != nil && (tx.RiskScore == nil || *tx.RiskScore > *f.MaxRiskScore):
		return false
	}
	if len(f.Categories) > 0 {
		if tx.Category == nil {
			return false
		}
		for _, c := range f.Categories {
			if c == *tx.Category {
				return true
			}
		}
		return false
	}
	return true
}

// QueryTransactions implements storage.TransactionReader
func (s *Store) QueryTransactions(_ context.Context, filter storage.TransactionFilter) ([]storage.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("query_transactions"); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	out := make([]storage.Transaction, 0)
	for _, tx := range s.transactions {
		if matches(filter, tx) {
			out = append(out, tx)
		}
	}
	newestFirst(out)

	limit := filter.Limit
	if limit == 0 {
		limit = storage.DefaultTransactionLimit
	}
	if filter.Offset >= len(out) {
		return []storage.Transaction{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PortfolioTransactions implements storage.TransactionReader
func (s *Store) PortfolioTransactions(_ context.Context, portfolioID int64, start, end *time.Time) ([]storage.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("portfolio_transactions"); err != nil {
		return nil, err
	}

	out := make([]storage.Transaction, 0)
	p, ok := s.portfolios[portfolioID]
	if !ok {
		return out, nil
	}
	uid := p.UserID
	filter := storage.TransactionFilter{UserID: &uid, StartDate: start, EndDate: end}
	for _, tx := range s.transactions {
		if matches(filter, tx) {
			out = append(out, tx)
		}
	}
	newestFirst(out)
	if len(out) > storage.MaxTransactionLimit {
		out = out[:storage.MaxTransactionLimit]
	}
	return out, nil
}

// GetPortfolio implements storage.PortfolioReader
func (s *Store) GetPortfolio(_ context.Context, id int64) (*storage.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("get_portfolio"); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, storage.NewValidationError("portfolio_id", "portfolio_id must be positive")
	}
	p, ok := s.portfolios[id]
	if !ok {
		return nil, storage.NotFoundf("portfolio %d", id)
	}
	return &p, nil
}

func (s *Store) latest() map[string]storage.MarketTick {
	out := make(map[string]storage.MarketTick)
	for _, t := range s.ticks {
		if cur, ok := out[t.Symbol]; !ok || t.Timestamp.After(cur.Timestamp) {
			out[t.Symbol] = t
		}
	}
	return out
}

// LatestPrices implements storage.MarketDataReader
func (s *Store) LatestPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("latest_prices"); err != nil {
		return nil, err
	}
	latest := s.latest()
	out := make(map[string]float64)
	for _, sym := range symbols {
		if t, ok := latest[sym]; ok {
			out[sym] = t.Price
		}
	}
	return out, nil
}

// AggregateBySymbol implements storage.MarketDataReader
func (s *Store) AggregateBySymbol(_ context.Context, symbols []string) ([]storage.SymbolAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("aggregate_by_symbol"); err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		want[sym] = true
	}

	type acc struct {
		agg      storage.SymbolAggregate
		sum      float64
		volSum   float64
		volCount int
	}
	bySymbol := make(map[string]*acc)
	for _, t := range s.ticks {
		if len(want) > 0 && !want[t.Symbol] {
			continue
		}
		a, ok := bySymbol[t.Symbol]
		if !ok {
			a = &acc{agg: storage.SymbolAggregate{Symbol: t.Symbol, MinPrice: t.Price, MaxPrice: t.Price}}
			bySymbol[t.Symbol] = a
		}
		a.agg.Count++
		a.sum += t.Price
		if t.Price < a.agg.MinPrice {
			a.agg.MinPrice = t.Price
		}
		if t.Price > a.agg.MaxPrice {
			a.agg.MaxPrice = t.Price
		}
		if t.Volume != nil {
			a.volSum += float64(*t.Volume)
			a.volCount++
		}
	}

	out := make([]storage.SymbolAggregate, 0, len(bySymbol))
	for _, a := range bySymbol {
		a.agg.AvgPrice = a.sum / float64(a.agg.Count)
		if a.volCount > 0 {
			a.agg.AvgVolume = a.volSum / float64(a.volCount)
		}
		out = append(out, a.agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Truncate mirrors PostgreSQL date_trunc in UTC
func Truncate(t time.Time, period storage.Period) time.Time {
	t = t.UTC()
	switch period {
	case storage.PeriodHour:
		return t.Truncate(time.Hour)
	case storage.PeriodWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case storage.PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// AggregateByPeriod implements storage.MarketDataReader
func (s *Store) AggregateByPeriod(_ context.Context, period storage.Period, symbol string) ([]storage.PeriodAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("aggregate_by_period"); err != nil {
		return nil, err
	}
	if !period.Valid() {
		period = storage.PeriodDay
	}

	type acc struct {
		agg storage.PeriodAggregate
		sum float64
	}
	buckets := make(map[time.Time]*acc)
	for _, t := range s.ticks {
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		key := Truncate(t.Timestamp, period)
		a, ok := buckets[key]
		if !ok {
			a = &acc{agg: storage.PeriodAggregate{Period: key, MinPrice: t.Price, MaxPrice: t.Price}}
			buckets[key] = a
		}
		a.agg.Count++
		a.sum += t.Price
		if t.Price < a.agg.MinPrice {
			a.agg.MinPrice = t.Price
		}
		if t.Price > a.agg.MaxPrice {
			a.agg.MaxPrice = t.Price
		}
		if t.Volume != nil {
			a.agg.TotalVolume += *t.Volume
		}
	}

	out := make([]storage.PeriodAggregate, 0, len(buckets))
	for _, a := range buckets {
		a.agg.AvgPrice = a.sum / float64(a.agg.Count)
		out = append(out, a.agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out, nil
}

// InsertMarketTicks implements storage.MarketDataWriter
func (s *Store) InsertMarketTicks(_ context.Context, ticks []storage.MarketTick) error {
	s.mu.Lock()
	err := s.enter("insert_market_ticks")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.AddTicks(ticks...)
	return nil
}

// HealthCheck implements storage.HealthChecker
func (s *Store) HealthCheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enter("health_check")
}

var (
	_ storage.Store            = (*Store)(nil)
	_ storage.MarketDataWriter = (*Store)(nil)
)
