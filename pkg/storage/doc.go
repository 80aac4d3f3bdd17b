// Package storage defines the persistence model of the financial tool server.
//
// # Overview
//
// Three record kinds are stored in PostgreSQL: transactions, portfolios
// (holdings kept as a JSONB map keyed by symbol) and market data, which is a
// time series with one row per symbol per tick.
//
// # Interfaces
//
// The storage layer uses interface segregation:
//
//   - TransactionReader: QueryTransactions, PortfolioTransactions
//   - PortfolioReader: GetPortfolio
//   - MarketDataReader: LatestPrices, AggregateBySymbol, AggregateByPeriod
//   - MarketDataWriter: InsertMarketTicks
//   - HealthChecker: HealthCheck
//
// Store composes the read side and is what the tool registry depends on.
// The postgres subpackage provides the SQL implementation and a caching
// decorator backed by Redis with an in-process LRU in front of it.
//
// # Errors
//
// Implementations return ErrNotFound for missing records, wrap driver
// failures with ErrDatabase (or ErrConnection when the database is
// unreachable) and reject bad parameters with *ValidationError. Callers
// match with errors.Is and errors.As.
package storage
