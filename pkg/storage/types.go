package storage

import (
	"sort"
	"time"
)

// Transaction is a single financial transaction
type Transaction struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
	Category  *string   `json:"category,omitempty"`
	RiskScore *float64  `json:"risk_score,omitempty"`
}

// Holding is one position in a portfolio
type Holding struct {
	Shares float64 `json:"shares"`
	Price  float64 `json:"price"`
	Value  float64 `json:"value"`
}

// Portfolio is a user's set of holdings keyed by symbol
type Portfolio struct {
	ID          int64              `json:"id"`
	UserID      int64              `json:"user_id"`
	Assets      map[string]Holding `json:"assets"`
	TotalValue  float64            `json:"total_value"`
	LastUpdated time.Time          `json:"last_updated"`
}

// Symbols returns the portfolio's holding symbols in lexical order
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Assets))
	for sym := range p.Assets {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// MarketTick is one market_data row
type MarketTick struct {
	ID        int64     `json:"id,omitempty"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    *int64    `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SymbolAggregate summarizes all ticks for one symbol
type SymbolAggregate struct {
	Symbol    string  `json:"symbol"`
	AvgPrice  float64 `json:"avg_price"`
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	AvgVolume float64 `json:"avg_volume"`
	Count     int64   `json:"count"`
}

// PeriodAggregate summarizes ticks in one truncated time bucket
type PeriodAggregate struct {
	Period      time.Time `json:"period"`
	AvgPrice    float64   `json:"avg_price"`
	MinPrice    float64   `json:"min_price"`
	MaxPrice    float64   `json:"max_price"`
	TotalVolume int64     `json:"total_volume"`
	Count       int64     `json:"count"`
}

// Period is a market aggregation bucket size
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Valid reports whether p is one of the supported bucket sizes
func (p Period) Valid() bool {
	switch p {
	case PeriodHour, PeriodDay, PeriodWeek, PeriodMonth:
		return true
	}
	return false
}

// Transaction query limits
const (
	DefaultTransactionLimit = 100
	MaxTransactionLimit     = 1000
)

// TransactionFilter narrows a transaction query. Nil fields are ignored.
type TransactionFilter struct {
	UserID       *int64
	Category     *string
	Categories   []string
	Currency     *string
	StartDate    *time.Time
	EndDate      *time.Time
	MinAmount    *float64
	MaxAmount    *float64
	MinRiskScore *float64
	MaxRiskScore *float64
	Offset       int
	Limit        int
}

// Validate enforces the range and bound rules of a transaction query
func (f *TransactionFilter) Validate() error {
	if f.Offset < 0 {
		return NewValidationError("skip", "skip must be non-negative")
	}
	if f.Limit < 0 || f.Limit > MaxTransactionLimit {
		return NewValidationError("limit", "limit must be between 0 and 1000")
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return NewValidationError("amount_range", "min_amount cannot be greater than max_amount")
	}
	if f.MinRiskScore != nil && f.MaxRiskScore != nil && *f.MinRiskScore > *f.MaxRiskScore {
		return NewValidationError("risk_score_range", "min_risk_score cannot be greater than max_risk_score")
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return NewValidationError("date_range", "start_date cannot be greater than end_date")
	}
	return nil
}
