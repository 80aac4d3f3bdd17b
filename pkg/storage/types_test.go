package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func f64(v float64) *float64 { return &v }

func TestTransactionFilter_Validate(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name   string
		filter TransactionFilter
		field  string
	}{
		{"ok", TransactionFilter{Limit: 100}, ""},
		{"zero limit", TransactionFilter{Limit: 0}, ""},
		{"negative offset", TransactionFilter{Offset: -1}, "skip"},
		{"limit too high", TransactionFilter{Limit: 1001}, "limit"},
		{"negative limit", TransactionFilter{Limit: -5}, "limit"},
		{"amount range", TransactionFilter{MinAmount: f64(10), MaxAmount: f64(5)}, "amount_range"},
		{"risk range", TransactionFilter{MinRiskScore: f64(0.9), MaxRiskScore: f64(0.1)}, "risk_score_range"},
		{"date range", TransactionFilter{StartDate: &now, EndDate: &earlier}, "date_range"},
		{"equal amounts", TransactionFilter{MinAmount: f64(5), MaxAmount: f64(5)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var v *ValidationError
			if assert.True(t, errors.As(err, &v)) {
				assert.Equal(t, tt.field, v.Field)
			}
			assert.True(t, IsValidation(err))
		})
	}
}

func TestPortfolio_Symbols(t *testing.T) {
	p := &Portfolio{Assets: map[string]Holding{"MSFT": {}, "AAPL": {}, "GOOGL": {}}}
	assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT"}, p.Symbols())
	assert.Empty(t, (&Portfolio{}).Symbols())
}

func TestPeriod_Valid(t *testing.T) {
	for _, p := range []Period{PeriodHour, PeriodDay, PeriodWeek, PeriodMonth} {
		assert.True(t, p.Valid())
	}
	assert.False(t, Period("year").Valid())
}

func TestErrorHelpers(t *testing.T) {
	err := NotFoundf("portfolio %d", 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "portfolio 7: not found", err.Error())

	err = QueryError("query transactions", fmt.Errorf("syntax error"))
	assert.ErrorIs(t, err, ErrDatabase)
	assert.Contains(t, err.Error(), "failed to query transactions: syntax error")
}
