// Package risk computes portfolio risk indicators from a transaction history
// and the portfolio's holdings.
package risk

import (
	"errors"
	"math"
	"sort"

	"github.com/platinummonkey/finmcp/pkg/storage"
)

const (
	// TradingDaysPerYear annualizes per-period statistics
	TradingDaysPerYear = 252
	// RiskFreeRate is the annual rate subtracted in the Sharpe ratio
	RiskFreeRate = 0.02
)

// ErrNotEnoughData is returned when fewer than two usable amounts exist
var ErrNotEnoughData = errors.New("Not enough data")

// Level classifies overall portfolio risk
type Level string

const (
	LevelLow      Level = "LOW"
	LevelModerate Level = "MODERATE"
	LevelHigh     Level = "HIGH"
)

// Metrics is the result of an analysis
type Metrics struct {
	PortfolioID    int64   `json:"portfolio_id"`
	PortfolioValue float64 `json:"portfolio_value"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	ValueAtRisk95  float64 `json:"value_at_risk_95"`
	AverageReturn  float64 `json:"average_return"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	Level          Level   `json:"risk_level"`
}

// PortfolioValue prices every holding at its current price when known and
// at its stored price otherwise
func PortfolioValue(assets map[string]storage.Holding, prices map[string]float64) float64 {
	var total float64
	for sym, h := range assets {
		price, ok := prices[sym]
		if !ok {
			price = h.Price
		}
		total += h.Shares * price
	}
	return total
}

// Returns computes simple period-over-period returns across amounts in the
// order given. Pairs with a zero base are skipped.
func Returns(amounts []float64) []float64 {
	if len(amounts) < 2 {
		return nil
	}
	out := make([]float64, 0, len(amounts)-1)
	for i := 0; i+1 < len(amounts); i++ {
		if amounts[i] == 0 {
			continue
		}
		out = append(out, (amounts[i+1]-amounts[i])/amounts[i])
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation
func stddev(xs []float64) float64 {
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Percentile returns the p-th percentile (0..100) of xs with linear
// interpolation between closest ranks
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// MaxDrawdown returns the deepest peak-to-trough decline of the compounded
// return series. It is zero or negative.
func MaxDrawdown(returns []float64) float64 {
	var (
		cum        = 1.0
		runningMax = math.Inf(-1)
		worst      = 0.0
	)
	for _, r := range returns {
		cum *= 1 + r
		if cum > runningMax {
			runningMax = cum
		}
		if dd := (cum - runningMax) / runningMax; dd < worst {
			worst = dd
		}
	}
	return worst
}

// Classify maps volatility and Sharpe ratio onto a risk level
func Classify(volatility, sharpe float64) Level {
	switch {
	case volatility < 0.15 && sharpe > 1.5:
		return LevelLow
	case volatility > 0.30 || sharpe < 0.5:
		return LevelHigh
	default:
		return LevelModerate
	}
}

// Analyze computes the metrics of portfolio given its transactions and the
// latest prices of its holdings
func Analyze(portfolio *storage.Portfolio, transactions []storage.Transaction, prices map[string]float64) (Metrics, error) {
	amounts := make([]float64, len(transactions))
	for i, tx := range transactions {
		amounts[i] = tx.Amount
	}

	returns := Returns(amounts)
	if len(returns) == 0 {
		return Metrics{}, ErrNotEnoughData
	}

	value := PortfolioValue(portfolio.Assets, prices)
	volatility := stddev(returns) * math.Sqrt(TradingDaysPerYear)
	avgReturn := mean(returns) * TradingDaysPerYear

	var sharpe float64
	if volatility > 0 {
		sharpe = (avgReturn - RiskFreeRate) / volatility
	}

	return Metrics{
		PortfolioID:    portfolio.ID,
		PortfolioValue: value,
		Volatility:     volatility,
		SharpeRatio:    sharpe,
		ValueAtRisk95:  Percentile(returns, 5) * value,
		AverageReturn:  avgReturn,
		MaxDrawdown:    MaxDrawdown(returns),
		Level:          Classify(volatility, sharpe),
	}, nil
}
