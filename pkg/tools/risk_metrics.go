package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/risk"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

const analyzeRiskMetricsSchema = `{
  "type": "object",
  "properties": {
    "portfolio_id": {"type": "integer", "description": "Portfolio ID to analyze"},
    "user_id": {"type": "integer", "description": "User ID to analyze all portfolios"},
    "period_days": {"type": "integer", "description": "Number of days to analyze", "default": 30}
  }
}`

// AnalyzeRiskMetricsInput are the arguments of analyze_risk_metrics
type AnalyzeRiskMetricsInput struct {
	PortfolioID *int64 `json:"portfolio_id,omitempty"`
	UserID      *int64 `json:"user_id,omitempty"`
	PeriodDays  *int   `json:"period_days,omitempty"`
}

// AnalyzeRiskMetrics computes volatility, Sharpe ratio, VaR and drawdown for
// a portfolio from its owner's transactions
type AnalyzeRiskMetrics struct {
	store interface {
		storage.TransactionReader
		storage.PortfolioReader
		storage.MarketDataReader
	}
	now func() time.Time
}

// NewAnalyzeRiskMetrics creates the tool. now is the clock used for the
// period window.
func NewAnalyzeRiskMetrics(store storage.Store, now func() time.Time) *AnalyzeRiskMetrics {
	if now == nil {
		now = time.Now
	}
	return &AnalyzeRiskMetrics{store: store, now: now}
}

func (t *AnalyzeRiskMetrics) Definition() Definition {
	return Definition{
		Name: AnalyzeRiskMetricsName,
		Description: "Calculate comprehensive risk indicators for a portfolio including volatility, Sharpe ratio, " +
			"Value at Risk (VaR), average returns, and risk classification. Analyzes both transaction history and portfolio holdings.",
		InputSchema: json.RawMessage(analyzeRiskMetricsSchema),
	}
}

func (t *AnalyzeRiskMetrics) Requirement() rbac.Requirement {
	return rbac.AllPermissions(rbac.PermReadRiskMetrics)
}

func (t *AnalyzeRiskMetrics) Execute(ctx context.Context, grant *rbac.Grant, raw json.RawMessage) (Result, error) {
	var in AnalyzeRiskMetricsInput
	if err := decodeArgs(AnalyzeRiskMetricsName, raw, &in); err != nil {
		return Result{}, err
	}
	if in.PortfolioID == nil {
		return Result{}, storage.NewValidationError("portfolio_id", "portfolio_id is required")
	}
	if in.PeriodDays != nil && *in.PeriodDays <= 0 {
		return Result{}, storage.NewValidationError("period_days", "period_days must be positive")
	}
	if in.UserID != nil && !grant.IsAdmin() {
		if err := rbac.EnforceUserAccess(in.UserID, grant.Identity, grant.Roles); err != nil {
			return Result{}, err
		}
	}

	portfolio, err := t.store.GetPortfolio(ctx, *in.PortfolioID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrorText("Portfolio not found"), nil
	}
	if err != nil {
		return Result{}, err
	}

	var start, end *time.Time
	if in.PeriodDays != nil {
		e := t.now().UTC()
		s := e.AddDate(0, 0, -*in.PeriodDays)
		start, end = &s, &e
	}
	txs, err := t.store.PortfolioTransactions(ctx, portfolio.ID, start, end)
	if err != nil {
		return Result{}, err
	}

	prices, err := t.store.LatestPrices(ctx, portfolio.Symbols())
	if err != nil {
		return Result{}, err
	}

	metrics, err := risk.Analyze(portfolio, txs, prices)
	if errors.Is(err, risk.ErrNotEnoughData) {
		return ErrorText(err.Error()), nil
	}
	if err != nil {
		return Result{}, err
	}

	period := "all available transactions"
	if in.PeriodDays != nil {
		period = fmt.Sprintf("%d days", *in.PeriodDays)
	}
	return Text(FormatRiskReport(*in.PortfolioID, period, metrics)), nil
}

// FormatRiskReport renders metrics as the analyze_risk_metrics result text
func FormatRiskReport(portfolioID int64, period string, m risk.Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Portfolio %d Risk Analysis:\n\n", portfolioID)
	fmt.Fprintf(&b, "Portfolio Value: $%s\n", money(m.PortfolioValue))
	fmt.Fprintf(&b, "Time Period: %s\n\n", period)
	b.WriteString("Risk Metrics:\n")
	fmt.Fprintf(&b, "- Volatility: %s (annualized)\n", percent(m.Volatility))
	fmt.Fprintf(&b, "- Sharpe Ratio: %.2f\n", m.SharpeRatio)
	fmt.Fprintf(&b, "- Value at Risk (95%%): $%s\n", money(m.ValueAtRisk95))
	fmt.Fprintf(&b, "- Average Return: %s (annualized)\n", percent(m.AverageReturn))
	fmt.Fprintf(&b, "- Maximum Drawdown: %s\n\n", percent(m.MaxDrawdown))
	fmt.Fprintf(&b, "Overall Risk Level: %s\n", m.Level)
	return b.String()
}
