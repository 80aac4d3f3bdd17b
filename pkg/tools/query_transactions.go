package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

// Tool names
const (
	QueryTransactionsName  = "query_transactions"
	AnalyzeRiskMetricsName = "analyze_risk_metrics"
	MarketSummaryName      = "get_market_summary"
)

const queryTransactionsSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "integer", "description": "Filter by user ID"},
    "category": {"type": "string", "description": "Filter by transaction category"},
    "currency": {"type": "string", "description": "Filter by currency (USD, EUR, etc.)"},
    "start_date": {"type": "string", "description": "Start date in ISO format (YYYY-MM-DD)"},
    "end_date": {"type": "string", "description": "End date in ISO format (YYYY-MM-DD)"},
    "min_amount": {"type": "number", "description": "Minimum transaction amount"},
    "max_amount": {"type": "number", "description": "Maximum transaction amount"},
    "min_risk_score": {"type": "number", "description": "Minimum risk score (0.0-1.0)"},
    "max_risk_score": {"type": "number", "description": "Maximum risk score (0.0-1.0)"},
    "limit": {"type": "integer", "description": "Maximum number of results to return", "default": 100}
  }
}`

// QueryTransactionsInput are the arguments of query_transactions
type QueryTransactionsInput struct {
	UserID       *int64   `json:"user_id,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Currency     *string  `json:"currency,omitempty"`
	StartDate    *string  `json:"start_date,omitempty"`
	EndDate      *string  `json:"end_date,omitempty"`
	MinAmount    *float64 `json:"min_amount,omitempty"`
	MaxAmount    *float64 `json:"max_amount,omitempty"`
	MinRiskScore *float64 `json:"min_risk_score,omitempty"`
	MaxRiskScore *float64 `json:"max_risk_score,omitempty"`
	Limit        *int     `json:"limit,omitempty"`
}

// QueryTransactions fetches transactions with filters. Admins see every
// user; everyone else is held to their own transactions.
type QueryTransactions struct {
	store storage.TransactionReader
}

// NewQueryTransactions creates the tool over store
func NewQueryTransactions(store storage.TransactionReader) *QueryTransactions {
	return &QueryTransactions{store: store}
}

func (t *QueryTransactions) Definition() Definition {
	return Definition{
		Name:        QueryTransactionsName,
		Description: "Fetch transaction data with various filters (user, category, date range, amount, risk score)",
		InputSchema: json.RawMessage(queryTransactionsSchema),
	}
}

func (t *QueryTransactions) Requirement() rbac.Requirement {
	return rbac.AnyPermission(rbac.PermReadTransactions, rbac.PermReadUserTransactions)
}

func (t *QueryTransactions) Execute(ctx context.Context, grant *rbac.Grant, raw json.RawMessage) (Result, error) {
	var in QueryTransactionsInput
	if err := decodeArgs(QueryTransactionsName, raw, &in); err != nil {
		return Result{}, err
	}

	if in.UserID != nil && !grant.IsAdmin() {
		if err := rbac.EnforceUserAccess(in.UserID, grant.Identity, grant.Roles); err != nil {
			return Result{}, err
		}
	}

	filter, err := in.filter()
	if err != nil {
		return Result{}, err
	}
	if filter.UserID == nil && !grant.Permissions.Has(rbac.PermReadTransactions) {
		own := grant.Identity.UserID
		filter.UserID = &own
	}

	txs, err := t.store.QueryTransactions(ctx, filter)
	if err != nil {
		return Result{}, err
	}
	if len(txs) == 0 {
		return Text("No transactions found matching the criteria"), nil
	}

	lines := make([]string, 0, len(txs))
	for _, tx := range txs {
		lines = append(lines, FormatTransaction(tx))
	}
	return Texts(lines...), nil
}

// FormatTransaction renders one transaction as a result line
func FormatTransaction(tx storage.Transaction) string {
	return fmt.Sprintf("Transaction ID: %d, User: %d, Amount: %s %s, Category: %s, Risk: %s, Date: %s",
		tx.ID, tx.UserID, decimal(tx.Amount), tx.Currency,
		optionalString(tx.Category), optionalDecimal(tx.RiskScore),
		tx.Timestamp.Format(time.RFC3339))
}

func (in QueryTransactionsInput) filter() (storage.TransactionFilter, error) {
	f := storage.TransactionFilter{
		UserID:       in.UserID,
		Category:     in.Category,
		Currency:     in.Currency,
		MinAmount:    in.MinAmount,
		MaxAmount:    in.MaxAmount,
		MinRiskScore: in.MinRiskScore,
		MaxRiskScore: in.MaxRiskScore,
		Limit:        storage.DefaultTransactionLimit,
	}
	if in.Limit != nil && *in.Limit != 0 {
		f.Limit = *in.Limit
	}

	var err error
	if f.StartDate, err = parseDateArg("start_date", in.StartDate, false); err != nil {
		return f, err
	}
	if f.EndDate, err = parseDateArg("end_date", in.EndDate, true); err != nil {
		return f, err
	}

	if err := checkRiskScore("min_risk_score", in.MinRiskScore); err != nil {
		return f, err
	}
	if err := checkRiskScore("max_risk_score", in.MaxRiskScore); err != nil {
		return f, err
	}
	return f, f.Validate()
}

// parseDateArg reads an ISO date argument. A bare date used as an upper
// bound covers the whole day.
func parseDateArg(field string, s *string, inclusiveDay bool) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, ok := parseISODate(*s)
	if !ok {
		return nil, storage.NewValidationError(field,
			fmt.Sprintf("Invalid %s format: %s. Use ISO format (YYYY-MM-DD)", field, *s))
	}
	if inclusiveDay && len(*s) == len(isoDateLayout) {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

func checkRiskScore(field string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return storage.NewValidationError(field, field+" must be between 0.0 and 1.0")
	}
	return nil
}
