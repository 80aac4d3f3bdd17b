package orchestrator

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/finmcp/pkg/tools"
)

var (
	riskKeywords        = []string{"risk", "portfolio", "analyze", "metrics", "volatility", "sharpe"}
	portfolioKeywords   = []string{"portfolio", "risk", "analyze", "metrics"}
	marketFlavor        = []string{"market", "price", "stock", "symbol", "holdings"}
	transactionKeywords = []string{"transaction", "transactions", "trade", "trades", "spending", "purchase"}
	marketKeywords      = []string{"market", "price", "stock", "symbol", "trading", "volume", "performing"}
	tickerContext       = []string{"market", "stock", "price", "symbol", "trading"}
	chainKeywords       = []string{"market", "price", "holdings", "stock", "symbol"}

	categoryKeywords = []string{
		"groceries", "entertainment", "utilities", "transportation", "healthcare",
		"shopping", "dining", "travel", "education", "investment",
	}

	tickerStopwords = map[string]bool{
		"THE": true, "AND": true, "FOR": true, "WITH": true, "FROM": true, "THIS": true, "THAT": true,
		"ARE": true, "WAS": true, "WERE": true, "BEEN": true, "HAVE": true, "HAS": true, "HAD": true,
		"BUT": true, "NOT": true, "CAN": true, "WILL": true, "ALL": true, "YOU": true, "YOUR": true,
	}
)

var (
	portfolioIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)portfolio\s+(\d+)`),
		regexp.MustCompile(`(?i)portfolio\s+id\s+(\d+)`),
		regexp.MustCompile(`(?i)portfolio\s+#(\d+)`),
		regexp.MustCompile(`(?i)portfolio\s+number\s+(\d+)`),
	}
	daysPattern   = regexp.MustCompile(`(?i)(\d+)\s*days?`)
	userPattern   = regexp.MustCompile(`(?i)user\s+(\d+)`)
	overPattern   = regexp.MustCompile(`(?i)(?:over|above|more than)\s+\$?(\d+)`)
	underPattern  = regexp.MustCompile(`(?i)(?:under|below|less than)\s+\$?(\d+)`)
	limitPattern  = regexp.MustCompile(`(?i)(?:limit|top|first|recent)\s+(\d+)`)
	countPattern  = regexp.MustCompile(`(?i)(\d+)\s+transactions?`)
	tickerPattern = regexp.MustCompile(`\b([A-Z]{2,5})\b`)
)

const (
	dateArgLayout     = "2006-01-02"
	recentWindowDays  = 30
	lastWeekDays      = 7
	lastMonthDays     = 30
	lastYearDays      = 365
	defaultMarketSpan = "day"
	maxTickers        = 10
)

// queryFeatures are the branch predicates of one parse, computed once
type queryFeatures struct {
	query string
	lower string

	portfolioID *int64
	tickers     []string

	riskIntent          bool
	portfolioFlavored   bool
	marketFlavored      bool
	explicitTransaction bool
	transactionPattern  bool
	marketIntent        bool
	chainKeyword        bool
}

func newQueryFeatures(query string) queryFeatures {
	lower := strings.ToLower(query)
	f := queryFeatures{
		query:               query,
		lower:               lower,
		portfolioID:         ExtractPortfolioID(query),
		riskIntent:          containsAny(lower, riskKeywords),
		portfolioFlavored:   containsAny(lower, portfolioKeywords),
		marketFlavored:      containsAny(lower, marketFlavor),
		explicitTransaction: containsAny(lower, transactionKeywords),
		marketIntent:        containsAny(lower, marketKeywords),
		chainKeyword:        containsAny(lower, chainKeywords),
	}
	mentionsTransaction := strings.Contains(lower, "transaction")
	f.transactionPattern = mentionsTransaction && (strings.Contains(lower, "recent") || strings.Contains(lower, "find"))
	f.tickers = extractTickers(query, lower)
	return f
}

func (f queryFeatures) wantsRisk() bool {
	return f.riskIntent && f.portfolioID != nil
}

// wantsTransactions is suppressed for combined portfolio and market
// queries that never name transactions outright
func (f queryFeatures) wantsTransactions() bool {
	if !f.explicitTransaction && !f.transactionPattern {
		return false
	}
	return !(f.portfolioFlavored && f.marketFlavored && !f.explicitTransaction)
}

// defersMarket reports whether market data should come from the
// portfolio's holdings through chaining rather than from this parse
func (f queryFeatures) defersMarket() bool {
	return f.portfolioID != nil && f.chainKeyword && len(f.tickers) == 0
}

func (f queryFeatures) wantsMarket() bool {
	return f.marketIntent && !f.defersMarket()
}

// ParseQuery plans the first turn of tool calls for query. defaultUserID
// scopes transaction queries that name no user.
func ParseQuery(query string, defaultUserID *int64) []ToolCall {
	return ParseQueryAt(query, defaultUserID, time.Now().UTC())
}

// ParseQueryAt is ParseQuery with relative dates resolved against now
func ParseQueryAt(query string, defaultUserID *int64, now time.Time) []ToolCall {
	f := newQueryFeatures(query)
	var calls []ToolCall

	if f.wantsRisk() {
		args := map[string]any{"portfolio_id": *f.portfolioID}
		if days := ExtractPeriodDays(query); days != nil {
			args["period_days"] = *days
		}
		calls = append(calls, ToolCall{Name: tools.AnalyzeRiskMetricsName, Arguments: args})
	}

	if f.wantsTransactions() {
		calls = append(calls, ToolCall{Name: tools.QueryTransactionsName, Arguments: transactionArgs(f, defaultUserID, now)})
	}

	if f.wantsMarket() {
		calls = append(calls, ToolCall{Name: tools.MarketSummaryName, Arguments: marketArgs(f)})
	}

	return calls
}

// ExtractPortfolioID finds a portfolio reference such as "portfolio 2",
// "portfolio id 2", "portfolio #2" or "portfolio number 2"
func ExtractPortfolioID(query string) *int64 {
	for _, p := range portfolioIDPatterns {
		if m := p.FindStringSubmatch(query); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return &id
			}
		}
	}
	return nil
}

// ExtractPeriodDays reads an explicit day count or a relative period
func ExtractPeriodDays(query string) *int {
	if m := daysPattern.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "last week"), strings.Contains(lower, "past week"):
		return intPtr(lastWeekDays)
	case strings.Contains(lower, "last month"), strings.Contains(lower, "past month"):
		return intPtr(lastMonthDays)
	case strings.Contains(lower, "last year"), strings.Contains(lower, "past year"):
		return intPtr(lastYearDays)
	}
	return nil
}

func transactionArgs(f queryFeatures, defaultUserID *int64, now time.Time) map[string]any {
	args := map[string]any{}
	lower := f.lower

	if m := userPattern.FindStringSubmatch(f.query); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			args["user_id"] = id
		}
	} else if defaultUserID != nil && *defaultUserID != 0 {
		args["user_id"] = *defaultUserID
	}

	window := func(days int) {
		args["start_date"] = now.AddDate(0, 0, -days).Format(dateArgLayout)
		args["end_date"] = now.Format(dateArgLayout)
	}
	switch {
	case strings.Contains(lower, "yesterday"):
		y := now.AddDate(0, 0, -1).Format(dateArgLayout)
		args["start_date"], args["end_date"] = y, y
	case strings.Contains(lower, "today"):
		d := now.Format(dateArgLayout)
		args["start_date"], args["end_date"] = d, d
	case strings.Contains(lower, "last week"), strings.Contains(lower, "past week"):
		window(lastWeekDays)
	case strings.Contains(lower, "last month"), strings.Contains(lower, "past month"):
		window(lastMonthDays)
	}

	if m := overPattern.FindStringSubmatch(f.query); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			args["min_amount"] = v
		}
	}
	if m := underPattern.FindStringSubmatch(f.query); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			args["max_amount"] = v
		}
	}

	switch {
	case containsAny(lower, []string{"high risk", "high-risk", "risky"}):
		args["min_risk_score"] = 0.7
	case containsAny(lower, []string{"low risk", "low-risk", "safe"}):
		args["max_risk_score"] = 0.3
	case containsAny(lower, []string{"medium risk", "moderate risk"}):
		args["min_risk_score"] = 0.3
		args["max_risk_score"] = 0.7
	}

	for _, c := range categoryKeywords {
		if strings.Contains(lower, c) {
			args["category"] = c
			break
		}
	}

	if m := limitPattern.FindStringSubmatch(f.query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			args["limit"] = n
		}
	} else if m := countPattern.FindStringSubmatch(f.query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			args["limit"] = n
		}
	}

	if _, dated := args["start_date"]; !dated && strings.Contains(lower, "recent") {
		window(recentWindowDays)
	}
	return args
}

func marketArgs(f queryFeatures) map[string]any {
	args := map[string]any{}
	if len(f.tickers) > 0 {
		args["symbols"] = f.tickers
	}
	switch {
	case strings.Contains(f.lower, "hour"):
		args["period"] = "hour"
	case strings.Contains(f.lower, "week"):
		args["period"] = "week"
	case strings.Contains(f.lower, "month"):
		args["period"] = "month"
	default:
		args["period"] = defaultMarketSpan
	}
	return args
}

// extractTickers returns upper-case tokens that look like symbols, only
// when the query is about markets
func extractTickers(query, lower string) []string {
	if !containsAny(lower, tickerContext) {
		return nil
	}
	var out []string
	for _, m := range tickerPattern.FindAllStringSubmatch(query, -1) {
		if tickerStopwords[m[1]] {
			continue
		}
		out = append(out, m[1])
		if len(out) == maxTickers {
			break
		}
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
