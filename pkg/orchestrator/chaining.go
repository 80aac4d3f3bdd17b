package orchestrator

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/platinummonkey/finmcp/pkg/storage"
	"github.com/platinummonkey/finmcp/pkg/tools"
)

var (
	resultPortfolioPattern = regexp.MustCompile(`(?i)Portfolio\s+(\d+)`)
	resultUserPattern      = regexp.MustCompile(`(?i)(?:User|user_id):\s*(\d+)`)
	resultSymbolPattern    = regexp.MustCompile(`^([A-Z]{2,5}):`)
)

// HoldingsSource resolves a portfolio's asset symbols
type HoldingsSource interface {
	PortfolioSymbols(ctx context.Context, portfolioID int64) ([]string, error)
}

// StoreHoldings reads holdings straight from the portfolio store. The
// lookup is not permission gated: the risk result it follows already was.
type StoreHoldings struct {
	Store storage.PortfolioReader
}

func (h StoreHoldings) PortfolioSymbols(ctx context.Context, portfolioID int64) ([]string, error) {
	p, err := h.Store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	return p.Symbols(), nil
}

// ChainFunc decides the tool calls of the next turn from the results so
// far. An empty return ends the loop.
type ChainFunc func(ctx context.Context, query string, turn, all []ToolResult) []ToolCall

// ExtractEntities scans successful results for data a later call can use
func (e *Engine) ExtractEntities(ctx context.Context, results []ToolResult) ExtractedEntities {
	var out ExtractedEntities
	for _, r := range results {
		if r.IsError {
			continue
		}
		switch r.ToolName {
		case tools.AnalyzeRiskMetricsName:
			if symbols := e.portfolioSymbols(ctx, r.Result); len(symbols) > 0 {
				out.PortfolioSymbols = symbols
			}
		case tools.QueryTransactionsName:
			if ids := userIDsFromText(r.Result); len(ids) > 0 {
				out.TransactionUserIDs = ids
			}
		case tools.MarketSummaryName:
			if symbols := symbolsFromText(r.Result); len(symbols) > 0 {
				out.MarketSymbols = symbols
			}
		}
	}
	return out
}

// portfolioSymbols recovers the portfolio id from a risk report and looks
// up its holdings. Lookup failures yield no symbols.
func (e *Engine) portfolioSymbols(ctx context.Context, text string) []string {
	if e.holdings == nil {
		return nil
	}
	m := resultPortfolioPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	symbols, err := e.holdings.PortfolioSymbols(ctx, id)
	if err != nil {
		e.logger.WithError(err).WithField("portfolio_id", id).Debug("holdings lookup failed")
		return nil
	}
	return symbols
}

func userIDsFromText(text string) []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, m := range resultUserPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func symbolsFromText(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := resultSymbolPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || tickerStopwords[m[1]] || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	sort.Strings(out)
	return out
}

// DetermineChainedTools is the default ChainFunc. A risk report in this
// turn, for a query that asks about market data, is followed by a market
// summary of the portfolio's holdings unless those exact symbols were
// already summarized.
func (e *Engine) DetermineChainedTools(ctx context.Context, query string, turn, all []ToolResult) []ToolCall {
	if !containsAny(strings.ToLower(query), chainKeywords) {
		return nil
	}
	hasRisk := false
	for _, r := range turn {
		if r.ToolName == tools.AnalyzeRiskMetricsName {
			hasRisk = true
			break
		}
	}
	if !hasRisk {
		return nil
	}

	symbols := e.ExtractEntities(ctx, all).PortfolioSymbols
	if len(symbols) == 0 {
		return nil
	}
	for _, r := range all {
		if r.ToolName == tools.MarketSummaryName && sameSymbols(symbolArg(r.Arguments), symbols) {
			return nil
		}
	}
	return []ToolCall{{
		Name:      tools.MarketSummaryName,
		Arguments: map[string]any{"symbols": symbols, "period": defaultMarketSpan},
	}}
}

// symbolArg reads the symbols argument of a prior call, which may have
// been planned in Go or decoded from JSON
func symbolArg(args map[string]any) []string {
	switch v := args["symbols"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func sameSymbols(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[strings.ToUpper(s)] = true
	}
	other := make(map[string]bool, len(b))
	for _, s := range b {
		other[strings.ToUpper(s)] = true
	}
	if len(set) != len(other) {
		return false
	}
	for s := range other {
		if !set[s] {
			return false
		}
	}
	return true
}
