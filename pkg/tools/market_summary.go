package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

const marketSummarySchema = `{
  "type": "object",
  "properties": {
    "symbols": {
      "type": "array",
      "items": {"type": "string"},
      "description": "List of symbols to include (default: all)"
    },
    "period": {
      "type": "string",
      "enum": ["hour", "day", "week", "month"],
      "description": "Aggregation period",
      "default": "day"
    }
  }
}`

const (
	maxSummarySymbols = 20
	maxSummaryPeriods = 10
	periodLayout      = "2006-01-02 15:04:05-07:00"
)

// MarketSummaryInput are the arguments of get_market_summary
type MarketSummaryInput struct {
	Symbols []string       `json:"symbols,omitempty"`
	Period  storage.Period `json:"period,omitempty"`
}

// MarketSummary reports prices and volumes per symbol and, for coarser
// periods, bucketed history
type MarketSummary struct {
	store storage.MarketDataReader
}

// NewMarketSummary creates the tool over store
func NewMarketSummary(store storage.MarketDataReader) *MarketSummary {
	return &MarketSummary{store: store}
}

func (t *MarketSummary) Definition() Definition {
	return Definition{
		Name:        MarketSummaryName,
		Description: "Retrieve aggregated market data including prices, volumes, and trends for specified symbols",
		InputSchema: json.RawMessage(marketSummarySchema),
	}
}

func (t *MarketSummary) Requirement() rbac.Requirement {
	return rbac.AllPermissions(rbac.PermReadMarketData)
}

func (t *MarketSummary) Execute(ctx context.Context, _ *rbac.Grant, raw json.RawMessage) (Result, error) {
	var in MarketSummaryInput
	if err := decodeArgs(MarketSummaryName, raw, &in); err != nil {
		return Result{}, err
	}
	if in.Period == "" {
		in.Period = storage.PeriodDay
	}
	symbols := make([]string, 0, len(in.Symbols))
	for _, s := range in.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}

	aggs, err := t.store.AggregateBySymbol(ctx, symbols)
	if err != nil {
		return Result{}, err
	}
	found := make([]string, 0, len(aggs))
	for _, a := range aggs {
		found = append(found, a.Symbol)
	}
	prices, err := t.store.LatestPrices(ctx, found)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	b.WriteString("Market Summary:\n\n")
	for i, a := range aggs {
		if i == maxSummarySymbols {
			break
		}
		current, ok := prices[a.Symbol]
		if !ok {
			current = a.AvgPrice
		}
		fmt.Fprintf(&b, "%s:\n", a.Symbol)
		fmt.Fprintf(&b, "  Current Price: $%.2f\n", current)
		fmt.Fprintf(&b, "  Average Price: $%.2f\n", a.AvgPrice)
		fmt.Fprintf(&b, "  Price Range: $%.2f - $%.2f\n", a.MinPrice, a.MaxPrice)
		fmt.Fprintf(&b, "  Average Volume: %s\n", grouped(a.AvgVolume))
		fmt.Fprintf(&b, "  Data Points: %d\n\n", a.Count)
	}
	items := []string{b.String()}

	if in.Period != storage.PeriodDay {
		var symbol string
		if len(symbols) > 0 {
			symbol = symbols[0]
		}
		buckets, err := t.store.AggregateByPeriod(ctx, in.Period, symbol)
		if err != nil {
			return Result{}, err
		}
		if len(buckets) > 0 {
			var pb strings.Builder
			fmt.Fprintf(&pb, "\nAggregated by %s:\n", in.Period)
			for i, p := range buckets {
				if i == maxSummaryPeriods {
					break
				}
				fmt.Fprintf(&pb, "Period: %s\n", p.Period.UTC().Format(periodLayout))
				fmt.Fprintf(&pb, "  Avg Price: $%.2f\n", p.AvgPrice)
				fmt.Fprintf(&pb, "  Total Volume: %s\n\n", grouped(float64(p.TotalVolume)))
			}
			items = append(items, pb.String())
		}
	}
	return Texts(items...), nil
}
