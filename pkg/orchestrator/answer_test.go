package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/finmcp/pkg/risk"
	"github.com/platinummonkey/finmcp/pkg/tools"
)

func decodeAnswer(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func transactionText(n int) string {
	lines := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		lines = append(lines, fmt.Sprintf("Transaction ID: %d, User: 2, Amount: 10.5 USD, Category: Dining, Risk: 0.2, Date: 2024-06-01T10:00:00Z", i))
	}
	return strings.Join(lines, "\n")
}

func TestBuildFinalAnswer_Transactions(t *testing.T) {
	ans := BuildFinalAnswer("recent transactions", []ToolResult{{ToolName: tools.QueryTransactionsName, Result: transactionText(5)}})

	assert.Equal(t, StatusSuccess, ans.Status)
	assert.Equal(t, 1, ans.ToolsCalled)
	assert.Equal(t, "Analysis complete. Retrieved data from 1 tool(s).", ans.Message)
	assert.Nil(t, ans.PortfolioID)
	assert.Empty(t, ans.Errors)

	summary := ans.Results[tools.QueryTransactionsName].(map[string]any)
	assert.Equal(t, "transactions", summary["type"])
	assert.Equal(t, 5, summary["count"])
	assert.Equal(t, 2, summary["remaining"])

	examples := summary["examples"].([]map[string]string)
	require.Len(t, examples, 3)
	assert.Equal(t, map[string]string{
		"transaction_id": "1",
		"user":           "2",
		"amount":         "10.5 USD",
		"category":       "Dining",
		"risk":           "0.2",
		"date":           "2024-06-01T10:00:00Z",
	}, examples[0])
}

func TestBuildFinalAnswer_NoTransactions(t *testing.T) {
	ans := BuildFinalAnswer("q", []ToolResult{{ToolName: tools.QueryTransactionsName, Result: "No transactions found matching the criteria"}})
	assert.Equal(t, map[string]any{
		"type":    "transactions",
		"count":   0,
		"message": "No transactions found matching the criteria",
	}, ans.Results[tools.QueryTransactionsName])
}

func TestBuildFinalAnswer_RiskMetrics(t *testing.T) {
	report := tools.FormatRiskReport(7, "30 days", risk.Metrics{
		PortfolioValue: 1234567.891,
		Volatility:     0.2345,
		SharpeRatio:    1.234,
		ValueAtRisk95:  -1234.567,
		AverageReturn:  0.1,
		MaxDrawdown:    -0.0567,
		Level:          risk.LevelModerate,
	})

	ans := BuildFinalAnswer("Analyze portfolio 7", []ToolResult{{ToolName: tools.AnalyzeRiskMetricsName, Result: report}})
	require.NotNil(t, ans.PortfolioID)
	assert.Equal(t, int64(7), *ans.PortfolioID)

	summary := ans.Results[tools.AnalyzeRiskMetricsName].(map[string]any)
	assert.Equal(t, "risk_metrics", summary["type"])
	assert.Equal(t, report, summary["raw"])
	assert.Equal(t, int64(7), summary["portfolio_id"])
	assert.Equal(t, map[string]any{
		"portfolio_value":    1234567.89,
		"time_period":        "30 days",
		"volatility":         23.45,
		"sharpe_ratio":       1.23,
		"value_at_risk_95":   -1234.57,
		"average_return":     10.0,
		"maximum_drawdown":   -5.67,
		"overall_risk_level": "MODERATE",
	}, summary["metrics"])
}

func TestBuildFinalAnswer_Market(t *testing.T) {
	var b strings.Builder
	b.WriteString("Market Summary:\n\n")
	for _, s := range []string{"AAPL", "AMZN", "GOOGL", "META", "MSFT", "TSLA"} {
		fmt.Fprintf(&b, "%s:\n  Current Price: $1.00\n  Data Points: 3\n\n", s)
	}
	b.WriteString("\n\nAggregated by week:\nPeriod: 2024-05-06 00:00:00+00:00\n  Avg Price: $1.00\n")

	ans := BuildFinalAnswer("market", []ToolResult{{ToolName: tools.MarketSummaryName, Result: b.String()}})
	summary := ans.Results[tools.MarketSummaryName].(map[string]any)
	assert.Equal(t, "market_data", summary["type"])
	assert.Equal(t, 6, summary["symbol_count"])
	assert.Equal(t, 1, summary["remaining_symbols"])

	symbols := summary["symbols"].(map[string]map[string]string)
	assert.Len(t, symbols, 5)
	assert.NotContains(t, symbols, "TSLA")
	assert.NotContains(t, symbols, "Period")
	assert.Equal(t, map[string]string{"Current Price": "$1.00", "Data Points": "3"}, symbols["AAPL"])
}

func TestBuildFinalAnswer_ParseFailureFallsBackToText(t *testing.T) {
	text := "Market Summary:\n\n  Current Price: $1.00"
	ans := BuildFinalAnswer("market", []ToolResult{{ToolName: tools.MarketSummaryName, Result: text}})

	summary := ans.Results[tools.MarketSummaryName].(map[string]any)
	assert.Equal(t, "text", summary["type"])
	assert.Equal(t, text, summary["content"])
	assert.Contains(t, summary["parse_error"], "symbol data before any symbol")
	assert.Equal(t, StatusSuccess, ans.Status)
}

func TestBuildFinalAnswer_UnknownToolTruncates(t *testing.T) {
	long := strings.Repeat("é", 600)
	ans := BuildFinalAnswer("q", []ToolResult{{ToolName: "other", Result: long}})
	summary := ans.Results["other"].(map[string]any)
	content := summary["content"].(string)
	assert.Equal(t, 503, utf8.RuneCountInString(content))
	assert.True(t, strings.HasSuffix(content, "..."))
}

func TestBuildFinalAnswer_Statuses(t *testing.T) {
	ok := ToolResult{ToolName: tools.QueryTransactionsName, Result: transactionText(1)}
	bad := ToolResult{ToolName: tools.MarketSummaryName, Result: "Database error in tool 'get_market_summary': boom", IsError: true}

	partial := BuildFinalAnswer("q", []ToolResult{ok, bad})
	assert.Equal(t, StatusPartial, partial.Status)
	assert.Equal(t, "Analysis complete with some errors. Partial data retrieved from 2 tool(s).", partial.Message)
	assert.Equal(t, []ToolError{{Tool: tools.MarketSummaryName, Error: bad.Result}}, partial.Errors)
	assert.Contains(t, partial.Results, tools.QueryTransactionsName)
	assert.NotContains(t, partial.Results, tools.MarketSummaryName)

	failed := BuildFinalAnswer("q", []ToolResult{bad, bad})
	assert.Equal(t, StatusError, failed.Status)
	assert.Equal(t, "Unable to retrieve data. All 2 tool(s) encountered errors.", failed.Message)
	assert.Len(t, failed.Errors, 2)

	empty := BuildFinalAnswer("q", nil)
	assert.Equal(t, StatusSuccess, empty.Status)
	assert.Equal(t, 0, empty.ToolsCalled)
	assert.Equal(t, "Query processed but no tools were called", empty.Message)
}

func TestGenerateFinalAnswer_JSON(t *testing.T) {
	raw, err := GenerateFinalAnswer("Analyze portfolio 3 <now> & later", []ToolResult{
		{ToolName: tools.MarketSummaryName, Result: "boom", IsError: true},
	})
	require.NoError(t, err)

	assert.Contains(t, string(raw), "\n  \"status\": \"error\"")
	assert.Contains(t, string(raw), "<now> & later")

	got := decodeAnswer(t, raw)
	assert.Equal(t, 3.0, got["portfolio_id"])
	assert.Equal(t, map[string]any{}, got["results"])
	assert.Equal(t, []any{map[string]any{"tool": tools.MarketSummaryName, "error": "boom"}}, got["errors"])

	keys := []string{`"status"`, `"query"`, `"tools_called"`, `"results"`, `"message"`, `"portfolio_id"`, `"errors"`}
	last := -1
	for _, k := range keys {
		idx := strings.Index(string(raw), k)
		require.Greater(t, idx, last, k)
		last = idx
	}
}

func TestFinalAnswerWithFallback(t *testing.T) {
	results := []ToolResult{{ToolName: tools.QueryTransactionsName, Result: transactionText(1)}}
	executed := []executedTool{{Name: tools.QueryTransactionsName, Success: true}}

	t.Run("structured answer", func(t *testing.T) {
		raw := finalAnswerWithFallback("q", results, executed, 1, encodeAnswer)
		assert.Equal(t, StatusSuccess, decodeAnswer(t, raw)["status"])
	})

	t.Run("formatting failure", func(t *testing.T) {
		encode := func(v any) (json.RawMessage, error) {
			if _, ok := v.(FinalAnswer); ok {
				return nil, errors.New("unsupported value")
			}
			return encodeAnswer(v)
		}
		got := decodeAnswer(t, finalAnswerWithFallback("q", results, executed, 1, encode))
		assert.Equal(t, "error", got["status"])
		assert.Equal(t, 1.0, got["tools_called"])
		assert.Equal(t, "Error formatting response: unsupported value", got["answer"])
		assert.Equal(t, "Analysis completed but response formatting failed", got["message"])
		assert.Equal(t, []any{map[string]any{"name": tools.QueryTransactionsName, "success": true}}, got["tools_executed"])
	})

	t.Run("encoder unusable", func(t *testing.T) {
		encode := func(any) (json.RawMessage, error) { return nil, errors.New("no encoder") }
		got := decodeAnswer(t, finalAnswerWithFallback("q", results, executed, 1, encode))
		assert.Equal(t, map[string]any{"status": "error", "query": "q", "answer": "Error: no encoder"}, got)
	})
}

func TestMetricValue(t *testing.T) {
	assert.Equal(t, 1234.5, metricValue("$1,234.50"))
	assert.Equal(t, int64(42), metricValue("42"))
	assert.Equal(t, 12.5, metricValue("12.5% (annualized)"))
	assert.Equal(t, "HIGH", metricValue("HIGH"))
	assert.Equal(t, "1.2.3", metricValue("1.2.3"))
}

func TestMetricKey(t *testing.T) {
	assert.Equal(t, "value_at_risk_95", metricKey("- Value at Risk (95%)"))
	assert.Equal(t, "transaction_id", metricKey("Transaction ID"))
}

func TestThinkingText(t *testing.T) {
	got := ThinkingText("Analyze portfolio 1 transactions and market")
	assert.Equal(t, "Analyzing your query: 'Analyze portfolio 1 transactions and market'\n\n"+
		"I'll analyze the portfolio risk metrics for you.\n"+
		"I'll query the transaction database with your filters.\n"+
		"I'll retrieve market data and price information.\n"+
		"\nLet me call the appropriate tools to get this information...", got)

	plain := ThinkingText("hello")
	assert.Equal(t, "Analyzing your query: 'hello'\n\n\nLet me call the appropriate tools to get this information...", plain)
}

func TestHelpMessageChunks(t *testing.T) {
	help := HelpMessage("Gibberish")
	assert.True(t, strings.HasPrefix(help, "I couldn't determine which tools to use for: 'Gibberish'\n\n"))
	assert.Contains(t, help, "📊 Portfolio Analysis:\n  • 'Analyze portfolio 1'\n")
	assert.True(t, strings.HasSuffix(help, "Try rephrasing your query using these patterns!"))

	chunks := chunkText(help, helpChunkSize)
	assert.Equal(t, help, strings.Join(chunks, ""))
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		if i < len(chunks)-1 {
			assert.Equal(t, helpChunkSize, utf8.RuneCountInString(c))
		}
	}
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "a\nb", resultText(tools.Texts("a", "b")))
	assert.Equal(t, "denied", resultText(tools.ErrorText("denied")))
	assert.Equal(t, "Unknown error occurred", resultText(tools.Result{IsError: true}))
	assert.Equal(t, "No results", resultText(tools.Result{}))
}
