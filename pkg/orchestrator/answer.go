package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/platinummonkey/finmcp/pkg/tools"
)

const (
	answerExampleCount = 3
	answerSymbolCount  = 5
	textSummaryLimit   = 500
	helpChunkSize      = 50
)

// Answer statuses
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// FinalAnswer is the structured synthesis of every tool result of a call
type FinalAnswer struct {
	Status      string         `json:"status"`
	Query       string         `json:"query"`
	ToolsCalled int            `json:"tools_called"`
	Results     map[string]any `json:"results"`
	Message     string         `json:"message"`
	PortfolioID *int64         `json:"portfolio_id,omitempty"`
	Errors      []ToolError    `json:"errors,omitempty"`
}

// ToolError is a failed result as reported in the answer
type ToolError struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
}

type executedTool struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// formattingFailure is the answer when the structured answer cannot be
// encoded
type formattingFailure struct {
	Status        string         `json:"status"`
	Query         string         `json:"query"`
	ToolsCalled   int            `json:"tools_called"`
	Answer        string         `json:"answer"`
	Message       string         `json:"message"`
	ToolsExecuted []executedTool `json:"tools_executed"`
}

// reasoningFailure is the answer when reasoning itself broke down
type reasoningFailure struct {
	Status      string `json:"status"`
	Query       string `json:"query"`
	ToolsCalled int    `json:"tools_called"`
	Answer      string `json:"answer"`
	Message     string `json:"message"`
	Error       string `json:"error"`
}

// BuildFinalAnswer summarizes results. Summaries are keyed by tool name,
// so a tool called twice keeps its last summary.
func BuildFinalAnswer(query string, results []ToolResult) FinalAnswer {
	ans := FinalAnswer{
		Query:       query,
		ToolsCalled: len(results),
		Results:     map[string]any{},
	}
	if len(results) == 0 {
		ans.Status = StatusSuccess
		ans.Message = "Query processed but no tools were called"
		return ans
	}

	var ok, failed int
	for _, r := range results {
		if r.IsError {
			failed++
			ans.Errors = append(ans.Errors, ToolError{Tool: r.ToolName, Error: r.Result})
			continue
		}
		ok++
		summary, err := summarize(r.ToolName, r.Result)
		if err != nil {
			summary = map[string]any{
				"type":        "text",
				"content":     truncate(r.Result, textSummaryLimit),
				"parse_error": err.Error(),
			}
		}
		ans.Results[r.ToolName] = summary
	}

	n := len(results)
	switch {
	case failed == 0:
		ans.Status = StatusSuccess
		ans.Message = fmt.Sprintf("Analysis complete. Retrieved data from %d tool(s).", n)
	case ok > 0:
		ans.Status = StatusPartial
		ans.Message = fmt.Sprintf("Analysis complete with some errors. Partial data retrieved from %d tool(s).", n)
	default:
		ans.Status = StatusError
		ans.Message = fmt.Sprintf("Unable to retrieve data. All %d tool(s) encountered errors.", n)
	}

	if id := ExtractPortfolioID(query); id != nil && *id != 0 {
		ans.PortfolioID = id
	}
	return ans
}

// GenerateFinalAnswer renders the structured answer as indented JSON
func GenerateFinalAnswer(query string, results []ToolResult) (json.RawMessage, error) {
	return encodeAnswer(BuildFinalAnswer(query, results))
}

// finalAnswerWithFallback always produces an answer: a formatting failure
// is reported as a JSON error answer and, failing that, a minimal one
func finalAnswerWithFallback(query string, results []ToolResult, executed []executedTool, callsMade int, encode func(any) (json.RawMessage, error)) json.RawMessage {
	raw, err := encode(BuildFinalAnswer(query, results))
	if err == nil {
		return raw
	}
	raw, err2 := encode(formattingFailure{
		Status:        StatusError,
		Query:         query,
		ToolsCalled:   callsMade,
		Answer:        "Error formatting response: " + err.Error(),
		Message:       "Analysis completed but response formatting failed",
		ToolsExecuted: executed,
	})
	if err2 == nil {
		return raw
	}
	return minimalError(query, err)
}

// failureAnswer reports an error that aborted reasoning
func failureAnswer(query string, callsMade int, cause error, encode func(any) (json.RawMessage, error)) (json.RawMessage, error) {
	return encode(reasoningFailure{
		Status:      StatusError,
		Query:       query,
		ToolsCalled: callsMade,
		Answer:      "An error occurred while processing your query: " + cause.Error(),
		Message:     "Error during analysis",
		Error:       cause.Error(),
	})
}

func minimalError(query string, err error) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"status": StatusError,
		"query":  query,
		"answer": "Error: " + err.Error(),
	})
	return raw
}

func encodeAnswer(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func summarize(tool, text string) (any, error) {
	switch tool {
	case tools.QueryTransactionsName:
		return summarizeTransactions(text), nil
	case tools.AnalyzeRiskMetricsName:
		return summarizeRisk(text), nil
	case tools.MarketSummaryName:
		return summarizeMarket(text)
	default:
		return map[string]any{"type": "text", "content": truncate(text, textSummaryLimit)}, nil
	}
}

func summarizeTransactions(text string) map[string]any {
	var rows []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.HasPrefix(line, "Transaction ID:") {
			rows = append(rows, line)
		}
	}
	if len(rows) == 0 {
		return map[string]any{
			"type":    "transactions",
			"count":   0,
			"message": "No transactions found matching the criteria",
		}
	}

	examples := make([]map[string]string, 0, answerExampleCount)
	for _, line := range rows[:min(len(rows), answerExampleCount)] {
		fields := map[string]string{}
		for _, part := range strings.Split(line, ", ") {
			key, value, ok := strings.Cut(part, ": ")
			if !ok {
				continue
			}
			fields[metricKey(key)] = value
		}
		examples = append(examples, fields)
	}

	out := map[string]any{
		"type":     "transactions",
		"count":    len(rows),
		"examples": examples,
	}
	if len(rows) > answerExampleCount {
		out["remaining"] = len(rows) - answerExampleCount
	}
	return out
}

func summarizeRisk(text string) map[string]any {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	metrics := map[string]any{}
	for i, line := range lines {
		if i == 0 && strings.HasPrefix(line, "Portfolio") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		metrics[metricKey(key)] = metricValue(value)
	}

	out := map[string]any{
		"type":    "risk_metrics",
		"metrics": metrics,
		"raw":     text,
	}
	if m := resultPortfolioPattern.FindStringSubmatch(text); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil && id != 0 {
			out["portfolio_id"] = id
		}
	}
	return out
}

func summarizeMarket(text string) (map[string]any, error) {
	symbols := map[string]map[string]string{}
	var order []string
	var current string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.HasPrefix(line, "Aggregated") {
			break
		}
		if strings.HasPrefix(line, "Market Summary") || !strings.Contains(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "  ") {
			current = strings.TrimSpace(strings.SplitN(line, ":", 2)[0])
			if _, dup := symbols[current]; !dup {
				order = append(order, current)
			}
			symbols[current] = map[string]string{}
			continue
		}
		if current == "" {
			return nil, fmt.Errorf("symbol data before any symbol: %q", strings.TrimSpace(line))
		}
		key, value, _ := strings.Cut(strings.TrimSpace(line), ":")
		symbols[current][strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	shown := map[string]map[string]string{}
	for _, s := range order[:min(len(order), answerSymbolCount)] {
		shown[s] = symbols[s]
	}
	out := map[string]any{
		"type":         "market_data",
		"symbol_count": len(order),
		"symbols":      shown,
	}
	if len(order) > answerSymbolCount {
		out["remaining_symbols"] = len(order) - answerSymbolCount
	}
	return out, nil
}

var nonKeyChars = regexp.MustCompile(`[^a-z0-9]+`)

// metricKey turns a label such as "- Value at Risk (95%)" into
// "value_at_risk_95"
func metricKey(label string) string {
	k := nonKeyChars.ReplaceAllString(strings.ToLower(label), "_")
	return strings.Trim(k, "_")
}

var parenthetical = regexp.MustCompile(`\s*\(.*\)$`)

// metricValue parses numbers out of rendered amounts such as "$1,234.50"
// or "12.5% (annualized)" and keeps anything else as text
func metricValue(s string) any {
	clean := parenthetical.ReplaceAllString(s, "")
	clean = strings.NewReplacer("$", "", ",", "", "%", "").Replace(clean)
	if strings.Contains(clean, ".") {
		if f, err := strconv.ParseFloat(clean, 64); err == nil {
			return f
		}
		return s
	}
	if n, err := strconv.ParseInt(clean, 10, 64); err == nil {
		return n
	}
	return s
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// ThinkingText describes the plan for query
func ThinkingText(query string) string {
	lower := strings.ToLower(query)
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzing your query: '%s'\n\n", query)
	if strings.Contains(lower, "portfolio") || strings.Contains(lower, "risk") {
		b.WriteString("I'll analyze the portfolio risk metrics for you.\n")
	}
	if strings.Contains(lower, "transaction") {
		b.WriteString("I'll query the transaction database with your filters.\n")
	}
	if containsAny(lower, []string{"market", "price", "stock"}) {
		b.WriteString("I'll retrieve market data and price information.\n")
	}
	b.WriteString("\nLet me call the appropriate tools to get this information...")
	return b.String()
}

// HelpMessage lists example queries when nothing in query maps to a tool
func HelpMessage(query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I couldn't determine which tools to use for: '%s'\n\n", query)
	b.WriteString("Here are some example queries I can help with:\n\n")
	b.WriteString("📊 Portfolio Analysis:\n")
	b.WriteString("  • 'Analyze portfolio 1'\n")
	b.WriteString("  • 'What's the risk of portfolio 2?'\n")
	b.WriteString("  • 'Calculate risk for portfolio 1 over 60 days'\n\n")
	b.WriteString("💳 Transactions:\n")
	b.WriteString("  • 'Show transactions for user 5'\n")
	b.WriteString("  • 'Get high risk transactions from last week'\n")
	b.WriteString("  • 'Find transactions over $1000'\n\n")
	b.WriteString("📈 Market Data:\n")
	b.WriteString("  • 'Get market summary for AAPL'\n")
	b.WriteString("  • 'Show me GOOGL and TSLA prices'\n")
	b.WriteString("  • 'Market data for tech stocks'\n\n")
	b.WriteString("Try rephrasing your query using these patterns!")
	return b.String()
}

// chunkText splits s into pieces of at most size runes
func chunkText(s string, size int) []string {
	r := []rune(s)
	chunks := make([]string, 0, len(r)/size+1)
	for i := 0; i < len(r); i += size {
		chunks = append(chunks, string(r[i:min(i+size, len(r))]))
	}
	return chunks
}

// resultText flattens a tool envelope the way the answer reads it
func resultText(res tools.Result) string {
	if res.IsError {
		if len(res.Content) > 0 {
			return res.Content[0].Text
		}
		return "Unknown error occurred"
	}
	var parts []string
	for _, c := range res.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	if len(parts) == 0 {
		return "No results"
	}
	return strings.Join(parts, "\n")
}
