package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/finmcp/pkg/storage"
	"github.com/platinummonkey/finmcp/pkg/storage/storagetest"
	"github.com/platinummonkey/finmcp/pkg/tools"
)

type holdingsFunc func(ctx context.Context, id int64) ([]string, error)

func (f holdingsFunc) PortfolioSymbols(ctx context.Context, id int64) ([]string, error) {
	return f(ctx, id)
}

func holdingsEngine() *Engine {
	store := storagetest.NewStore()
	store.AddPortfolio(storage.Portfolio{ID: 1, UserID: 2, Assets: map[string]storage.Holding{
		"MSFT": {Shares: 1, Price: 400, Value: 400},
		"AAPL": {Shares: 2, Price: 180, Value: 360},
	}})
	return NewEngine(nil, StoreHoldings{Store: store})
}

func riskResult(id string) ToolResult {
	return ToolResult{
		ToolName:  tools.AnalyzeRiskMetricsName,
		Result:    "Portfolio " + id + " Risk Analysis:\n\nPortfolio Value: $760.00\n",
		Arguments: map[string]any{},
	}
}

func TestStoreHoldings(t *testing.T) {
	e := holdingsEngine()
	symbols, err := e.holdings.PortfolioSymbols(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)

	_, err = e.holdings.PortfolioSymbols(context.Background(), 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExtractEntities(t *testing.T) {
	e := holdingsEngine()
	results := []ToolResult{
		riskResult("1"),
		{ToolName: tools.QueryTransactionsName, Result: "Transaction ID: 4, User: 7, Amount: 1.0 USD\nTransaction ID: 3, User: 2, Amount: 2.0 USD\nuser_id: 7"},
		{ToolName: tools.MarketSummaryName, Result: "Market Summary:\n\nMSFT:\n  Current Price: $1.00\nAAPL:\n  Current Price: $2.00\nTHE: x\n"},
		{ToolName: tools.MarketSummaryName, Result: "GOOGL:\n", IsError: true},
	}

	got := e.ExtractEntities(context.Background(), results)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got.PortfolioSymbols)
	assert.Equal(t, []int64{2, 7}, got.TransactionUserIDs)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got.MarketSymbols)
}

func TestExtractEntities_HoldingsFailures(t *testing.T) {
	ctx := context.Background()

	e := holdingsEngine()
	got := e.ExtractEntities(ctx, []ToolResult{riskResult("9")})
	assert.Empty(t, got.PortfolioSymbols)

	failed := riskResult("1")
	failed.IsError = true
	assert.Empty(t, e.ExtractEntities(ctx, []ToolResult{failed}).PortfolioSymbols)

	broken := NewEngine(nil, holdingsFunc(func(context.Context, int64) ([]string, error) {
		return nil, errors.New("connection reset")
	}))
	assert.Empty(t, broken.ExtractEntities(ctx, []ToolResult{riskResult("1")}).PortfolioSymbols)

	noHoldings := NewEngine(nil, nil)
	assert.Empty(t, noHoldings.ExtractEntities(ctx, []ToolResult{riskResult("1")}).PortfolioSymbols)
}

func TestDetermineChainedTools(t *testing.T) {
	ctx := context.Background()
	e := holdingsEngine()
	risk := riskResult("1")
	want := []ToolCall{{
		Name:      tools.MarketSummaryName,
		Arguments: map[string]any{"symbols": []string{"AAPL", "MSFT"}, "period": "day"},
	}}

	t.Run("risk result with market intent", func(t *testing.T) {
		got := e.DetermineChainedTools(ctx, "Analyze portfolio 1 and show market data", []ToolResult{risk}, []ToolResult{risk})
		assert.Equal(t, want, got)
	})

	t.Run("query without chain keyword", func(t *testing.T) {
		got := e.DetermineChainedTools(ctx, "Analyze portfolio 1", []ToolResult{risk}, []ToolResult{risk})
		assert.Empty(t, got)
	})

	t.Run("no risk result in this turn", func(t *testing.T) {
		market := ToolResult{ToolName: tools.MarketSummaryName, Arguments: map[string]any{"symbols": []string{"TSLA"}}}
		got := e.DetermineChainedTools(ctx, "portfolio 1 market", []ToolResult{market}, []ToolResult{risk, market})
		assert.Empty(t, got)
	})

	t.Run("same symbols already summarized", func(t *testing.T) {
		prior := ToolResult{ToolName: tools.MarketSummaryName, Arguments: map[string]any{"symbols": []any{"msft", "AAPL"}}}
		got := e.DetermineChainedTools(ctx, "portfolio 1 stock prices", []ToolResult{risk}, []ToolResult{prior, risk})
		assert.Empty(t, got)
	})

	t.Run("dedup looks past the latest market call", func(t *testing.T) {
		first := ToolResult{ToolName: tools.MarketSummaryName, Arguments: map[string]any{"symbols": []string{"AAPL", "MSFT"}}}
		second := ToolResult{ToolName: tools.MarketSummaryName, Arguments: map[string]any{"symbols": []string{"TSLA"}}}
		got := e.DetermineChainedTools(ctx, "portfolio 1 holdings", []ToolResult{risk}, []ToolResult{first, second, risk})
		assert.Empty(t, got)
	})

	t.Run("different symbols are fetched", func(t *testing.T) {
		prior := ToolResult{ToolName: tools.MarketSummaryName, Arguments: map[string]any{"symbols": []string{"AAPL"}}}
		got := e.DetermineChainedTools(ctx, "portfolio 1 holdings", []ToolResult{risk}, []ToolResult{prior, risk})
		assert.Equal(t, want, got)
	})

	t.Run("portfolio without holdings", func(t *testing.T) {
		other := riskResult("9")
		got := e.DetermineChainedTools(ctx, "portfolio 9 market", []ToolResult{other}, []ToolResult{other})
		assert.Empty(t, got)
	})
}

func TestSameSymbols(t *testing.T) {
	assert.True(t, sameSymbols([]string{"AAPL", "MSFT"}, []string{"MSFT", "aapl"}))
	assert.True(t, sameSymbols([]string{"AAPL", "AAPL"}, []string{"AAPL"}))
	assert.False(t, sameSymbols([]string{"AAPL"}, []string{"AAPL", "MSFT"}))
	assert.False(t, sameSymbols(nil, []string{"AAPL"}))
}
