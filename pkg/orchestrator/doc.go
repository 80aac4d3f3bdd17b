// Package orchestrator turns a free-text financial question into tool
// calls, runs them and synthesizes one structured JSON answer.
//
// Planning is keyword and regex driven. The first turn comes from
// ParseQuery; later turns come from a ChainFunc that reads earlier results,
// by default DetermineChainedTools, which follows a portfolio risk report
// with a market summary of the portfolio's holdings. A call runs at most
// MaxTurns turns.
//
// Reason reports progress as a stream of events:
//
//	engine := orchestrator.NewEngine(registry, orchestrator.StoreHoldings{Store: store})
//	err := engine.Reason(ctx, orchestrator.Request{Query: q, Auth: rc, IncludeThinking: true},
//		func(ev orchestrator.Event) error { return sse.Send(ev) })
//
// Tool failures, including permission denials, become failed results in
// the answer. Unless the context is cancelled or emit fails, the stream
// always ends in a single done event.
package orchestrator
