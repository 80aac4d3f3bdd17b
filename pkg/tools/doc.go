// Package tools implements the MCP tool registry: query_transactions,
// analyze_risk_metrics and get_market_summary.
//
// Every tool declares an rbac.Requirement and a JSON Schema for its
// arguments. The registry authorizes the caller, validates the arguments
// and only then executes, so each tool receives the resolved grant
// explicitly:
//
//	reg, err := tools.NewFinancialRegistry(resolver, store,
//		tools.WithRecorder(recorder),
//		tools.WithAuditLogger(audit))
//	res, err := reg.Call(ctx, "get_market_summary",
//		map[string]any{"symbols": []string{"AAPL"}}, &rbac.RequestContext{Token: token})
//
// Results are always rendered text. Call folds failures into IsError
// results; CallDirect returns them as typed errors for transport mapping.
package tools
