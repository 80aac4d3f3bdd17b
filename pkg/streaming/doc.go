// Package streaming writes reasoning events as Server-Sent Events.
//
// Each event becomes one frame:
//
//	data: {"type":"tool_call","data":{"step_number":2,"tool_name":"get_market_summary",...}}
//
// A start frame carrying the request id opens the stream and the first
// done or error frame closes it.
package streaming
