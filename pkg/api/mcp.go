package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/finmcp/pkg/httputil"
	"github.com/platinummonkey/finmcp/pkg/middleware"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/tools"
)

// MCP handshake values
const (
	ServerName      = "financial-mcp-server"
	ProtocolVersion = "2024-11-05"
	jsonRPCVersion  = "2.0"
)

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32000
	CodeUnauthorized   = -32001
)

// MCP methods
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// RPCRequest is a JSON-RPC 2.0 request
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response. ID is null when the request
// carried none.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ToolCallParams are the params of tools/call. A Context carrying a token
// or authorization replaces the Authorization header as the caller
// credential; an empty one is ignored.
type ToolCallParams struct {
	Name      string               `json:"name"`
	Arguments map[string]any       `json:"arguments,omitempty"`
	Context   *rbac.RequestContext `json:"context,omitempty"`
}

// InitializeResult is the result of initialize
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ServerInfo names the server in the handshake
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsListResult is the result of tools/list
type ToolsListResult struct {
	Tools []tools.Definition `json:"tools"`
}

// rpcFailure carries the HTTP status alongside the JSON-RPC error
type rpcFailure struct {
	status int
	err    *RPCError
}

func failure(status, code int, msg string, data any) *rpcFailure {
	return &rpcFailure{status: status, err: &RPCError{Code: code, Message: msg, Data: data}}
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx)

	var req RPCRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeRPC(w, http.StatusBadRequest, RPCResponse{
			JSONRPC: jsonRPCVersion,
			Error:   &RPCError{Code: CodeParseError, Message: "Parse error: invalid JSON in request body"},
		})
		return
	}

	log = log.WithField("mcp_method", req.Method)
	result, fail := s.dispatch(ctx, &req, middleware.RequestContextFrom(ctx))
	if fail != nil {
		log.WithFields(map[string]interface{}{
			"code":   fail.err.Code,
			"status": fail.status,
		}).Warn(fail.err.Message)
		writeRPC(w, fail.status, RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: fail.err})
		return
	}
	writeRPC(w, http.StatusOK, RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, req *RPCRequest, header *rbac.RequestContext) (any, *rpcFailure) {
	switch req.Method {
	case MethodInitialize:
		return s.initializeResult(), nil
	case MethodToolsList:
		if _, err := s.resolver.Resolve(ctx, header); err != nil {
			return nil, authFailure(err)
		}
		return ToolsListResult{Tools: s.registry.Definitions()}, nil
	case MethodToolsCall:
		return s.callTool(ctx, req.Params, header)
	default:
		return nil, failure(http.StatusOK, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
}

func (s *Server) initializeResult() InitializeResult {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      ServerInfo{Name: ServerName, Version: s.opts.Version},
	}
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage, header *rbac.RequestContext) (any, *rpcFailure) {
	var params ToolCallParams
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, failure(http.StatusOK, CodeInvalidParams, "Invalid params: "+err.Error(), nil)
		}
	}
	if params.Name == "" {
		return nil, failure(http.StatusOK, CodeInvalidParams, "Invalid params: tool name is required", nil)
	}

	// a context without token or authorization defers to the header
	rc := header
	if !params.Context.IsEmpty() {
		rc = params.Context
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	res, err := s.registry.CallDirect(ctx, params.Name, params.Arguments, rc)
	if err == nil {
		return res, nil
	}

	switch {
	case rbac.IsAuthError(err):
		return nil, authFailure(err)
	case errors.Is(err, tools.ErrToolExecution):
		return nil, failure(http.StatusOK, CodeInternal, "Internal error: "+err.Error(), nil)
	case ctx.Err() != nil:
		return nil, failure(http.StatusOK, CodeInternal, "Internal error: "+ctx.Err().Error(), nil)
	default:
		// unknown tools, bad arguments and storage failures are reported
		// the way a tool reports its own errors
		return tools.ErrorResult(params.Name, err), nil
	}
}

// authFailure maps an rbac error onto -32001 with a 401 or 403 status
func authFailure(err error) *rpcFailure {
	status := rbac.HTTPStatus(err)
	msg := "Forbidden: Insufficient permissions"
	if status == http.StatusUnauthorized {
		msg = middleware.MsgInvalidToken
		if errors.Is(err, rbac.ErrAuthRequired) {
			msg = middleware.MsgTokenRequired
		}
	}
	return failure(status, CodeUnauthorized, msg, err.Error())
}

func writeRPC(w http.ResponseWriter, status int, resp RPCResponse) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	httputil.WriteJSON(w, status, resp)
}

// MCPInfo is the body of GET /api/v1/mcp/info
type MCPInfo struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	ProtocolVersion string            `json:"protocol_version"`
	Capabilities    map[string]any    `json:"capabilities"`
	Endpoints       map[string]string `json:"endpoints"`
	Usage           map[string]string `json:"usage"`
}

func (s *Server) mcpInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, MCPInfo{
		Name:            ServerName,
		Version:         s.opts.Version,
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
		Endpoints: map[string]string{
			"mcp":   "/api/v1/mcp",
			"tools": "/api/v1/mcp/tools",
			"info":  "/api/v1/mcp/info",
		},
		Usage: map[string]string{
			MethodInitialize: "POST /api/v1/mcp with method: 'initialize'",
			MethodToolsList:  "POST /api/v1/mcp with method: 'tools/list'",
			MethodToolsCall:  "POST /api/v1/mcp with method: 'tools/call'",
		},
	})
}

// listTools serves the definitions without a JSON-RPC envelope. They are
// static and carry no data, so no credential is needed.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, ToolsListResult{Tools: s.registry.Definitions()})
}
