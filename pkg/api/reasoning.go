package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/finmcp/pkg/auth"
	"github.com/platinummonkey/finmcp/pkg/httputil"
	"github.com/platinummonkey/finmcp/pkg/middleware"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/orchestrator"
	"github.com/platinummonkey/finmcp/pkg/streaming"
)

// Query length bounds for the reasoning endpoint
const (
	MinQueryLength = 1
	MaxQueryLength = 2000
)

// ReasoningRequest is the body of POST /api/v1/reasoning
type ReasoningRequest struct {
	Query  string `json:"query"`
	UserID *int64 `json:"user_id,omitempty"`

	// IncludeThinking defaults to true when omitted
	IncludeThinking *bool `json:"include_thinking,omitempty"`
}

func (req ReasoningRequest) thinking() bool {
	return req.IncludeThinking == nil || *req.IncludeThinking
}

// handleReasoning streams one reasoning call as SSE. The credential was
// validated by RequireCredential, so from here on every failure is
// reported inside the stream.
func (s *Server) handleReasoning(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReasoningRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.LengthBetween(req.Query, "query", MinQueryLength, MaxQueryLength),
		httputil.Positive(req.UserID, "user_id"),
	) {
		return
	}

	sse, err := streaming.NewSSEWriter(w)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	requestID := observability.GetRequestID(ctx)
	if s.audit != nil {
		var userID *int64
		if id, ok := middleware.IdentityFrom(ctx); ok {
			userID = &id.UserID
		}
		if err := s.audit.LogFromRequest(r, userID, auth.ActionReasoningStart, auth.ResourceReasoning, requestID, auth.StatusSuccess, nil); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
		}
	}

	log := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"query_length":     len(req.Query),
		"include_thinking": req.thinking(),
	})
	ctx = observability.WithLogger(ctx, log)

	if err := sse.Start(req.Query, requestID); err != nil {
		log.WithError(err).Warn("client went away before the stream started")
		return
	}

	calls := &orchestrator.CallLog{}
	start := time.Now()
	err = s.engine.Reason(ctx, orchestrator.Request{
		Query:           req.Query,
		UserID:          req.UserID,
		Auth:            middleware.RequestContextFrom(ctx),
		IncludeThinking: req.thinking(),
		Recorder:        calls,
	}, sse.Send)

	log = log.WithFields(map[string]interface{}{
		"tool_calls":  len(calls.Records()),
		"tool_errors": calls.Failed(),
		"frames":      sse.Frames(),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	switch {
	case err == nil:
		log.Info("reasoning stream completed")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.WithError(err).Info("reasoning stream cancelled")
	default:
		log.WithError(err).Error("reasoning stream failed")
		if !sse.Closed() {
			if sendErr := sse.SendError("Streaming error: " + err.Error()); sendErr != nil {
				log.WithError(sendErr).Warn("failed to send error frame")
			}
		}
	}
}
