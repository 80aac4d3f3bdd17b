package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/rbac"
)

// AuditLog is one security-relevant event
type AuditLog struct {
	UserID       *int64    `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditLogger writes security audit events as structured log lines
type AuditLogger struct {
	logger *observability.Logger
}

// NewAuditLogger creates an audit logger on top of logger
func NewAuditLogger(logger *observability.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.WithField("component", "audit")}
}

// LogAction records an audit event
func (al *AuditLogger) LogAction(ctx context.Context, log *AuditLog) error {
	if log.Action == "" {
		return fmt.Errorf("action is required")
	}
	if log.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if log.Status == "" {
		return fmt.Errorf("status is required")
	}

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	fields := map[string]interface{}{
		"action":        log.Action,
		"resource_type": log.ResourceType,
		"status":        log.Status,
	}
	if log.UserID != nil {
		fields["audit_user_id"] = *log.UserID
	}
	if log.ResourceID != "" {
		fields["resource_id"] = log.ResourceID
	}
	if log.IPAddress != "" {
		fields["ip_address"] = log.IPAddress
	}
	if log.ErrorMessage != "" {
		fields["error_message"] = log.ErrorMessage
	}

	entry := al.logger.WithFields(fields)
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	if log.Status == StatusSuccess {
		entry.Info("audit event")
	} else {
		entry.Warn("audit event")
	}
	return nil
}

// LogToolAccess records the outcome of a gated tool invocation. err is
// the gate or execution error, if any.
func (al *AuditLogger) LogToolAccess(ctx context.Context, userID *int64, tool string, err error) {
	log := &AuditLog{
		UserID:       userID,
		Action:       ActionToolInvoke,
		ResourceType: ResourceTool,
		ResourceID:   tool,
		Status:       StatusSuccess,
	}
	if err != nil {
		log.ErrorMessage = err.Error()
		log.Status = StatusFailure
		switch {
		case errors.Is(err, rbac.ErrAuthRequired), errors.Is(err, rbac.ErrInvalidToken):
			log.Action = ActionAuthFailure
			log.Status = StatusDenied
		case rbac.IsAuthError(err):
			log.Status = StatusDenied
		}
	}
	_ = al.LogAction(ctx, log)
}

// LogFromRequest creates an audit log from an HTTP request. userID is nil
// for callers that have not been identified.
func (al *AuditLogger) LogFromRequest(r *http.Request, userID *int64, action, resourceType, resourceID, status string, err error) error {
	log := &AuditLog{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ClientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
	}
	if err != nil {
		log.ErrorMessage = err.Error()
	}
	return al.LogAction(r.Context(), log)
}

// ClientIP returns the best guess at the caller address, honoring proxy
// headers
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.IndexByte(forwarded, ','); i >= 0 {
			return strings.TrimSpace(forwarded[:i])
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// Audit actions
const (
	ActionToolInvoke        = "tool.invoke"
	ActionReasoningStart    = "reasoning.start"
	ActionTokenIssue        = "token.issue"
	ActionAuthFailure       = "auth.failure"
	ActionRateLimitExceeded = "ratelimit.exceeded"
)

// Audit resource types
const (
	ResourceTool      = "tool"
	ResourceReasoning = "reasoning"
	ResourceToken     = "token"
	ResourceEndpoint  = "endpoint"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
