package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/platinummonkey/finmcp/pkg/contextkeys"
	"github.com/platinummonkey/finmcp/pkg/httputil"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/rbac"
)

// Messages returned by RequireCredential
const (
	MsgTokenRequired = "Unauthorized: Authorization token is required"
	MsgInvalidToken  = "Unauthorized: Invalid or expired token"
)

// CredentialMiddleware copies the Authorization header into an
// rbac.RequestContext on the request context. It never rejects a request;
// the RBAC gate decides what a missing credential means.
func CredentialMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := &rbac.RequestContext{Authorization: r.Header.Get("Authorization")}
		ctx := contextkeys.WithRequestContext(r.Context(), rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestContextFrom returns the credential stored by CredentialMiddleware.
// It returns nil when the middleware did not run.
func RequestContextFrom(ctx context.Context) *rbac.RequestContext {
	rc, _ := contextkeys.GetRequestContext(ctx).(*rbac.RequestContext)
	return rc
}

// IdentityFrom returns the identity stored by RequireCredential
func IdentityFrom(ctx context.Context) (rbac.Identity, bool) {
	id, ok := contextkeys.GetIdentity(ctx).(rbac.Identity)
	return id, ok
}

// RequireCredential demands an Authorization header and validates it before
// the handler runs, so streaming endpoints can still answer 401 instead of
// failing mid-stream. The resolved identity is stored in the context.
func RequireCredential(resolver *rbac.Resolver, metrics *observability.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rc := RequestContextFrom(ctx)
			if rc == nil {
				rc = &rbac.RequestContext{Authorization: r.Header.Get("Authorization")}
				ctx = contextkeys.WithRequestContext(ctx, rc)
			}

			if rc.IsEmpty() {
				metrics.AuthFailure(rbac.FailureLabel(rbac.ErrAuthRequired))
				httputil.WriteUnauthorized(w, MsgTokenRequired)
				return
			}

			id, err := resolver.Resolve(ctx, rc)
			if err != nil {
				metrics.AuthFailure(rbac.FailureLabel(err))
				observability.FromContext(ctx).WithError(err).Warn("credential rejected")
				httputil.WriteUnauthorized(w, MsgInvalidToken)
				return
			}

			ctx = contextkeys.WithIdentity(ctx, id)
			ctx = observability.WithUserID(ctx, strconv.FormatInt(id.UserID, 10))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
