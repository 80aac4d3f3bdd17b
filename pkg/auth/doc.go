// Package auth issues and validates the JWT bearer tokens used by the
// financial tool server.
//
// # Tokens
//
// Tokens are HS256-signed JWTs carrying user_id, sub, username, email and
// roles. Validation pins the signing method, requires an expiry and
// requires either user_id or a numeric sub:
//
//	tm, err := auth.NewTokenManager(cfg.Auth.JWTSecret, auth.WithTTL(30*time.Minute))
//	token, err := tm.Issue(auth.User{ID: 2, Username: "analyst_user", Roles: []string{"analyst"}})
//	id, err := tm.Validate(ctx, "Bearer "+token)
//
// TokenManager implements rbac.TokenValidator and is what the server hands
// to rbac.NewResolver.
//
// # Fixtures
//
// CreateAdminToken, CreateAnalystToken and CreateViewerToken issue tokens for
// users 1, 2 and 3. They back the finmcp-token command and the tests.
//
// # Audit
//
// AuditLogger emits security events (tool access, auth failures, rate
// limiting) as structured log lines tagged component=audit.
package auth
