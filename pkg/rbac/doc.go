// Package rbac provides role-based access control for the financial tool server.
//
// # Overview
//
// Three built-in roles map onto a fixed set of permissions:
//
//	viewer   - read:market_data
//	analyst  - viewer + read:user_transactions, read:user_portfolios, read:risk_metrics
//	admin    - every permission
//
// The mapping is immutable and monotone: every viewer permission is held by
// analyst and every analyst permission is held by admin.
//
// # Resolving callers
//
// A Resolver turns a RequestContext into an Identity using a TokenValidator
// and a Policy. When the policy allows unauthenticated access, a missing or
// empty credential resolves to the anonymous identity (user 0) with the
// configured default role. A credential that is present but fails
// validation is always rejected.
//
//	resolver := rbac.NewResolver(tokens, rbac.Policy{DefaultRole: "viewer"})
//	grant, err := resolver.Authorize(ctx, rc, rbac.AnyPermission(
//		rbac.PermReadTransactions,
//		rbac.PermReadUserTransactions,
//	))
//
// # Ownership
//
// User-scoped reads pass through EnforceUserAccess, which lets admins read
// any user's data, analysts only their own and viewers none.
//
// # Errors
//
// All failures are *Error values whose Kind is one of the sentinel errors
// (ErrAuthRequired, ErrInvalidToken, ErrNoValidRoles, ErrAccessDenied,
// ErrMissingPermissions). HTTPStatus maps them onto 401 or 403.
package rbac
