package rbac

import (
	"sort"
	"strings"
)

// Role is one of the closed set of built-in roles
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// AllRoles returns every recognized role, most privileged first
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleAnalyst, RoleViewer}
}

// ParseRole maps a role string onto a Role. Unknown strings are rejected.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleAnalyst, RoleViewer:
		return Role(s), true
	default:
		return "", false
	}
}

// Permission is a capability token of the form action:resource
type Permission string

const (
	PermReadMarketData       Permission = "read:market_data"
	PermReadTransactions     Permission = "read:transactions"
	PermReadUserTransactions Permission = "read:user_transactions"
	PermReadPortfolios       Permission = "read:portfolios"
	PermReadUserPortfolios   Permission = "read:user_portfolios"
	PermReadRiskMetrics      Permission = "read:risk_metrics"
	PermReadAllData          Permission = "read:all_data"
	PermWriteAllData         Permission = "write:all_data"
)

// KnownPermissions returns every permission in declaration order
func KnownPermissions() []Permission {
	return []Permission{
		PermReadMarketData,
		PermReadTransactions,
		PermReadUserTransactions,
		PermReadPortfolios,
		PermReadUserPortfolios,
		PermReadRiskMetrics,
		PermReadAllData,
		PermWriteAllData,
	}
}

// rolePermissions is fixed for the lifetime of the process. Callers only
// ever see copies.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermReadMarketData,
	},
	RoleAnalyst: {
		PermReadMarketData,
		PermReadUserTransactions,
		PermReadUserPortfolios,
		PermReadRiskMetrics,
	},
	RoleAdmin: KnownPermissions(),
}

// PermissionsFor returns the permissions granted to a role
func PermissionsFor(role Role) PermissionSet {
	set := make(PermissionSet)
	for _, p := range rolePermissions[role] {
		set[p] = struct{}{}
	}
	return set
}

// PermissionsForRoles returns the union of permissions granted to roles
func PermissionsForRoles(roles []Role) PermissionSet {
	set := make(PermissionSet)
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			set[p] = struct{}{}
		}
	}
	return set
}

// HasRole reports whether role appears in roles
func HasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// PermissionSet is an unordered set of permissions
type PermissionSet map[Permission]struct{}

// Has reports whether p is in the set
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the set members in lexical order
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Identity is a resolved caller. It is produced per call and never stored.
type Identity struct {
	UserID   int64    `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// AnonymousIdentity returns the identity used when unauthenticated access
// is allowed
func AnonymousIdentity(defaultRole string) Identity {
	return Identity{
		UserID:   0,
		Username: "anonymous",
		Email:    "",
		Roles:    []string{defaultRole},
	}
}

// ValidRoles returns the identity's roles that are recognized, dropping the rest
func (id Identity) ValidRoles() []Role {
	out := make([]Role, 0, len(id.Roles))
	for _, s := range id.Roles {
		if r, ok := ParseRole(s); ok {
			out = append(out, r)
		}
	}
	return out
}

// RequestContext carries the caller's credential into an operation. A nil
// pointer or a value with both fields empty means no context was supplied.
type RequestContext struct {
	Token         string `json:"token,omitempty"`
	Authorization string `json:"authorization,omitempty"`
}

// IsEmpty reports whether the context carries no credential fields
func (rc *RequestContext) IsEmpty() bool {
	return rc == nil || (rc.Token == "" && rc.Authorization == "")
}

// BearerToken returns the credential with any leading "Bearer " removed.
// Token takes precedence over Authorization.
func (rc *RequestContext) BearerToken() string {
	if rc == nil {
		return ""
	}
	raw := rc.Token
	if raw == "" {
		raw = rc.Authorization
	}
	return strings.TrimPrefix(raw, "Bearer ")
}

// rolesToStrings is used when building error messages
func rolesToStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func permsToStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
