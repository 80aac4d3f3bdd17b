package auth

import (
	"time"

	"github.com/platinummonkey/finmcp/pkg/rbac"
)

// CreateTestToken issues a development token. Unknown roles are dropped
// and an empty result falls back to viewer.
func CreateTestToken(tm *TokenManager, userID int64, username string, roles []string, email string) (string, error) {
	return CreateTestTokenWithTTL(tm, userID, username, roles, email, tm.TTL())
}

// CreateTestTokenWithTTL is CreateTestToken with an explicit lifetime
func CreateTestTokenWithTTL(tm *TokenManager, userID int64, username string, roles []string, email string, ttl time.Duration) (string, error) {
	if username == "" {
		username = "test_user"
	}

	valid := make([]string, 0, len(roles))
	for _, r := range roles {
		if _, ok := rbac.ParseRole(r); ok {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		valid = []string{string(rbac.RoleViewer)}
	}

	return tm.IssueWithTTL(User{
		ID:       userID,
		Username: username,
		Email:    email,
		Roles:    valid,
	}, ttl)
}

// CreateAdminToken issues an admin token for user 1
func CreateAdminToken(tm *TokenManager) (string, error) {
	return CreateTestToken(tm, 1, "admin", []string{string(rbac.RoleAdmin)}, "")
}

// CreateAnalystToken issues an analyst token for user 2
func CreateAnalystToken(tm *TokenManager) (string, error) {
	return CreateTestToken(tm, 2, "analyst", []string{string(rbac.RoleAnalyst)}, "")
}

// CreateViewerToken issues a viewer token for user 3
func CreateViewerToken(tm *TokenManager) (string, error) {
	return CreateTestToken(tm, 3, "viewer", []string{string(rbac.RoleViewer)}, "")
}
