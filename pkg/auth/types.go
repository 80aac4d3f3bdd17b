package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// User is the subject a token is issued for
type User struct {
	ID       int64    `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

// Claims is the JWT payload. UserID may be absent when the issuer only
// sets sub, and Roles is decoded loosely since some issuers send a bare
// string.
type Claims struct {
	UserID            *int64      `json:"user_id,omitempty"`
	Username          string      `json:"username,omitempty"`
	PreferredUsername string      `json:"preferred_username,omitempty"`
	Email             string      `json:"email,omitempty"`
	Roles             interface{} `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// roleList normalizes the roles claim: a list is kept (non-strings
// dropped), a single string becomes a one-element list, anything else
// becomes empty
func (c *Claims) roleList() []string {
	switch v := c.Roles.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
