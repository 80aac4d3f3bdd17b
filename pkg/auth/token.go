package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/finmcp/pkg/rbac"
)

const (
	// DefaultTokenTTL is the lifetime of issued tokens when none is configured
	DefaultTokenTTL = 30 * time.Minute
	// Algorithm is the only signing method accepted
	Algorithm = "HS256"
)

var (
	ErrTokenRequired     = errors.New("Token is required")
	ErrMissingIdentifier = errors.New("Token missing user identifier")
	ErrEmptySecret       = errors.New("jwt secret must not be empty")
)

// TokenManager issues and validates HS256 JWTs
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenManagerOption customizes a TokenManager
type TokenManagerOption func(*TokenManager)

// WithTTL sets the lifetime of issued tokens
func WithTTL(ttl time.Duration) TokenManagerOption {
	return func(tm *TokenManager) {
		if ttl > 0 {
			tm.ttl = ttl
		}
	}
}

// WithIssuer stamps iss on issued tokens
func WithIssuer(issuer string) TokenManagerOption {
	return func(tm *TokenManager) {
		tm.issuer = issuer
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) TokenManagerOption {
	return func(tm *TokenManager) {
		tm.now = now
	}
}

// NewTokenManager creates a token manager for the given shared secret
func NewTokenManager(secret string, opts ...TokenManagerOption) (*TokenManager, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	tm := &TokenManager{
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm, nil
}

// TTL returns the lifetime of issued tokens
func (tm *TokenManager) TTL() time.Duration {
	return tm.ttl
}

// Issue signs a token for user valid for the configured TTL
func (tm *TokenManager) Issue(user User) (string, error) {
	return tm.IssueWithTTL(user, tm.ttl)
}

// IssueWithTTL signs a token for user valid for ttl
func (tm *TokenManager) IssueWithTTL(user User, ttl time.Duration) (string, error) {
	now := tm.now()
	id := user.ID
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}

	claims := Claims{
		UserID:   &id,
		Username: user.Username,
		Email:    user.Email,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies the signature and expiry of token and maps its claims
// onto an identity. A leading "Bearer " is tolerated.
func (tm *TokenManager) Validate(_ context.Context, token string) (rbac.Identity, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return rbac.Identity{}, ErrTokenRequired
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{Algorithm}),
		jwt.WithTimeFunc(tm.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return rbac.Identity{}, fmt.Errorf("Invalid token: %w", err)
	}
	if !parsed.Valid {
		return rbac.Identity{}, errors.New("Invalid token: token is not valid")
	}

	userID, err := claims.userID()
	if err != nil {
		return rbac.Identity{}, err
	}

	username := claims.Username
	if username == "" {
		username = claims.PreferredUsername
	}

	return rbac.Identity{
		UserID:   userID,
		Username: username,
		Email:    claims.Email,
		Roles:    claims.roleList(),
	}, nil
}

func (c *Claims) userID() (int64, error) {
	if c.UserID != nil {
		return *c.UserID, nil
	}
	if c.Subject == "" {
		return 0, ErrMissingIdentifier
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject %q is not numeric", ErrMissingIdentifier, c.Subject)
	}
	return id, nil
}

var _ rbac.TokenValidator = (*TokenManager)(nil)
