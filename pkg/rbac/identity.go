package rbac

import (
	"context"
	"errors"
)

// TokenValidator decodes a bearer token into an identity
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// Policy governs what happens when a caller presents no credential
type Policy struct {
	AllowUnauthenticated bool
	DefaultRole          string
	// Debug behaves exactly like AllowUnauthenticated
	Debug bool
}

// AllowsAnonymous reports whether missing credentials fall back to the
// anonymous identity
func (p Policy) AllowsAnonymous() bool {
	return p.AllowUnauthenticated || p.Debug
}

func (p Policy) anonymous() Identity {
	role := p.DefaultRole
	if role == "" {
		role = string(RoleViewer)
	}
	return AnonymousIdentity(role)
}

// Resolver turns request contexts into identities. It holds no mutable
// state and is safe for concurrent use.
type Resolver struct {
	validator TokenValidator
	policy    Policy
}

// NewResolver creates a resolver
func NewResolver(validator TokenValidator, policy Policy) *Resolver {
	return &Resolver{validator: validator, policy: policy}
}

// Policy returns the unauthenticated-access policy in force
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve returns the caller identity for rc.
//
// A nil or empty context, or one whose token is empty after stripping the
// Bearer prefix, yields the anonymous identity when the policy allows it and
// ErrAuthRequired otherwise. A present token is always validated and a
// validation failure is reported as ErrInvalidToken.
func (r *Resolver) Resolve(ctx context.Context, rc *RequestContext) (Identity, error) {
	if rc.IsEmpty() {
		if r.policy.AllowsAnonymous() {
			return r.policy.anonymous(), nil
		}
		if rc == nil {
			return Identity{}, authRequired("Authentication context is required")
		}
		return Identity{}, authRequired("Authentication token is required")
	}

	token := rc.BearerToken()
	if token == "" {
		if r.policy.AllowsAnonymous() {
			return r.policy.anonymous(), nil
		}
		return Identity{}, authRequired("Authentication token is required")
	}

	if r.validator == nil {
		return Identity{}, invalidToken(errors.New("no token validator configured"))
	}

	id, err := r.validator.Validate(ctx, token)
	if err != nil {
		return Identity{}, invalidToken(err)
	}
	return id, nil
}

// resolveForGate applies the gate's fallback rules on top of Resolve. A
// present-but-bad token never degrades to anonymous.
func (r *Resolver) resolveForGate(ctx context.Context, rc *RequestContext) (Identity, error) {
	id, err := r.Resolve(ctx, rc)
	if err == nil {
		return id, nil
	}
	if rc.BearerToken() != "" {
		if errors.Is(err, ErrInvalidToken) {
			return Identity{}, err
		}
		return Identity{}, invalidToken(err)
	}
	if !r.policy.AllowsAnonymous() {
		return Identity{}, err
	}
	return r.policy.anonymous(), nil
}
