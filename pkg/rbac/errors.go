package rbac

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel error kinds. Use errors.Is against these.
var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNoValidRoles       = errors.New("no valid roles")
	ErrAccessDenied       = errors.New("access denied")
	ErrMissingPermissions = errors.New("missing permissions")
)

// Error is an authorization failure with a user-facing message
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the error kind
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func authRequired(msg string) error {
	return &Error{Kind: ErrAuthRequired, Message: msg}
}

func invalidToken(cause error) error {
	msg := "Invalid or expired authentication token"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Error{Kind: ErrInvalidToken, Message: msg, Cause: cause}
}

func noValidRoles() error {
	return &Error{Kind: ErrNoValidRoles, Message: "User has no valid roles"}
}

func roleDenied(required, actual []Role) error {
	return &Error{
		Kind: ErrAccessDenied,
		Message: fmt.Sprintf("Access denied. Required roles: [%s], User roles: [%s]",
			strings.Join(rolesToStrings(required), ", "),
			strings.Join(rolesToStrings(actual), ", ")),
	}
}

func ownershipDenied(current, target int64) error {
	return &Error{
		Kind:    ErrAccessDenied,
		Message: fmt.Sprintf("Access denied. User %d cannot access data for user %d", current, target),
	}
}

func missingPermissions(missing []Permission) error {
	return &Error{
		Kind:    ErrMissingPermissions,
		Message: fmt.Sprintf("Missing required permissions: [%s]", strings.Join(permsToStrings(missing), ", ")),
	}
}

// IsAuthError reports whether err is any RBAC failure
func IsAuthError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// HTTPStatus maps an error onto a transport status code
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrMissingPermissions), errors.Is(err, ErrNoValidRoles):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// FailureLabel buckets an authorization failure for metrics: 401-class
// errors are "unauthenticated", everything else "forbidden"
func FailureLabel(err error) string {
	if HTTPStatus(err) == http.StatusUnauthorized {
		return "unauthenticated"
	}
	return "forbidden"
}
