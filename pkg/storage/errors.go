package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrDatabase marks failures of the underlying database
	ErrDatabase = errors.New("database error")
	// ErrConnection marks failures to reach the database at all
	ErrConnection = errors.New("database connection failed")
)

// ValidationError reports a rejected query parameter
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a validation error for field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// NotFoundf wraps ErrNotFound with a formatted message
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// QueryError wraps a driver error as ErrDatabase with context
func QueryError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", ErrDatabase, op, err)
}
