package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"
)

// ErrEmptyBody is returned by ParseJSON for a request without a body
var ErrEmptyBody = errors.New("request body is required")

// ParseJSON decodes JSON from the request body into the destination.
// Trailing data after the first value is rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON: unexpected data after body")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a 422 response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteValidationError(w, err.Error())
		return false
	}
	return true
}

// Validator is a function that validates a value and returns an error message if invalid
type Validator func() (bool, string)

// ValidateAll runs multiple validators and writes the first error
func ValidateAll(w http.ResponseWriter, validators ...Validator) bool {
	for _, validator := range validators {
		if valid, errMsg := validator(); !valid {
			WriteValidationError(w, errMsg)
			return false
		}
	}
	return true
}

// LengthBetween checks that value holds between min and max characters
func LengthBetween(value, fieldName string, minLen, maxLen int) Validator {
	return func() (bool, string) {
		n := utf8.RuneCountInString(value)
		if n < minLen {
			return false, fmt.Sprintf("%s must be at least %d characters", fieldName, minLen)
		}
		if n > maxLen {
			return false, fmt.Sprintf("%s must be at most %d characters", fieldName, maxLen)
		}
		return true, ""
	}
}

// Positive checks an optional integer field; nil passes
func Positive(value *int64, fieldName string) Validator {
	return func() (bool, string) {
		if value != nil && *value <= 0 {
			return false, fmt.Sprintf("%s must be positive", fieldName)
		}
		return true, ""
	}
}
