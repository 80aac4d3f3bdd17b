package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

// Content is one item of a tool result. Only text items are produced.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the MCP tool result envelope
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Text returns a successful single-item result
func Text(s string) Result {
	return Result{Content: []Content{{Type: "text", Text: s}}}
}

// Texts returns a successful result with one item per string
func Texts(items ...string) Result {
	out := Result{Content: make([]Content, 0, len(items))}
	for _, s := range items {
		out.Content = append(out.Content, Content{Type: "text", Text: s})
	}
	return out
}

// ErrorText returns a failed single-item result
func ErrorText(s string) Result {
	return Result{Content: []Content{{Type: "text", Text: s}}, IsError: true}
}

// String joins the text items with newlines
func (r Result) String() string {
	texts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		texts = append(texts, c.Text)
	}
	return strings.Join(texts, "\n")
}

var (
	// ErrToolNotFound is returned for names the registry does not know
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolExecution marks any other failure inside a tool
	ErrToolExecution = errors.New("tool execution failed")
)

// Error is a failure attributed to a named tool
type Error struct {
	Tool string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("Tool '%s': %v", e.Tool, e.Err)
}

// Is matches the error kind
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

func notFound(name string) error {
	return &Error{Tool: name, Kind: ErrToolNotFound, Err: fmt.Errorf("Unknown tool: %s", name)}
}

func executionError(name string, err error) error {
	return &Error{Tool: name, Kind: ErrToolExecution, Err: err}
}

// ErrorResult renders err as the IsError envelope a client sees for tool
// name. RBAC failures keep their own message.
func ErrorResult(name string, err error) Result {
	var (
		authErr *rbac.Error
		valErr  *storage.ValidationError
	)
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ErrorText(fmt.Sprintf("MCP tool error: %v", err))
	case errors.As(err, &authErr):
		return ErrorText(authErr.Message)
	case errors.As(err, &valErr):
		return ErrorText(fmt.Sprintf("Validation error in tool '%s': %s", name, valErr.Message))
	case errors.Is(err, storage.ErrNotFound):
		return ErrorText(fmt.Sprintf("Resource not found in tool '%s': %v", name, err))
	case errors.Is(err, storage.ErrDatabase), errors.Is(err, storage.ErrConnection):
		return ErrorText(fmt.Sprintf("Database error in tool '%s': %v", name, err))
	default:
		var te *Error
		if errors.As(err, &te) && te.Err != nil {
			err = te.Err
		}
		return ErrorText(fmt.Sprintf("Unexpected error in tool '%s': %v", name, err))
	}
}
