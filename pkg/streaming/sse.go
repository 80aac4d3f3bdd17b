package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/platinummonkey/finmcp/pkg/orchestrator"
)

var (
	// ErrStreamingUnsupported is returned when the response cannot be flushed
	ErrStreamingUnsupported = errors.New("streaming not supported")
	// ErrStreamClosed is returned for frames written after a terminal event
	ErrStreamClosed = errors.New("stream closed")
)

// FrameStart opens every stream
const FrameStart = "start"

const doneMessage = "Reasoning complete"

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SSEWriter frames reasoning events as Server-Sent Events. Frames are
// written in call order and flushed one by one. The first done or error
// event closes the stream.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	frames int
}

// NewSSEWriter sets the event-stream headers on w. It does not write the
// status line, so callers can still reply with an error.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Start writes the opening frame
func (s *SSEWriter) Start(query, requestID string) error {
	return s.WriteFrame(FrameStart, map[string]any{
		"message":    "Starting reasoning",
		"query":      query,
		"request_id": requestID,
	}, false)
}

// Send writes one engine event. It has the shape of the engine's emit
// callback. Tool calls go out without their arguments and tool results
// carry only a success flag.
func (s *SSEWriter) Send(ev orchestrator.Event) error {
	return s.WriteFrame(string(ev.Type), eventData(ev), ev.Terminal())
}

// SendError closes the stream with an error frame
func (s *SSEWriter) SendError(message string) error {
	return s.WriteFrame(string(orchestrator.EventError), map[string]any{"message": message}, true)
}

// Closed reports whether a terminal frame was written
func (s *SSEWriter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Frames counts the frames written so far
func (s *SSEWriter) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// WriteFrame writes `data: {"type":typ,"data":data}` and flushes it
func (s *SSEWriter) WriteFrame(typ string, data any, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}

	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(frame{Type: typ, Data: data}); err != nil {
		return fmt.Errorf("encode %s frame: %w", typ, err)
	}
	buf.WriteString("\n")

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s frame: %w", typ, err)
	}
	s.flusher.Flush()
	s.frames++
	if terminal {
		s.closed = true
	}
	return nil
}

func eventData(ev orchestrator.Event) map[string]any {
	data := map[string]any{"step_number": ev.StepNumber}
	switch ev.Type {
	case orchestrator.EventThinking:
		data["content"] = ev.Content
	case orchestrator.EventToolCall:
		data["tool_name"] = ev.ToolName
		data["message"] = ev.Content
	case orchestrator.EventToolResult:
		data["tool_name"] = ev.ToolName
		data["success"] = ev.IsError == nil || !*ev.IsError
		data["message"] = ev.Content
	case orchestrator.EventAnswer:
		data["content"] = asObject(ev.Content)
	case orchestrator.EventError:
		data["message"] = ev.Content
	case orchestrator.EventDone:
		data["final_answer"] = asObject(ev.FinalAnswer)
		calls := 0
		if ev.ToolCallsMade != nil {
			calls = *ev.ToolCallsMade
		}
		data["tool_calls_made"] = calls
		data["message"] = doneMessage
	default:
		data["content"] = ev.Content
	}
	return data
}

// asObject keeps answers as JSON objects on the wire: encoded answers pass
// through and plain text is wrapped as {"text": ...}
func asObject(v any) any {
	switch c := v.(type) {
	case nil:
		return map[string]any{}
	case json.RawMessage:
		if len(c) == 0 {
			return map[string]any{}
		}
		return c
	case string:
		if c == "" {
			return map[string]any{}
		}
		if json.Valid([]byte(c)) && len(c) > 0 && c[0] == '{' {
			return json.RawMessage(c)
		}
		return map[string]any{"text": c}
	default:
		return c
	}
}
