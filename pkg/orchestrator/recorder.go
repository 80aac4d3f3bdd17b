package orchestrator

import (
	"sync"
	"time"
)

// ToolRecorder receives one record per executed tool call
type ToolRecorder interface {
	RecordToolCall(tool string, d time.Duration, success bool, errMsg string)
}

// ToolCallRecord is one entry of a CallLog
type ToolCallRecord struct {
	Tool     string        `json:"tool"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// CallLog collects the tool calls of one request
type CallLog struct {
	mu      sync.Mutex
	records []ToolCallRecord
}

func (l *CallLog) RecordToolCall(tool string, d time.Duration, success bool, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, ToolCallRecord{Tool: tool, Duration: d, Success: success, Error: errMsg})
}

// Records returns a copy of the calls recorded so far
func (l *CallLog) Records() []ToolCallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ToolCallRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Failed counts unsuccessful calls
func (l *CallLog) Failed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if !r.Success {
			n++
		}
	}
	return n
}
