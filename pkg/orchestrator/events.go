package orchestrator

// EventType tags a reasoning event
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventAnswer     EventType = "answer"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Event is one step of a reasoning call. StepNumber starts at 1 and
// strictly increases within a call. Tool results carry only the success
// flag, never the tool output.
type Event struct {
	Type          EventType      `json:"type"`
	StepNumber    int            `json:"step_number"`
	Content       any            `json:"content"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolArguments map[string]any `json:"tool_arguments,omitempty"`
	IsError       *bool          `json:"is_error,omitempty"`
	FinalAnswer   any            `json:"final_answer,omitempty"`
	ToolCallsMade *int           `json:"tool_calls_made,omitempty"`
}

// Terminal reports whether no event may follow e
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// ToolCall is a planned tool invocation
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the rendered outcome of one executed call
type ToolResult struct {
	ToolName  string         `json:"tool_name"`
	Result    string         `json:"result"`
	IsError   bool           `json:"is_error"`
	Arguments map[string]any `json:"arguments"`
}

// ExtractedEntities is what chaining reads out of earlier results
type ExtractedEntities struct {
	PortfolioSymbols   []string `json:"portfolio_symbols"`
	TransactionUserIDs []int64  `json:"transaction_user_ids"`
	MarketSymbols      []string `json:"market_symbols"`
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
