package models

import "time"

// ActivityType is the closed set of activity event types emitted by executors.
type ActivityType string

const (
	ActivityThinking      ActivityType = "thinking"
	ActivityAnalyzing     ActivityType = "analyzing"
	ActivityLLMCall       ActivityType = "llm_call"
	ActivityLLMWaiting    ActivityType = "llm_waiting"
	ActivityLLMResponse   ActivityType = "llm_response"
	ActivityToolDiscovery ActivityType = "tool_discovery"
	ActivityToolExecuting ActivityType = "tool_executing"
	ActivityToolComplete  ActivityType = "tool_complete"
	ActivityToolFailed    ActivityType = "tool_failed"
	ActivityMemory        ActivityType = "memory"
	ActivityMCPCall       ActivityType = "mcp_call"
	ActivityValidation    ActivityType = "validation"
	ActivityWarning       ActivityType = "warning"
	ActivityError         ActivityType = "error"
	ActivityInfo          ActivityType = "info"
	ActivityStarted       ActivityType = "started"
	ActivityCompleted     ActivityType = "completed"
	ActivityCancelled     ActivityType = "cancelled"
)

// TokenUsage records input/output token counts for an LLM call.
type TokenUsage struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// ActivityDetails carries optional structured data on an activity event.
type ActivityDetails struct {
	Tool       string      `json:"tool,omitempty"`
	Args       string      `json:"args,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
	Tokens     *TokenUsage `json:"tokens,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// ActivityEvent is a typed observation emitted by executors for logging and
// UIs. Events never affect control flow and may be dropped under load.
type ActivityEvent struct {
	Type      ActivityType    `json:"type"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Details   ActivityDetails `json:"details,omitempty"`
}

// NewActivity creates an activity event stamped with the current time.
func NewActivity(typ ActivityType, message string) *ActivityEvent {
	return &ActivityEvent{Type: typ, Message: message, Timestamp: time.Now()}
}

// WithTool attaches tool name and truncated arguments.
func (e *ActivityEvent) WithTool(tool, args string) *ActivityEvent {
	e.Details.Tool = tool
	e.Details.Args = args
	return e
}

// WithDuration attaches a duration in milliseconds.
func (e *ActivityEvent) WithDuration(d time.Duration) *ActivityEvent {
	e.Details.DurationMS = d.Milliseconds()
	return e
}

// WithTokens attaches token usage.
func (e *ActivityEvent) WithTokens(in, out int) *ActivityEvent {
	e.Details.Tokens = &TokenUsage{In: in, Out: out}
	return e
}

// WithError attaches an error message.
func (e *ActivityEvent) WithError(err error) *ActivityEvent {
	if err != nil {
		e.Details.Error = err.Error()
	}
	return e
}
