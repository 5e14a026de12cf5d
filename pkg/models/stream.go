package models

// StreamEventType identifies the payload of a streaming delta.
type StreamEventType string

const (
	StreamContent       StreamEventType = "content"
	StreamToolCallDelta StreamEventType = "tool_call_delta"
	StreamStop          StreamEventType = "stop"
)

// StreamEvent is a single delta forwarded to a caller-subscribed stream
// channel during an agent run. Tool calls are dispatched only after the
// assistant message is complete, so stream consumers see deltas strictly
// before the corresponding tool activity.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	// ToolCallID and ToolName identify the call a tool_call_delta belongs to.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	// ArgumentsDelta is a partial JSON fragment of the call arguments.
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}
