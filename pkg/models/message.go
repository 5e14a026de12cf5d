package models

import (
	"encoding/json"
	"time"
)

// Platform identifies an inbound event source.
type Platform string

const (
	PlatformCLI      Platform = "cli"
	PlatformSlack    Platform = "slack"
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
	PlatformHTTP     Platform = "http"
	PlatformSchedule Platform = "schedule"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in an agent conversation. Conversations are ordered
// and append-only.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	Success         bool            `json:"success"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
}

// Text returns the result payload as a string for feeding back into the
// conversation. Errors render as the error message.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	if r.Error != "" {
		return r.Error
	}
	if len(r.Data) == 0 {
		return ""
	}
	// Unquote plain JSON strings so the LLM sees raw text.
	var s string
	if err := json.Unmarshal(r.Data, &s); err == nil {
		return s
	}
	return string(r.Data)
}

// TextResult builds a successful ToolResult from plain text.
func TextResult(text string, elapsed time.Duration) *ToolResult {
	data, _ := json.Marshal(text)
	return &ToolResult{Success: true, Data: data, ExecutionTimeMS: elapsed.Milliseconds()}
}

// ErrorResult builds a failed ToolResult from an error message.
func ErrorResult(message string, elapsed time.Duration) *ToolResult {
	return &ToolResult{Success: false, Error: message, ExecutionTimeMS: elapsed.Milliseconds()}
}

// EventMessage is the normalized form of an inbound platform event.
// Concrete webhook parsers produce this; routing consumes it.
type EventMessage struct {
	Platform  Platform       `json:"platform"`
	MessageID string         `json:"message_id,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	User      string         `json:"user,omitempty"`
	Text      string         `json:"text"`
	Thread    string         `json:"thread,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
