// Package agent runs one agent conversation to termination: the loop that
// feeds messages to an LLM provider, executes the tool calls it emits, and
// folds the results back in until the model stops asking for tools.
package agent

import (
	"context"

	"github.com/aof-dev/aof/internal/tools"
	"github.com/aof-dev/aof/pkg/models"
)

// StopReason is the provider's reason for ending a generation.
type StopReason string

const (
	StopEnd       StopReason = "end"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
	StopSafety    StopReason = "safety"
	StopError     StopReason = "error"
)

// ModelRequest is one generation request.
type ModelRequest struct {
	Messages    []models.Message
	System      string
	Tools       []tools.Definition
	Temperature *float32
	MaxTokens   int
}

// Usage is the provider's token accounting for one request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelResponse is one generation result.
type ModelResponse struct {
	Content    string
	ToolCalls  []models.ToolCall
	StopReason StopReason
	Usage      Usage
}

// Provider is an LLM backend. Implementations must be safe for concurrent
// use and must abort in-flight requests when the context is cancelled.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error)
}

// StreamingProvider is implemented by providers that can deliver deltas.
// The returned channel closes after the stop event; the complete response is
// still returned for the non-streaming contract.
type StreamingProvider interface {
	Provider
	Stream(ctx context.Context, req *ModelRequest, deltas chan<- models.StreamEvent) (*ModelResponse, error)
}
