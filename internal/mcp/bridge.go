package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aof-dev/aof/internal/tools"
	"github.com/aof-dev/aof/pkg/models"
)

// Bridge exposes one client's remote tools as a tool source. Plugged into a
// composite registry under the server's name, bare lookups hit the first
// server advertising the tool and "server.tool" references pin one server.
type Bridge struct {
	client *Client
}

// NewBridge wraps a client as a tool source.
func NewBridge(client *Client) *Bridge {
	return &Bridge{client: client}
}

// Get resolves a remote tool by its bare name.
func (b *Bridge) Get(name string) (tools.Tool, bool) {
	for _, remote := range b.client.Tools() {
		if remote.Name == name {
			return &bridgedTool{client: b.client, tool: remote}, true
		}
	}
	return nil, false
}

// List returns definitions for the cached manifest.
func (b *Bridge) List() []tools.Definition {
	remotes := b.client.Tools()
	defs := make([]tools.Definition, 0, len(remotes))
	for _, remote := range remotes {
		tool := &bridgedTool{client: b.client, tool: remote}
		defs = append(defs, tools.Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return defs
}

// bridgedTool adapts one remote tool to the Tool interface.
type bridgedTool struct {
	client *Client
	tool   *RemoteTool
}

func (t *bridgedTool) Name() string { return t.tool.Name }

func (t *bridgedTool) Description() string {
	if t.tool.Description == "" {
		return fmt.Sprintf("MCP tool %s.%s", t.client.Name(), t.tool.Name)
	}
	return t.tool.Description
}

func (t *bridgedTool) Schema() json.RawMessage {
	if len(t.tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.tool.InputSchema
}

// Timeout reports the server's per-request budget so the tool executor's
// wrapper matches the transport deadline.
func (t *bridgedTool) Timeout() time.Duration {
	return t.client.RequestTimeout()
}

func (t *bridgedTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	text, structured, isError, err := t.client.CallTool(ctx, t.tool.Name, params)
	if err != nil {
		return nil, err
	}
	if isError {
		return models.ErrorResult(text, 0), nil
	}
	if structured != nil {
		return &models.ToolResult{Success: true, Data: structured}, nil
	}
	return models.TextResult(text, 0), nil
}
