package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aof-dev/aof/internal/resources"
)

// State is the client connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateClosing      State = "closing"
)

// Reconnect backoff bounds.
const (
	reconnectInitial = 1 * time.Second
	reconnectFactor  = 2
	reconnectMax     = 30 * time.Second
)

// Client manages one MCP server session: handshake, cached capabilities,
// tool calls, and reconnection when the transport drops.
type Client struct {
	name      string
	config    *resources.MCPServerConfig
	logger    *slog.Logger
	transport Transport

	mu         sync.RWMutex
	state      State
	tools      []*RemoteTool
	serverInfo ServerInfo

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	reconnectWG  sync.WaitGroup

	// newTransport is swappable for tests.
	newTransport func() Transport
}

// NewClient creates a client for the named server.
func NewClient(name string, cfg *resources.MCPServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		name:       name,
		config:     cfg,
		logger:     logger.With("mcp_server", name),
		state:      StateDisconnected,
		shutdownCh: make(chan struct{}),
	}
	c.newTransport = func() Transport { return NewTransport(name, cfg) }
	return c
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// RequestTimeout is the per-request budget from the server config, zero when
// unset.
func (c *Client) RequestTimeout() time.Duration {
	if c.config != nil && c.config.TimeoutSecs > 0 {
		return time.Duration(c.config.TimeoutSecs) * time.Second
	}
	return 0
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect establishes the transport, performs the initialize handshake, and
// caches the tool manifest. On later transport loss the client reconnects
// with bounded exponential backoff when auto_reconnect is set.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	if c.config.AutoReconnect {
		c.reconnectWG.Add(1)
		go c.supervise()
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	c.setState(StateConnecting)
	transport := c.newTransport()
	if err := transport.Connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("transport connect: %w", err)
	}

	c.setState(StateInitializing)
	result, err := transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"roots": map[string]any{"listChanged": true},
		},
		"clientInfo": map[string]any{
			"name":    "aof",
			"version": "1.0.0",
		},
	})
	if err != nil {
		transport.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		transport.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("parse initialize result: %w", err)
	}

	if err := transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	tools, err := listTools(ctx, transport)
	if err != nil {
		c.logger.Warn("tools/list failed", "error", err)
	}

	c.mu.Lock()
	c.transport = transport
	c.serverInfo = initResult.ServerInfo
	c.tools = tools
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info("connected to mcp server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion,
		"tools", len(tools))
	return nil
}

func listTools(ctx context.Context, transport Transport) ([]*RemoteTool, error) {
	result, err := transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse tools/list: %w", err)
	}
	return resp.Tools, nil
}

// supervise watches the transport and reconnects with backoff until
// Shutdown.
func (c *Client) supervise() {
	defer c.reconnectWG.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdownCh:
			return
		case <-ticker.C:
		}

		c.mu.RLock()
		transport := c.transport
		state := c.state
		c.mu.RUnlock()
		if state != StateReady || (transport != nil && transport.Connected()) {
			continue
		}

		c.setState(StateDisconnected)
		c.logger.Warn("connection lost, reconnecting")

		delay := reconnectInitial
		for {
			select {
			case <-c.shutdownCh:
				return
			case <-time.After(delay):
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout())
			err := c.connect(ctx)
			cancel()
			if err == nil {
				break
			}
			c.logger.Warn("reconnect failed", "error", err, "next_delay", delay)
			delay *= reconnectFactor
			if delay > reconnectMax {
				delay = reconnectMax
			}
		}
	}
}

// ServerInfo returns the remote server identity from the handshake.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Tools returns the cached manifest from the last successful handshake.
func (c *Client) Tools() []*RemoteTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// RefreshTools re-fetches the tool manifest.
func (c *Client) RefreshTools(ctx context.Context) error {
	c.mu.RLock()
	transport := c.transport
	c.mu.RUnlock()
	if transport == nil {
		return ErrTransportClosed
	}
	tools, err := listTools(ctx, transport)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return nil
}

// CallTool invokes a remote tool and flattens the content blocks: text
// blocks concatenate, the first structured block becomes the data payload.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, json.RawMessage, bool, error) {
	c.mu.RLock()
	transport := c.transport
	state := c.state
	c.mu.RUnlock()
	if transport == nil || state != StateReady {
		return "", nil, false, fmt.Errorf("mcp server %s not ready (state %s)", c.name, state)
	}

	result, err := transport.Call(ctx, "tools/call", CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		if ctx.Err() != nil {
			// Best effort: tell the server the caller went away.
			notifyCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			transport.Notify(notifyCtx, "notifications/cancelled", map[string]any{
				"reason": "caller cancelled",
			})
			cancel()
		}
		return "", nil, false, err
	}

	var callResult CallToolResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return "", nil, false, fmt.Errorf("parse tools/call result: %w", err)
	}

	var texts []string
	var structured json.RawMessage
	for _, block := range callResult.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "json":
			if structured == nil && len(block.JSON) > 0 {
				structured = block.JSON
			}
		}
	}
	return strings.Join(texts, "\n"), structured, callResult.IsError, nil
}

// Shutdown sends the close notification, stops reconnection, and tears the
// transport down. Safe to call more than once.
func (c *Client) Shutdown() error {
	var err error
	c.shutdownOnce.Do(func() {
		c.setState(StateClosing)
		close(c.shutdownCh)

		c.mu.RLock()
		transport := c.transport
		c.mu.RUnlock()
		if transport != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			transport.Notify(ctx, "shutdown", nil)
			cancel()
			err = transport.Close()
		}
		c.reconnectWG.Wait()
		c.setState(StateDisconnected)
	})
	return err
}
