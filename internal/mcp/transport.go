package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aof-dev/aof/internal/resources"
)

// ErrTransportClosed is returned to pending waiters when the connection is
// lost or closed.
var ErrTransportClosed = errors.New("mcp: transport closed")

// Transport moves JSON-RPC messages to and from one server.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error

	// Call sends a request and waits for the correlated response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Events delivers server notifications.
	Events() <-chan *JSONRPCNotification

	Connected() bool
}

// NewTransport builds a transport from the server config. SSE servers speak
// the HTTP transport, which listens on the /sse endpoint for notifications.
func NewTransport(name string, cfg *resources.MCPServerConfig) Transport {
	switch cfg.Transport {
	case resources.MCPTransportHTTP, resources.MCPTransportSSE:
		return NewHTTPTransport(name, cfg)
	default:
		return NewStdioTransport(name, cfg)
	}
}
