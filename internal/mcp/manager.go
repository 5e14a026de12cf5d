package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aof-dev/aof/internal/resources"
)

// Manager owns one client per configured server and hands out bridges for
// registry wiring.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

// Connect starts a client for the named server, reusing an existing one.
func (m *Manager) Connect(ctx context.Context, name string, cfg *resources.MCPServerConfig) (*Client, error) {
	m.mu.Lock()
	if client, ok := m.clients[name]; ok {
		m.mu.Unlock()
		return client, nil
	}
	m.mu.Unlock()

	client := NewClient(name, cfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect mcp server %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.clients[name]; ok {
		client.Shutdown()
		return existing, nil
	}
	m.clients[name] = client
	return client, nil
}

// Client returns the client for a server name.
func (m *Manager) Client(name string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[name]
	return client, ok
}

// Shutdown closes every client.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for _, client := range clients {
		if err := client.Shutdown(); err != nil {
			m.logger.Warn("mcp shutdown", "server", client.Name(), "error", err)
		}
	}
}
