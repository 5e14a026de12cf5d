package resources

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ToolSource distinguishes where a tool reference resolves.
type ToolSource string

const (
	ToolSourceBuiltin ToolSource = "builtin"
	ToolSourceMCP     ToolSource = "mcp"
)

// ToolSpec references a tool by bare name or by qualified source/server/name
// when multiple MCP servers expose same-named tools.
type ToolSpec struct {
	Source ToolSource `yaml:"source,omitempty" json:"source,omitempty"`
	Server string     `yaml:"server,omitempty" json:"server,omitempty"`
	Name   string     `yaml:"name" json:"name"`
}

// UnmarshalYAML accepts either a bare string or the qualified mapping form.
func (t *ToolSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		t.Name = name
		return nil
	}
	type plain ToolSpec
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = ToolSpec(p)
	return nil
}

// Qualified reports whether the spec pins a source.
func (t ToolSpec) Qualified() bool { return t.Source != "" }

// Ref renders the registry lookup key for this spec.
func (t ToolSpec) Ref() string {
	if t.Source == ToolSourceMCP && t.Server != "" {
		return t.Server + "." + t.Name
	}
	return t.Name
}

// MCPTransportKind selects the MCP transport variant.
type MCPTransportKind string

const (
	MCPTransportStdio MCPTransportKind = "stdio"
	MCPTransportSSE   MCPTransportKind = "sse"
	MCPTransportHTTP  MCPTransportKind = "http"
)

// MCPServerConfig configures one MCP server connection.
type MCPServerConfig struct {
	Name          string            `yaml:"name" json:"name"`
	Transport     MCPTransportKind  `yaml:"transport,omitempty" json:"transport,omitempty"`
	Command       string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args          []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env           map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL           string            `yaml:"url,omitempty" json:"url,omitempty"`
	TimeoutSecs   int               `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty"`
	AutoReconnect bool              `yaml:"auto_reconnect,omitempty" json:"auto_reconnect,omitempty"`
}

// Timeout returns the per-request timeout, defaulting to 30s.
func (c *MCPServerConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Validate checks transport-specific requirements.
func (c *MCPServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("mcp server name is required")
	}
	kind := c.Transport
	if kind == "" {
		kind = MCPTransportStdio
	}
	switch kind {
	case MCPTransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server %s: command is required for stdio transport", c.Name)
		}
	case MCPTransportSSE, MCPTransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("mcp server %s: url is required for %s transport", c.Name, kind)
		}
	default:
		return fmt.Errorf("mcp server %s: unknown transport %q", c.Name, kind)
	}
	return nil
}

// MemoryConfig configures the agent's memory store.
type MemoryConfig struct {
	Backend    string `yaml:"backend,omitempty" json:"backend,omitempty"` // memory | file
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	MaxEntries int    `yaml:"max_entries,omitempty" json:"max_entries,omitempty"`
}

// AgentSpec pairs an LLM with tools, a system prompt, and memory.
type AgentSpec struct {
	Model         string            `yaml:"model" json:"model"`
	Provider      string            `yaml:"provider,omitempty" json:"provider,omitempty"`
	SystemPrompt  string            `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Tools         []ToolSpec        `yaml:"tools,omitempty" json:"tools,omitempty"`
	MCPServers    []MCPServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	Memory        *MemoryConfig     `yaml:"memory,omitempty" json:"memory,omitempty"`
	OutputSchema  json.RawMessage   `yaml:"-" json:"output_schema,omitempty"`
	RawOutSchema  map[string]any    `yaml:"output_schema,omitempty" json:"-"`
	MaxIterations int               `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	Temperature   *float32          `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens     int               `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// Agent is the declarative Agent kind.
type Agent struct {
	Header `yaml:",inline"`
	Spec   AgentSpec `yaml:"spec" json:"spec"`
}

// DefaultMaxIterations bounds the ReAct loop when the spec leaves it unset.
const DefaultMaxIterations = 25

// Iterations returns the configured iteration cap, defaulted.
func (a *Agent) Iterations() int {
	if a.Spec.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return a.Spec.MaxIterations
}

// Validate checks the agent definition.
func (a *Agent) Validate() error {
	if err := a.Header.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Spec.Model) == "" {
		return fmt.Errorf("agent %s: spec.model is required", a.Name())
	}
	for i, ts := range a.Spec.Tools {
		if strings.TrimSpace(ts.Name) == "" {
			return fmt.Errorf("agent %s: tools[%d] name is required", a.Name(), i)
		}
		if ts.Source == ToolSourceMCP && ts.Server == "" && len(a.Spec.MCPServers) > 1 {
			return fmt.Errorf("agent %s: tools[%d] (%s) needs a server with multiple mcp_servers", a.Name(), i, ts.Name)
		}
	}
	seen := map[string]bool{}
	for _, srv := range a.Spec.MCPServers {
		if err := srv.Validate(); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name(), err)
		}
		if seen[srv.Name] {
			return fmt.Errorf("agent %s: duplicate mcp server %q", a.Name(), srv.Name)
		}
		seen[srv.Name] = true
	}
	if a.Spec.RawOutSchema != nil {
		data, err := json.Marshal(a.Spec.RawOutSchema)
		if err != nil {
			return fmt.Errorf("agent %s: invalid output_schema: %w", a.Name(), err)
		}
		a.Spec.OutputSchema = data
	}
	return nil
}
