package tools

import "strings"

// backend is one named source in a composite chain.
type backend struct {
	name   string
	source Source
}

// Composite chains multiple tool sources, typically the builtin registry plus
// one bridge per MCP server. On a bare name the first backend advertising it
// wins; "backend.tool" references resolve against that backend only.
type Composite struct {
	backends []backend
}

// NewComposite creates an empty composite. Backends resolve in Add order.
func NewComposite() *Composite {
	return &Composite{}
}

// Add appends a named backend to the chain.
func (c *Composite) Add(name string, source Source) {
	c.backends = append(c.backends, backend{name: name, source: source})
}

// Get resolves a name. A "backend.tool" form targets one backend; otherwise
// the chain is scanned in order.
func (c *Composite) Get(name string) (Tool, bool) {
	if backendName, toolName, ok := strings.Cut(name, "."); ok {
		for _, b := range c.backends {
			if b.name == backendName {
				return b.source.Get(toolName)
			}
		}
		// No backend with that prefix: fall through, the dot may be part
		// of the tool's own name.
	}
	for _, b := range c.backends {
		if tool, ok := b.source.Get(name); ok {
			return tool, true
		}
	}
	return nil, false
}

// List merges definitions across backends. A name shadowed by an earlier
// backend is re-listed under its qualified "backend.tool" form so every tool
// stays reachable.
func (c *Composite) List() []Definition {
	seen := make(map[string]bool)
	var defs []Definition
	for _, b := range c.backends {
		for _, def := range b.source.List() {
			if seen[def.Name] {
				def.Name = b.name + "." + def.Name
			}
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			defs = append(defs, def)
		}
	}
	return defs
}
