package resources

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// TerminalStatus is the final status a terminal workflow step assigns.
type TerminalStatus string

const (
	TerminalCompleted TerminalStatus = "completed"
	TerminalFailed    TerminalStatus = "failed"
	TerminalCancelled TerminalStatus = "cancelled"
)

// ConditionalNext routes to a step when its condition holds.
type ConditionalNext struct {
	When string `yaml:"when" json:"when"`
	To   string `yaml:"to" json:"to"`
}

// NextSpec is either a bare step name or a list of conditional routes.
type NextSpec struct {
	Simple      string            `json:"simple,omitempty"`
	Conditional []ConditionalNext `json:"conditional,omitempty"`
}

// UnmarshalYAML accepts a scalar step name or a conditional route list.
func (n *NextSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&n.Simple)
	}
	return value.Decode(&n.Conditional)
}

// IsZero reports whether no routing is declared.
func (n *NextSpec) IsZero() bool {
	return n.Simple == "" && len(n.Conditional) == 0
}

// InterruptSpec suspends a step for external input or confirmation.
type InterruptSpec struct {
	Type   string         `yaml:"type" json:"type"` // input | confirm
	Prompt string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Schema map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// WorkflowStep is one step of the step-based Workflow kind.
type WorkflowStep struct {
	Type       string         `yaml:"type" json:"type"`
	Agent      string         `yaml:"agent,omitempty" json:"agent,omitempty"`
	Input      string         `yaml:"input,omitempty" json:"input,omitempty"`
	Next       NextSpec       `yaml:"next,omitempty" json:"next,omitempty"`
	OnError    string         `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	Interrupt  *InterruptSpec `yaml:"interrupt,omitempty" json:"interrupt,omitempty"`
	Branches   []string       `yaml:"branches,omitempty" json:"branches,omitempty"`
	Join       string         `yaml:"join,omitempty" json:"join,omitempty"`
	Timeout    Duration       `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Validation map[string]any `yaml:"validation,omitempty" json:"validation,omitempty"`
	Status     TerminalStatus `yaml:"status,omitempty" json:"status,omitempty"`
	Config     map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// WorkflowSpec is the step-based orchestration surface. It is translated to
// an AgentFlow at load time; the flow engine only ever sees graphs.
type WorkflowSpec struct {
	Entrypoint string                  `yaml:"entrypoint" json:"entrypoint"`
	Steps      map[string]WorkflowStep `yaml:"steps" json:"steps"`
	Config     FlowConfig              `yaml:"config,omitempty" json:"config,omitempty"`
}

// Workflow is the declarative Workflow kind.
type Workflow struct {
	Header `yaml:",inline"`
	Spec   WorkflowSpec `yaml:"spec" json:"spec"`
}

// Validate checks step references.
func (w *Workflow) Validate() error {
	if err := w.Header.Validate(); err != nil {
		return err
	}
	if len(w.Spec.Steps) == 0 {
		return fmt.Errorf("workflow %s: steps are required", w.Name())
	}
	if w.Spec.Entrypoint == "" {
		return fmt.Errorf("workflow %s: entrypoint is required", w.Name())
	}
	if _, ok := w.Spec.Steps[w.Spec.Entrypoint]; !ok {
		return fmt.Errorf("workflow %s: entrypoint %q is not a step", w.Name(), w.Spec.Entrypoint)
	}
	ref := func(name, via string) error {
		if name == "" {
			return nil
		}
		if _, ok := w.Spec.Steps[name]; !ok {
			return fmt.Errorf("workflow %s: %s references unknown step %q", w.Name(), via, name)
		}
		return nil
	}
	for name, step := range w.Spec.Steps {
		if err := ref(step.Next.Simple, name+".next"); err != nil {
			return err
		}
		for _, c := range step.Next.Conditional {
			if err := ref(c.To, name+".next"); err != nil {
				return err
			}
		}
		if err := ref(step.OnError, name+".on_error"); err != nil {
			return err
		}
		if err := ref(step.Join, name+".join"); err != nil {
			return err
		}
		for _, b := range step.Branches {
			if err := ref(b, name+".branches"); err != nil {
				return err
			}
		}
	}
	return nil
}

// ToFlow translates the step map into an AgentFlow graph. The entrypoint
// becomes the entry node; step names become node ids.
func (w *Workflow) ToFlow() (*Flow, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	flow := &Flow{
		Header: Header{
			APIVersion: APIVersion,
			Kind:       KindAgentFlow,
			Metadata:   w.Metadata,
		},
		Spec: FlowSpec{Config: w.Spec.Config},
	}

	// Entrypoint first, remaining steps in name order for determinism.
	names := make([]string, 0, len(w.Spec.Steps))
	for name := range w.Spec.Steps {
		if name != w.Spec.Entrypoint {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append([]string{w.Spec.Entrypoint}, names...)

	for _, name := range names {
		step := w.Spec.Steps[name]
		node, err := stepToNode(name, step)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", w.Name(), err)
		}
		flow.Spec.Nodes = append(flow.Spec.Nodes, node)

		if step.Next.Simple != "" {
			flow.Spec.Connections = append(flow.Spec.Connections, Connection{From: name, To: step.Next.Simple})
		}
		for _, c := range step.Next.Conditional {
			flow.Spec.Connections = append(flow.Spec.Connections, Connection{From: name, To: c.To, When: c.When})
		}
		for _, b := range step.Branches {
			flow.Spec.Connections = append(flow.Spec.Connections, Connection{From: name, To: b})
		}
		if step.OnError != "" {
			flow.Spec.Connections = append(flow.Spec.Connections, Connection{From: name, To: step.OnError, When: "on_error"})
		}
		if step.Join != "" && len(step.Branches) == 0 {
			// Branch steps converge on the named join.
			flow.Spec.Connections = append(flow.Spec.Connections, Connection{From: name, To: step.Join})
		}
	}

	if err := flow.Validate(); err != nil {
		return nil, err
	}
	return flow, nil
}

func stepToNode(name string, step WorkflowStep) (FlowNode, error) {
	cfg := make(map[string]any, len(step.Config)+4)
	for k, v := range step.Config {
		cfg[k] = v
	}
	if step.Agent != "" {
		cfg["agent"] = step.Agent
	}
	if step.Input != "" {
		cfg["input"] = step.Input
	}
	if step.Timeout.Std() > 0 {
		cfg["timeout"] = step.Timeout.Std().String()
	}
	if step.Interrupt != nil {
		cfg["type"] = step.Interrupt.Type
		cfg["prompt"] = step.Interrupt.Prompt
		if step.Interrupt.Schema != nil {
			cfg["schema"] = step.Interrupt.Schema
		}
	}
	if step.Status != "" {
		cfg["status"] = string(step.Status)
	}

	typ := NodeType(step.Type)
	switch {
	case step.Interrupt != nil:
		typ = NodeApproval
	case len(step.Branches) > 0:
		typ = NodeParallel
	case step.Status != "":
		typ = NodeEnd
	case typ == "":
		if step.Agent != "" {
			typ = NodeAgent
		} else {
			typ = NodeTransform
		}
	}

	switch typ {
	case NodeTransform, NodeAgent, NodeConditional, NodeParallel, NodeJoin,
		NodeWait, NodeHTTP, NodeApproval, NodeEnd, NodeSlack, NodeDiscord:
	default:
		return FlowNode{}, fmt.Errorf("step %q: unknown type %q", name, step.Type)
	}

	return FlowNode{ID: name, Type: typ, Config: cfg}, nil
}
