package resources

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses human-friendly duration strings ("30s", "5m") from YAML.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or an integer second count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// NodeType identifies what a flow node does.
type NodeType string

const (
	NodeTransform   NodeType = "transform"
	NodeAgent       NodeType = "agent"
	NodeConditional NodeType = "conditional"
	NodeParallel    NodeType = "parallel"
	NodeJoin        NodeType = "join"
	NodeWait        NodeType = "wait"
	NodeHTTP        NodeType = "http"
	NodeApproval    NodeType = "approval"
	NodeEnd         NodeType = "end"
	NodeSlack       NodeType = "slack"
	NodeDiscord     NodeType = "discord"
)

// FlowNode is one vertex of an AgentFlow DAG.
type FlowNode struct {
	ID         string         `yaml:"id" json:"id"`
	Type       NodeType       `yaml:"type" json:"type"`
	Config     map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Conditions map[string]any `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// ConfigString reads a string value from node config.
func (n *FlowNode) ConfigString(key string) string {
	if n.Config == nil {
		return ""
	}
	v, _ := n.Config[key].(string)
	return v
}

// ConfigBool reads a bool value from node config.
func (n *FlowNode) ConfigBool(key string) bool {
	if n.Config == nil {
		return false
	}
	v, _ := n.Config[key].(bool)
	return v
}

// Connection is a directed edge between two nodes, optionally guarded by a
// condition expression evaluated against flow state.
type Connection struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// BackoffStrategy selects how retry delays grow.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryConfig bounds node retries within a flow.
type RetryConfig struct {
	MaxAttempts  int             `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	Backoff      BackoffStrategy `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	InitialDelay Duration        `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty"`
	MaxDelay     Duration        `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
}

// Delay returns the wait before the given retry attempt (1-based).
func (r *RetryConfig) Delay(attempt int) time.Duration {
	initial := r.InitialDelay.Std()
	if initial <= 0 {
		initial = time.Second
	}
	var d time.Duration
	switch r.Backoff {
	case BackoffLinear:
		d = initial * time.Duration(attempt)
	case BackoffExponential:
		d = initial << (attempt - 1)
	default:
		d = initial
	}
	if max := r.MaxDelay.Std(); max > 0 && d > max {
		d = max
	}
	return d
}

// CheckpointFrequency selects when checkpoints are written.
type CheckpointFrequency string

const (
	CheckpointStep     CheckpointFrequency = "step"
	CheckpointChange   CheckpointFrequency = "change"
	CheckpointInterval CheckpointFrequency = "interval"
)

// RecoveryConfig controls resume behavior at startup.
type RecoveryConfig struct {
	AutoResume    bool `yaml:"auto_resume,omitempty" json:"auto_resume,omitempty"`
	SkipCompleted bool `yaml:"skip_completed,omitempty" json:"skip_completed,omitempty"`
}

// CheckpointConfig enables state persistence between nodes.
type CheckpointConfig struct {
	Enabled   bool                `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Frequency CheckpointFrequency `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Interval  Duration            `yaml:"interval,omitempty" json:"interval,omitempty"`
	Dir       string              `yaml:"dir,omitempty" json:"dir,omitempty"`
	Recovery  RecoveryConfig      `yaml:"recovery,omitempty" json:"recovery,omitempty"`
}

// ReducerKind selects how state writes combine with existing values.
type ReducerKind string

const (
	ReducerReplace ReducerKind = "replace"
	ReducerAppend  ReducerKind = "append"
	ReducerMerge   ReducerKind = "merge"
	ReducerSum     ReducerKind = "sum"
)

// FlowConfig carries flow-wide execution settings.
type FlowConfig struct {
	Retry         RetryConfig            `yaml:"retry,omitempty" json:"retry,omitempty"`
	Checkpointing CheckpointConfig       `yaml:"checkpointing,omitempty" json:"checkpointing,omitempty"`
	Reducers      map[string]ReducerKind `yaml:"reducers,omitempty" json:"reducers,omitempty"`
	ErrorHandler  string                 `yaml:"error_handler,omitempty" json:"error_handler,omitempty"`
	NodeTimeout   Duration               `yaml:"node_timeout,omitempty" json:"node_timeout,omitempty"`
}

// FlowSpec declares an AgentFlow DAG.
type FlowSpec struct {
	Trigger     string         `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Nodes       []FlowNode     `yaml:"nodes" json:"nodes"`
	Connections []Connection   `yaml:"connections,omitempty" json:"connections,omitempty"`
	Context     map[string]any `yaml:"context,omitempty" json:"context,omitempty"`
	Config      FlowConfig     `yaml:"config,omitempty" json:"config,omitempty"`
}

// Flow is the declarative AgentFlow kind.
type Flow struct {
	Header `yaml:",inline"`
	Spec   FlowSpec `yaml:"spec" json:"spec"`
}

// Node returns the node with the given id.
func (f *Flow) Node(id string) (*FlowNode, bool) {
	for i := range f.Spec.Nodes {
		if f.Spec.Nodes[i].ID == id {
			return &f.Spec.Nodes[i], true
		}
	}
	return nil, false
}

// Entry returns the implicit entry node: "start" if declared, otherwise the
// first node.
func (f *Flow) Entry() (*FlowNode, bool) {
	if n, ok := f.Node("start"); ok {
		return n, true
	}
	if len(f.Spec.Nodes) == 0 {
		return nil, false
	}
	return &f.Spec.Nodes[0], true
}

// Outgoing returns the connections leaving the given node, in declaration order.
func (f *Flow) Outgoing(nodeID string) []Connection {
	var out []Connection
	for _, c := range f.Spec.Connections {
		if c.From == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Validate enforces the graph invariants: every connection endpoint names an
// existing node, the graph is acyclic, and every Parallel node has a Join
// reachable from all of its branches.
func (f *Flow) Validate() error {
	if err := f.Header.Validate(); err != nil {
		return err
	}
	if len(f.Spec.Nodes) == 0 {
		return fmt.Errorf("flow %s: at least one node is required", f.Name())
	}

	ids := make(map[string]*FlowNode, len(f.Spec.Nodes))
	for i := range f.Spec.Nodes {
		n := &f.Spec.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("flow %s: node %d has no id", f.Name(), i)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("flow %s: duplicate node id %q", f.Name(), n.ID)
		}
		ids[n.ID] = n
	}

	for i, c := range f.Spec.Connections {
		if _, ok := ids[c.From]; !ok {
			return fmt.Errorf("flow %s: connection %d references unknown node %q", f.Name(), i, c.From)
		}
		if _, ok := ids[c.To]; !ok {
			return fmt.Errorf("flow %s: connection %d references unknown node %q", f.Name(), i, c.To)
		}
	}

	if cycle := f.findCycle(); cycle != "" {
		return fmt.Errorf("flow %s: cycle detected through node %q", f.Name(), cycle)
	}

	for id, n := range ids {
		if n.Type != NodeParallel {
			continue
		}
		if err := f.checkParallelJoin(id); err != nil {
			return fmt.Errorf("flow %s: %w", f.Name(), err)
		}
	}

	if eh := f.Spec.Config.ErrorHandler; eh != "" {
		if _, ok := ids[eh]; !ok {
			return fmt.Errorf("flow %s: error_handler references unknown node %q", f.Name(), eh)
		}
	}
	return nil
}

// findCycle runs a three-color DFS and returns a node on a cycle, if any.
func (f *Flow) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(f.Spec.Nodes))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, c := range f.Outgoing(id) {
			switch color[c.To] {
			case gray:
				return c.To
			case white:
				if hit := visit(c.To); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, n := range f.Spec.Nodes {
		if color[n.ID] == white {
			if hit := visit(n.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// checkParallelJoin requires a Join node reachable from every branch of the
// parallel node.
func (f *Flow) checkParallelJoin(parallelID string) error {
	branches := f.Outgoing(parallelID)
	if len(branches) == 0 {
		return fmt.Errorf("parallel node %q has no branches", parallelID)
	}

	joinsPerBranch := make([]map[string]bool, len(branches))
	for i, b := range branches {
		joinsPerBranch[i] = f.reachableJoins(b.To)
		if len(joinsPerBranch[i]) == 0 {
			return fmt.Errorf("parallel node %q: branch via %q reaches no join", parallelID, b.To)
		}
	}

	for join := range joinsPerBranch[0] {
		common := true
		for _, set := range joinsPerBranch[1:] {
			if !set[join] {
				common = false
				break
			}
		}
		if common {
			return nil
		}
	}
	return fmt.Errorf("parallel node %q has no join reachable from all branches", parallelID)
}

func (f *Flow) reachableJoins(from string) map[string]bool {
	joins := make(map[string]bool)
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := f.Node(id); ok && n.Type == NodeJoin {
			joins[id] = true
			continue
		}
		for _, c := range f.Outgoing(id) {
			stack = append(stack, c.To)
		}
	}
	return joins
}
