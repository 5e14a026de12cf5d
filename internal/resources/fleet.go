package resources

import (
	"fmt"
	"time"
)

// AgentRole describes an instance's function within a fleet.
type AgentRole string

const (
	RoleWorker      AgentRole = "worker"
	RoleCoordinator AgentRole = "coordinator"
	RoleSpecialist  AgentRole = "specialist"
	RoleJudge       AgentRole = "judge"
)

// CoordinationMode selects how fleet tasks are distributed.
type CoordinationMode string

const (
	CoordRoundRobin   CoordinationMode = "round-robin"
	CoordBroadcast    CoordinationMode = "broadcast"
	CoordConsensus    CoordinationMode = "consensus"
	CoordHierarchical CoordinationMode = "hierarchical"
)

// ConsensusAlgorithm selects how votes aggregate.
type ConsensusAlgorithm string

const (
	ConsensusMajority ConsensusAlgorithm = "majority"
	ConsensusAll      ConsensusAlgorithm = "all"
	ConsensusJudge    ConsensusAlgorithm = "judge"
)

// ConsensusConfig parameterizes vote aggregation.
type ConsensusConfig struct {
	Algorithm ConsensusAlgorithm `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	MinVotes  int                `yaml:"min_votes,omitempty" json:"min_votes,omitempty"`
	Timeout   Duration           `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// VoteTimeout returns the consensus timeout, defaulting to 2 minutes.
func (c *ConsensusConfig) VoteTimeout() time.Duration {
	if d := c.Timeout.Std(); d > 0 {
		return d
	}
	return 2 * time.Minute
}

// CoordinationConfig declares the fleet's distribution policy.
type CoordinationConfig struct {
	Mode             CoordinationMode `yaml:"mode" json:"mode"`
	Distribution     string           `yaml:"distribution,omitempty" json:"distribution,omitempty"`
	Consensus        *ConsensusConfig `yaml:"consensus,omitempty" json:"consensus,omitempty"`
	FinalAggregation string           `yaml:"final_aggregation,omitempty" json:"final_aggregation,omitempty"`
	// MaxDepth bounds hierarchical subtask recursion.
	MaxDepth int `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
}

// FleetAgent declares one role within a fleet, with a replica count.
// The agent definition comes either inline (Spec) or by reference (ConfigRef).
type FleetAgent struct {
	Name      string     `yaml:"name" json:"name"`
	Role      AgentRole  `yaml:"role,omitempty" json:"role,omitempty"`
	Replicas  int        `yaml:"replicas,omitempty" json:"replicas,omitempty"`
	Spec      *AgentSpec `yaml:"spec,omitempty" json:"spec,omitempty"`
	ConfigRef string     `yaml:"config_ref,omitempty" json:"config_ref,omitempty"`
}

// Count returns the replica count, defaulting to 1.
func (a *FleetAgent) Count() int {
	if a.Replicas <= 0 {
		return 1
	}
	return a.Replicas
}

// FleetSpec declares a collection of agent instances and their coordination.
type FleetSpec struct {
	Agents          []FleetAgent       `yaml:"agents" json:"agents"`
	Coordination    CoordinationConfig `yaml:"coordination" json:"coordination"`
	SharedResources map[string]any     `yaml:"shared_resources,omitempty" json:"shared_resources,omitempty"`
	Communication   map[string]any     `yaml:"communication,omitempty" json:"communication,omitempty"`
	// MaxTasks bounds the number of tracked fleet tasks. Zero means 1000.
	MaxTasks int `yaml:"max_tasks,omitempty" json:"max_tasks,omitempty"`
}

// Fleet is the declarative AgentFleet kind.
type Fleet struct {
	Header `yaml:",inline"`
	Spec   FleetSpec `yaml:"spec" json:"spec"`
}

// TaskLimit returns the tracked-task bound.
func (f *Fleet) TaskLimit() int {
	if f.Spec.MaxTasks <= 0 {
		return 1000
	}
	return f.Spec.MaxTasks
}

// Validate checks the fleet definition.
func (f *Fleet) Validate() error {
	if err := f.Header.Validate(); err != nil {
		return err
	}
	if len(f.Spec.Agents) == 0 {
		return fmt.Errorf("fleet %s: at least one agent is required", f.Name())
	}
	for i, a := range f.Spec.Agents {
		if a.Name == "" {
			return fmt.Errorf("fleet %s: agents[%d] name is required", f.Name(), i)
		}
		switch a.Role {
		case "", RoleWorker, RoleCoordinator, RoleSpecialist, RoleJudge:
		default:
			return fmt.Errorf("fleet %s: agents[%d] unknown role %q", f.Name(), i, a.Role)
		}
		if a.Spec == nil && a.ConfigRef == "" {
			return fmt.Errorf("fleet %s: agents[%d] needs spec or config_ref", f.Name(), i)
		}
	}
	switch f.Spec.Coordination.Mode {
	case CoordRoundRobin, CoordBroadcast, CoordConsensus, CoordHierarchical:
	case "":
		return fmt.Errorf("fleet %s: coordination.mode is required", f.Name())
	default:
		return fmt.Errorf("fleet %s: unknown coordination mode %q", f.Name(), f.Spec.Coordination.Mode)
	}
	if f.Spec.Coordination.Mode == CoordConsensus {
		c := f.Spec.Coordination.Consensus
		if c == nil {
			return fmt.Errorf("fleet %s: consensus config is required for consensus mode", f.Name())
		}
		switch c.Algorithm {
		case ConsensusMajority, ConsensusAll, ConsensusJudge, "":
		default:
			return fmt.Errorf("fleet %s: unknown consensus algorithm %q", f.Name(), c.Algorithm)
		}
		if c.Algorithm == ConsensusJudge && !f.hasRole(RoleJudge) {
			return fmt.Errorf("fleet %s: judge consensus requires an agent with role judge", f.Name())
		}
	}
	if f.Spec.Coordination.Mode == CoordHierarchical && !f.hasRole(RoleCoordinator) {
		return fmt.Errorf("fleet %s: hierarchical mode requires an agent with role coordinator", f.Name())
	}
	return nil
}

func (f *Fleet) hasRole(role AgentRole) bool {
	for _, a := range f.Spec.Agents {
		if a.Role == role {
			return true
		}
	}
	return false
}
