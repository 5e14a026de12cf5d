// Package resources defines the declarative resource kinds (Agent, AgentFlow,
// AgentFleet, Trigger, Context, FlowBinding, Workflow), their validation, and
// the name-keyed registries they load into.
package resources

import (
	"fmt"
	"strings"
)

// APIVersion is the wire apiVersion accepted for all kinds.
const APIVersion = "aof.dev/v1"

// Resource kinds on the YAML surface.
const (
	KindAgent      = "Agent"
	KindAgentFlow  = "AgentFlow"
	KindAgentFleet = "AgentFleet"
	KindTrigger    = "Trigger"
	KindContext    = "Context"
	KindBinding    = "FlowBinding"
	KindWorkflow   = "Workflow"
)

// Metadata identifies a resource. Name is the primary key within its kind;
// (kind, name) is globally unique.
type Metadata struct {
	Name        string            `yaml:"name" json:"name"`
	Namespace   string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// Header is the common envelope shared by every declarative kind.
type Header struct {
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata" json:"metadata"`
}

// Validate checks the envelope fields.
func (h *Header) Validate() error {
	if h.APIVersion != "" && h.APIVersion != APIVersion {
		return fmt.Errorf("unsupported apiVersion %q (want %s)", h.APIVersion, APIVersion)
	}
	if strings.TrimSpace(h.Metadata.Name) == "" {
		return fmt.Errorf("metadata.name is required")
	}
	return nil
}

// Name returns the resource name.
func (h *Header) Name() string { return h.Metadata.Name }
