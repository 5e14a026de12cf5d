package resources

import (
	"fmt"
	"time"
)

// ApprovalConfig governs human-in-the-loop approval inside a Context.
type ApprovalConfig struct {
	Required         bool     `yaml:"required,omitempty" json:"required,omitempty"`
	AllowedUsers     []string `yaml:"allowed_users,omitempty" json:"allowed_users,omitempty"`
	TimeoutSeconds   int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	RequireFor       []string `yaml:"require_for,omitempty" json:"require_for,omitempty"`
	MinApprovers     int      `yaml:"min_approvers,omitempty" json:"min_approvers,omitempty"`
	AllowSelfApprove bool     `yaml:"allow_self_approval,omitempty" json:"allow_self_approval,omitempty"`
}

// Timeout returns the approval timeout, defaulting to 5 minutes.
func (a *ApprovalConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// AuditConfig enables audit event delivery for a Context.
type AuditConfig struct {
	Enabled   bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Sink      string   `yaml:"sink,omitempty" json:"sink,omitempty"` // file | sqlite
	Events    []string `yaml:"events,omitempty" json:"events,omitempty"`
	Retention string   `yaml:"retention,omitempty" json:"retention,omitempty"`
}

// LimitsConfig bounds execution under a Context.
type LimitsConfig struct {
	RPM          int     `yaml:"rpm,omitempty" json:"rpm,omitempty"`
	TokensPerDay int     `yaml:"tokens_per_day,omitempty" json:"tokens_per_day,omitempty"`
	Concurrent   int     `yaml:"concurrent,omitempty" json:"concurrent,omitempty"`
	MaxExecTime  int     `yaml:"max_exec_time,omitempty" json:"max_exec_time,omitempty"`
	CostPerDay   float64 `yaml:"cost_per_day,omitempty" json:"cost_per_day,omitempty"`
}

// ContextSpec is the execution environment injected at routing time.
type ContextSpec struct {
	Kubeconfig string            `yaml:"kubeconfig,omitempty" json:"kubeconfig,omitempty"`
	Namespace  string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Cluster    string            `yaml:"cluster,omitempty" json:"cluster,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Approval   ApprovalConfig    `yaml:"approval,omitempty" json:"approval,omitempty"`
	Audit      AuditConfig       `yaml:"audit,omitempty" json:"audit,omitempty"`
	Limits     LimitsConfig      `yaml:"limits,omitempty" json:"limits,omitempty"`
	Secrets    []string          `yaml:"secrets,omitempty" json:"secrets,omitempty"`
}

// Context is the declarative Context kind.
type Context struct {
	Header `yaml:",inline"`
	Spec   ContextSpec `yaml:"spec" json:"spec"`
}

// RequiresApproval reports whether the command text forces human approval
// under this context, either globally or by require_for pattern.
func (c *Context) RequiresApproval(command string) bool {
	if c == nil {
		return false
	}
	if c.Spec.Approval.Required && len(c.Spec.Approval.RequireFor) == 0 {
		return true
	}
	return anyPatternMatches(c.Spec.Approval.RequireFor, command)
}

// Validate checks the context definition.
func (c *Context) Validate() error {
	if err := c.Header.Validate(); err != nil {
		return err
	}
	if c.Spec.Approval.MinApprovers < 0 {
		return fmt.Errorf("context %s: min_approvers cannot be negative", c.Name())
	}
	switch c.Spec.Audit.Sink {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("context %s: unknown audit sink %q", c.Name(), c.Spec.Audit.Sink)
	}
	return nil
}
