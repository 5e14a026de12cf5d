package safety

import (
	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/pkg/models"
)

// Decision is the outcome of policy evaluation.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require-approval"
	DecisionBlock           Decision = "block"
)

// PlatformPolicy declares which command classes a platform may execute.
// Evaluation order is blocked, approval, allowed; unlisted classes block.
type PlatformPolicy struct {
	Blocked                []Class `yaml:"blocked,omitempty" json:"blocked,omitempty"`
	Approval               []Class `yaml:"approval,omitempty" json:"approval,omitempty"`
	Allowed                []Class `yaml:"allowed,omitempty" json:"allowed,omitempty"`
	BlockedMessage         string  `yaml:"blocked_message,omitempty" json:"blocked_message,omitempty"`
	ApprovalTimeoutMinutes int     `yaml:"approval_timeout_minutes,omitempty" json:"approval_timeout_minutes,omitempty"`
}

// Evaluate returns the decision for a class under this policy.
func (p *PlatformPolicy) Evaluate(class Class) Decision {
	for _, c := range p.Blocked {
		if c == class {
			return DecisionBlock
		}
	}
	for _, c := range p.Approval {
		if c == class {
			return DecisionRequireApproval
		}
	}
	for _, c := range p.Allowed {
		if c == class {
			return DecisionAllow
		}
	}
	// Fall through: unlisted classes are blocked.
	return DecisionBlock
}

const defaultBlockedMessage = "This command is not permitted from this platform."

// DefaultPolicies returns the built-in per-platform policies. CLI is
// permissive, chat platforms gate mutations, messengers and unknown
// platforms are read-only.
func DefaultPolicies() map[models.Platform]PlatformPolicy {
	chat := PlatformPolicy{
		Allowed:                []Class{ClassRead},
		Approval:               []Class{ClassWrite, ClassDelete},
		Blocked:                []Class{ClassDangerous},
		BlockedMessage:         defaultBlockedMessage,
		ApprovalTimeoutMinutes: 10,
	}
	readOnly := PlatformPolicy{
		Allowed:        []Class{ClassRead},
		Blocked:        []Class{ClassWrite, ClassDelete, ClassDangerous},
		BlockedMessage: defaultBlockedMessage,
	}
	return map[models.Platform]PlatformPolicy{
		models.PlatformCLI: {
			Allowed: []Class{ClassRead, ClassWrite, ClassDelete, ClassDangerous},
		},
		models.PlatformSlack:    chat,
		models.PlatformDiscord:  chat,
		models.PlatformTelegram: readOnly,
		models.PlatformWhatsApp: readOnly,
	}
}

// Verdict is the combined outcome of classification and policy for one
// command on one platform.
type Verdict struct {
	Classification  Classification
	Decision        Decision
	BlockedMessage  string
	ApprovalTimeout int // minutes
	// ContextForced reports that the execution context, not the platform
	// policy, demanded approval.
	ContextForced bool
}

// Engine evaluates platform policies over classified commands.
type Engine struct {
	policies map[models.Platform]PlatformPolicy
}

// NewEngine builds an engine from the given policies; nil uses defaults.
// Platforms absent from the map evaluate under a read-only policy.
func NewEngine(policies map[models.Platform]PlatformPolicy) *Engine {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Engine{policies: policies}
}

// Policy returns the policy for a platform, falling back to read-only for
// unknown platforms.
func (e *Engine) Policy(platform models.Platform) PlatformPolicy {
	if p, ok := e.policies[platform]; ok {
		return p
	}
	return PlatformPolicy{
		Allowed:        []Class{ClassRead},
		Blocked:        []Class{ClassWrite, ClassDelete, ClassDangerous},
		BlockedMessage: defaultBlockedMessage,
	}
}

// Check classifies the command and evaluates the platform policy, then
// applies context gating: a Context whose require_for patterns match the
// command upgrades an allow to require-approval.
func (e *Engine) Check(platform models.Platform, command string, execCtx *resources.Context) Verdict {
	classification := Classify(command)
	policy := e.Policy(platform)
	decision := policy.Evaluate(classification.Class)

	verdict := Verdict{
		Classification:  classification,
		Decision:        decision,
		ApprovalTimeout: policy.ApprovalTimeoutMinutes,
	}
	if decision == DecisionBlock {
		verdict.BlockedMessage = policy.BlockedMessage
		if verdict.BlockedMessage == "" {
			verdict.BlockedMessage = defaultBlockedMessage
		}
		return verdict
	}

	if decision == DecisionAllow && execCtx.RequiresApproval(command) {
		verdict.Decision = DecisionRequireApproval
		verdict.ContextForced = true
	}
	return verdict
}
