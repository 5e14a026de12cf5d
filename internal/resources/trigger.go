package resources

import (
	"fmt"
	"strings"

	"github.com/aof-dev/aof/pkg/models"
)

// Match filter score weights. The base weight belongs to the binding so an
// empty binding over an unfiltered trigger scores exactly the base.
const (
	ScoreBase            = 10
	ScoreChannelMatch    = 100
	ScoreUserMatch       = 80
	ScorePatternMatch    = 60
	ScoreRequiredKeyword = 40
)

// MatchFilters is the shared filter vocabulary used by triggers and bindings.
type MatchFilters struct {
	Channels         []string `yaml:"channels,omitempty" json:"channels,omitempty"`
	Users            []string `yaml:"users,omitempty" json:"users,omitempty"`
	Patterns         []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Events           []string `yaml:"events,omitempty" json:"events,omitempty"`
	RequiredKeywords []string `yaml:"required_keywords,omitempty" json:"required_keywords,omitempty"`
	ExcludedKeywords []string `yaml:"excluded_keywords,omitempty" json:"excluded_keywords,omitempty"`
	Priority         int      `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Matches reports whether the filters accept the message. Empty filter lists
// accept everything.
func (f *MatchFilters) Matches(channel, user, text string) bool {
	if len(f.Channels) > 0 && !containsFold(f.Channels, channel) {
		return false
	}
	if len(f.Users) > 0 && !containsFold(f.Users, user) {
		return false
	}
	if len(f.Patterns) > 0 && !anyPatternMatches(f.Patterns, text) {
		return false
	}
	for _, kw := range f.RequiredKeywords {
		if !containsKeyword(text, kw) {
			return false
		}
	}
	for _, kw := range f.ExcludedKeywords {
		if containsKeyword(text, kw) {
			return false
		}
	}
	return true
}

// Score returns the specificity contribution of filters that matched.
// Call only after Matches returned true.
func (f *MatchFilters) Score() int {
	score := f.Priority
	if len(f.Channels) > 0 {
		score += ScoreChannelMatch
	}
	if len(f.Users) > 0 {
		score += ScoreUserMatch
	}
	if len(f.Patterns) > 0 {
		score += ScorePatternMatch
	}
	score += len(f.RequiredKeywords) * ScoreRequiredKeyword
	return score
}

// CommandBinding routes a matched command pattern embedded in a trigger.
type CommandBinding struct {
	Pattern  string `yaml:"pattern" json:"pattern"`
	Target   Target `yaml:"target" json:"target"`
	Priority int    `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Target names the resource a binding routes to.
type Target struct {
	Kind string `yaml:"kind" json:"kind"` // agent | fleet | flow
	Name string `yaml:"name" json:"name"`
}

// Validate checks the target reference.
func (t *Target) Validate() error {
	switch t.Kind {
	case "agent", "fleet", "flow":
	default:
		return fmt.Errorf("target kind must be agent, fleet, or flow (got %q)", t.Kind)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target name is required")
	}
	return nil
}

// TriggerAuth carries the verification material for inbound webhooks.
type TriggerAuth struct {
	// Secret verifies HMAC-signed webhooks (Slack signing secret and alike).
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`
	// Token verifies bearer-token webhooks.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
}

// TriggerSpec declares an inbound event source with filters.
type TriggerSpec struct {
	Platform models.Platform `yaml:"platform" json:"platform"`
	// Schedule is a cron expression, used when platform is "schedule".
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	// Input is the synthesized message text for schedule firings.
	Input           string           `yaml:"input,omitempty" json:"input,omitempty"`
	Events          []string         `yaml:"events,omitempty" json:"events,omitempty"`
	Filters         MatchFilters     `yaml:"filters,omitempty" json:"filters,omitempty"`
	Auth            TriggerAuth      `yaml:"auth,omitempty" json:"auth,omitempty"`
	CommandBindings []CommandBinding `yaml:"command_bindings,omitempty" json:"command_bindings,omitempty"`
}

// Trigger is the declarative Trigger kind.
type Trigger struct {
	Header `yaml:",inline"`
	Spec   TriggerSpec `yaml:"spec" json:"spec"`
}

// Matches applies the trigger's filters to a message.
func (t *Trigger) Matches(channel, user, text string) bool {
	return t.Spec.Filters.Matches(channel, user, text)
}

// MatchScore returns the trigger's specificity score for a matched message.
func (t *Trigger) MatchScore() int {
	return t.Spec.Filters.Score()
}

// Validate checks the trigger definition.
func (t *Trigger) Validate() error {
	if err := t.Header.Validate(); err != nil {
		return err
	}
	if t.Spec.Platform == "" {
		return fmt.Errorf("trigger %s: spec.platform is required", t.Name())
	}
	if t.Spec.Platform == models.PlatformSchedule && strings.TrimSpace(t.Spec.Schedule) == "" {
		return fmt.Errorf("trigger %s: spec.schedule is required for schedule platform", t.Name())
	}
	for i, cb := range t.Spec.CommandBindings {
		if strings.TrimSpace(cb.Pattern) == "" {
			return fmt.Errorf("trigger %s: command_bindings[%d].pattern is required", t.Name(), i)
		}
		if err := cb.Target.Validate(); err != nil {
			return fmt.Errorf("trigger %s: command_bindings[%d]: %w", t.Name(), i, err)
		}
	}
	return nil
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func containsKeyword(text, keyword string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

// PatternMatches applies one wildcard pattern to text, case-insensitively.
func PatternMatches(pattern, text string) bool {
	return matchPattern(strings.ToLower(pattern), strings.ToLower(text))
}

// anyPatternMatches applies simple wildcard patterns: a leading or trailing
// "*" anchors a suffix or prefix match, a bare "*" matches anything, and
// everything else is a case-insensitive substring test.
func anyPatternMatches(patterns []string, text string) bool {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		if matchPattern(strings.ToLower(p), lower) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, text string) bool {
	switch {
	case pattern == "" || pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(text, strings.Trim(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(text, strings.TrimPrefix(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(text, strings.TrimSuffix(pattern, "*"))
	default:
		return strings.Contains(text, pattern)
	}
}
