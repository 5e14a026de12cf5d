package resources

import "fmt"

// BindingSpec declares that a Trigger, optionally under a Context, routes to
// a Flow, Agent, or Fleet. Exactly one of Flow/Agent/Fleet must be set.
type BindingSpec struct {
	Trigger string       `yaml:"trigger" json:"trigger"`
	Context string       `yaml:"context,omitempty" json:"context,omitempty"`
	Flow    string       `yaml:"flow,omitempty" json:"flow,omitempty"`
	Agent   string       `yaml:"agent,omitempty" json:"agent,omitempty"`
	Fleet   string       `yaml:"fleet,omitempty" json:"fleet,omitempty"`
	Enabled *bool        `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Match   MatchFilters `yaml:"match,omitempty" json:"match,omitempty"`
}

// FlowBinding is the declarative FlowBinding kind.
type FlowBinding struct {
	Header `yaml:",inline"`
	Spec   BindingSpec `yaml:"spec" json:"spec"`
}

// IsEnabled defaults to true when the field is omitted.
func (b *FlowBinding) IsEnabled() bool {
	return b.Spec.Enabled == nil || *b.Spec.Enabled
}

// Target returns the bound resource reference.
func (b *FlowBinding) Target() Target {
	switch {
	case b.Spec.Flow != "":
		return Target{Kind: "flow", Name: b.Spec.Flow}
	case b.Spec.Agent != "":
		return Target{Kind: "agent", Name: b.Spec.Agent}
	default:
		return Target{Kind: "fleet", Name: b.Spec.Fleet}
	}
}

// Matches applies the binding's own filters on top of the trigger's.
func (b *FlowBinding) Matches(channel, user, text string) bool {
	return b.Spec.Match.Matches(channel, user, text)
}

// MatchScore returns base plus the binding's filter specificity. The base
// weight lives here so a fully unfiltered binding scores exactly ScoreBase.
func (b *FlowBinding) MatchScore() int {
	return ScoreBase + b.Spec.Match.Score()
}

// Validate checks the binding definition.
func (b *FlowBinding) Validate() error {
	if err := b.Header.Validate(); err != nil {
		return err
	}
	if b.Spec.Trigger == "" {
		return fmt.Errorf("binding %s: spec.trigger is required", b.Name())
	}
	set := 0
	for _, ref := range []string{b.Spec.Flow, b.Spec.Agent, b.Spec.Fleet} {
		if ref != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("binding %s: exactly one of flow, agent, or fleet must be set", b.Name())
	}
	return nil
}
