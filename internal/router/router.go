// Package router matches inbound platform events against triggers and
// bindings and produces ranked resolved execution contexts.
package router

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/pkg/models"
)

// Resolved is one routing candidate: the bound target plus the execution
// environment its context injects.
type Resolved struct {
	Target           resources.Target  `json:"target"`
	Score            int               `json:"score"`
	TriggerName      string            `json:"trigger"`
	BindingName      string            `json:"binding"`
	ContextName      string            `json:"context,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	RequiresApproval bool              `json:"requires_approval"`
	AllowedApprovers []string          `json:"allowed_approvers,omitempty"`
	Payload          json.RawMessage   `json:"payload"`

	Context *resources.Context `json:"-"`
}

// Router resolves events to execution targets through the binding registry.
type Router struct {
	store          *resources.Store
	defaultContext string
	logger         *slog.Logger
}

// New creates a router over the resource store. defaultContext names the
// Context applied to bindings that declare none; empty means no default.
func New(store *resources.Store, defaultContext string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:          store,
		defaultContext: defaultContext,
		logger:         logger.With("component", "router"),
	}
}

// Resolve returns every matching candidate, highest score first. Ties keep
// binding declaration order. An empty slice means nothing routes the event.
func (r *Router) Resolve(msg *models.EventMessage) []*Resolved {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal event payload", "error", err)
		return nil
	}

	var out []*Resolved
	for _, binding := range r.store.Bindings.All() {
		if !binding.IsEnabled() {
			continue
		}
		trigger, ok := r.store.Triggers.Get(binding.Spec.Trigger)
		if !ok {
			r.logger.Warn("binding references unknown trigger", "binding", binding.Name(), "trigger", binding.Spec.Trigger)
			continue
		}
		if trigger.Spec.Platform != msg.Platform {
			continue
		}
		if !eventAccepted(trigger, msg) {
			continue
		}
		if !trigger.Matches(msg.Channel, msg.User, msg.Text) {
			continue
		}
		if !binding.Matches(msg.Channel, msg.User, msg.Text) {
			continue
		}

		target := binding.Target()
		if _, err := r.store.ResolveTarget(target); err != nil {
			r.logger.Warn("binding target missing", "binding", binding.Name(), "error", err)
			continue
		}

		resolved := &Resolved{
			Target:      target,
			Score:       trigger.MatchScore() + binding.MatchScore(),
			TriggerName: trigger.Name(),
			BindingName: binding.Name(),
			Payload:     payload,
		}
		if ectx := r.contextFor(binding); ectx != nil {
			resolved.Context = ectx
			resolved.ContextName = ectx.Name()
			resolved.Env = ectx.Spec.Env
			resolved.RequiresApproval = ectx.RequiresApproval(msg.Text)
			resolved.AllowedApprovers = ectx.Spec.Approval.AllowedUsers
		}
		out = append(out, resolved)
	}

	out = append(out, r.resolveCommands(msg, payload)...)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// resolveCommands routes trigger-embedded command bindings: a matched
// pattern on a matching trigger scores like a pattern-filtered binding.
func (r *Router) resolveCommands(msg *models.EventMessage, payload json.RawMessage) []*Resolved {
	var out []*Resolved
	for _, trigger := range r.store.Triggers.All() {
		if len(trigger.Spec.CommandBindings) == 0 || trigger.Spec.Platform != msg.Platform {
			continue
		}
		if !eventAccepted(trigger, msg) || !trigger.Matches(msg.Channel, msg.User, msg.Text) {
			continue
		}
		for _, cb := range trigger.Spec.CommandBindings {
			if !resources.PatternMatches(cb.Pattern, msg.Text) {
				continue
			}
			if _, err := r.store.ResolveTarget(cb.Target); err != nil {
				r.logger.Warn("command binding target missing", "trigger", trigger.Name(), "error", err)
				continue
			}
			out = append(out, &Resolved{
				Target:      cb.Target,
				Score:       trigger.MatchScore() + resources.ScoreBase + resources.ScorePatternMatch + cb.Priority,
				TriggerName: trigger.Name(),
				Payload:     payload,
			})
		}
	}
	return out
}

// Best returns the top-ranked candidate, or nil.
func (r *Router) Best(msg *models.EventMessage) *Resolved {
	candidates := r.Resolve(msg)
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

// contextFor resolves the binding's context, falling back to the router
// default. A missing name is logged and treated as no context.
func (r *Router) contextFor(binding *resources.FlowBinding) *resources.Context {
	name := binding.Spec.Context
	if name == "" {
		name = r.defaultContext
	}
	if name == "" {
		return nil
	}
	ectx, ok := r.store.Contexts.Get(name)
	if !ok {
		r.logger.Warn("context not found", "binding", binding.Name(), "context", name)
		return nil
	}
	return ectx
}

// eventAccepted applies the trigger's event-type filter against the
// message's metadata event, when both are present.
func eventAccepted(trigger *resources.Trigger, msg *models.EventMessage) bool {
	if len(trigger.Spec.Events) == 0 {
		return true
	}
	event, _ := msg.Metadata["event"].(string)
	if event == "" {
		return false
	}
	for _, want := range trigger.Spec.Events {
		if want == event {
			return true
		}
	}
	return false
}
