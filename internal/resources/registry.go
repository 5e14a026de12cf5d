package resources

import (
	"fmt"
	"sync"
)

// Object is implemented by every declarative resource kind.
type Object interface {
	Name() string
	Validate() error
}

// Registry is a name-keyed, read-mostly store for one resource kind.
// Reads take a shared lock; writes happen at load/reload only.
type Registry[T Object] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry[T Object]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register validates and stores the object. Re-registering a name replaces
// the previous object but keeps its declaration position.
func (r *Registry[T]) Register(obj T) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := obj.Name()
	if _, exists := r.items[name]; !exists {
		r.order = append(r.order, name)
	}
	r.items[name] = obj
	return nil
}

// Get returns the object by name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.items[name]
	return obj, ok
}

// All returns every object in declaration order.
func (r *Registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for _, name := range r.order {
		out = append(out, r.items[name])
	}
	return out
}

// Exists reports whether the name is registered.
func (r *Registry[T]) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// Len returns the number of registered objects.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// replaceAll swaps the registry contents. Used by reload.
func (r *Registry[T]) replaceAll(items map[string]T, order []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	r.order = order
}

// Store aggregates one registry per kind.
type Store struct {
	Agents    *Registry[*Agent]
	Flows     *Registry[*Flow]
	Fleets    *Registry[*Fleet]
	Triggers  *Registry[*Trigger]
	Contexts  *Registry[*Context]
	Bindings  *Registry[*FlowBinding]
	Workflows *Registry[*Workflow]
}

// NewStore creates empty registries for every kind.
func NewStore() *Store {
	return &Store{
		Agents:    NewRegistry[*Agent](),
		Flows:     NewRegistry[*Flow](),
		Fleets:    NewRegistry[*Fleet](),
		Triggers:  NewRegistry[*Trigger](),
		Contexts:  NewRegistry[*Context](),
		Bindings:  NewRegistry[*FlowBinding](),
		Workflows: NewRegistry[*Workflow](),
	}
}

// ResolveTarget looks up a binding target across the kind registries.
func (s *Store) ResolveTarget(t Target) (Object, error) {
	switch t.Kind {
	case "agent":
		if a, ok := s.Agents.Get(t.Name); ok {
			return a, nil
		}
	case "flow":
		if f, ok := s.Flows.Get(t.Name); ok {
			return f, nil
		}
	case "fleet":
		if f, ok := s.Fleets.Get(t.Name); ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%s %q not found", t.Kind, t.Name)
}
