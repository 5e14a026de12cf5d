// Package flow executes AgentFlow DAGs: node dispatch, guarded connection
// selection, reducer-driven state, retries, checkpointing, and interrupts
// for human-in-the-loop approval.
package flow

import (
	"sync"

	"github.com/aof-dev/aof/internal/resources"
)

// State is the JSON-object state threaded through a flow run. Writes go
// through Set so declared reducers apply; reads are concurrent-safe for
// parallel branches.
type State struct {
	mu       sync.RWMutex
	values   map[string]any
	reducers map[string]resources.ReducerKind
}

// NewState seeds a state with initial values and the flow's reducers.
func NewState(initial map[string]any, reducers map[string]resources.ReducerKind) *State {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &State{values: values, reducers: reducers}
}

// Get reads one key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set writes one key, applying the declared reducer when present.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reducer := resources.ReducerReplace
	if s.reducers != nil {
		if r, ok := s.reducers[key]; ok {
			reducer = r
		}
	}
	s.values[key] = reduce(reducer, s.values[key], value)
}

// Merge applies Set for every key of the map.
func (s *State) Merge(values map[string]any) {
	for k, v := range values {
		s.Set(k, v)
	}
}

// Snapshot returns a shallow copy of the current values.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// reduce combines an existing value with a new one.
func reduce(kind resources.ReducerKind, old, new any) any {
	switch kind {
	case resources.ReducerAppend:
		list, _ := old.([]any)
		return append(list, new)
	case resources.ReducerMerge:
		oldMap, okOld := old.(map[string]any)
		newMap, okNew := new.(map[string]any)
		if !okNew {
			return new
		}
		merged := make(map[string]any, len(oldMap)+len(newMap))
		if okOld {
			for k, v := range oldMap {
				merged[k] = v
			}
		}
		for k, v := range newMap {
			merged[k] = v
		}
		return merged
	case resources.ReducerSum:
		return toFloat(old) + toFloat(new)
	default:
		return new
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
