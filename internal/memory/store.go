// Package memory implements the keyed memory store with TTL expiry and
// bounded history. Backends: a concurrent in-memory map and a file-mirrored
// variant that persists a single JSON document synchronously on write.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one memory record.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// Query filters a memory search.
type Query struct {
	Prefix string
	Tags   []string
	Since  time.Time
	Limit  int
}

// Store is the memory backend contract. Retrieve never returns an expired
// entry; expired entries are lazily removed.
type Store interface {
	Store(ctx context.Context, entry *Entry) error
	Retrieve(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
	Search(ctx context.Context, query Query) ([]*Entry, error)
}

// MemoryStore is the in-process backend: a mutex-guarded map with bounded
// history trimmed oldest-first by creation time.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
}

// NewMemoryStore creates an in-memory store. maxEntries of zero means
// unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

// Store inserts or replaces an entry, trimming oldest entries past the bound.
func (s *MemoryStore) Store(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[entry.Key] = entry
	s.trimLocked()
	return nil
}

// Retrieve returns the entry or nil. Expired entries are removed and not
// returned.
func (s *MemoryStore) Retrieve(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if entry.Expired(time.Now()) {
		delete(s.entries, key)
		return nil, nil
	}
	return entry, nil
}

// Delete removes the entry if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// ListKeys returns keys with the given prefix, sorted.
func (s *MemoryStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if entry.Expired(now) {
			continue
		}
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes all entries atomically with respect to concurrent reads.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	return nil
}

// Search returns entries matching the query, newest first.
func (s *MemoryStore) Search(_ context.Context, query Query) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*Entry
	for key, entry := range s.entries {
		if entry.Expired(now) {
			continue
		}
		if query.Prefix != "" && !strings.HasPrefix(key, query.Prefix) {
			continue
		}
		if !query.Since.IsZero() && entry.CreatedAt.Before(query.Since) {
			continue
		}
		if len(query.Tags) > 0 && !hasAllTags(entry.Tags, query.Tags) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// trimLocked drops oldest-by-created entries past the bound.
func (s *MemoryStore) trimLocked() {
	if s.maxEntries <= 0 || len(s.entries) <= s.maxEntries {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(s.entries))
	for key, entry := range s.entries {
		all = append(all, aged{key, entry.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, a := range all[:len(s.entries)-s.maxEntries] {
		delete(s.entries, a.key)
	}
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
