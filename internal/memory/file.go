package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore mirrors the in-memory map to a single JSON document on disk.
// Every write persists synchronously; expired entries removed on read are
// persisted too, so the document never re-serves stale data after restart.
type FileStore struct {
	mu         sync.Mutex
	path       string
	entries    map[string]*Entry
	maxEntries int
}

// NewFileStore loads (or creates) the store at path. maxEntries of zero
// means unbounded; the bound is also applied to the loaded document.
func NewFileStore(path string, maxEntries int) (*FileStore, error) {
	s := &FileStore{
		path:       path,
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read memory file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return fmt.Errorf("parse memory file %s: %w", s.path, err)
	}
	s.trimLocked()
	return nil
}

// persistLocked writes the whole document. Callers hold the mutex.
func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Store inserts or replaces an entry and persists.
func (s *FileStore) Store(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[entry.Key] = entry
	s.trimLocked()
	return s.persistLocked()
}

// Retrieve returns the entry or nil, removing and persisting expired entries.
func (s *FileStore) Retrieve(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if entry.Expired(time.Now()) {
		delete(s.entries, key)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return entry, nil
}

// Delete removes the entry and persists.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.persistLocked()
}

// ListKeys returns unexpired keys with the prefix, sorted.
func (s *FileStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

// Clear removes everything and persists the empty document.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	return s.persistLocked()
}

// Search mirrors MemoryStore.Search over the file-backed map.
func (s *FileStore) Search(_ context.Context, query Query) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *FileStore) trimLocked() {
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

// New builds a Store from an agent's memory config.
func New(backend, path string, maxEntries int) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(maxEntries), nil
	case "file":
		if path == "" {
			return nil, fmt.Errorf("file memory backend requires a path")
		}
		return NewFileStore(path, maxEntries)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
}
