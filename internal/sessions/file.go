package sessions

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

	"github.com/google/uuid"

	"github.com/aof-dev/aof/pkg/models"
)

const latestFile = "latest.json"

// FileStore lays sessions out as <dir>/<agent>/<session_id>.json with a
// latest.json copy of the agent's most recent session alongside.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// DefaultDir returns ~/.aof/sessions, falling back to the working
// directory when the home directory cannot be determined.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aof", "sessions")
	}
	return filepath.Join(home, ".aof", "sessions")
}

// NewFileStore creates the root directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(agent, name string) string {
	return filepath.Join(s.dir, agent, name+".json")
}

// Save writes the session document and refreshes the agent's latest.json.
func (s *FileStore) Save(_ context.Context, session *Session) error {
	if session.Agent == "" {
		return fmt.Errorf("session has no agent")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(s.path(session.Agent, session.ID), session); err != nil {
		return err
	}
	return s.write(filepath.Join(s.dir, session.Agent, latestFile), session)
}

// write persists one document atomically via a temp file rename.
func (s *FileStore) write(target string, session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, target)
}

// Get loads one session by id.
func (s *FileStore) Get(_ context.Context, agent, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(s.path(agent, id))
}

// Latest loads the agent's most recent session, or nil when absent.
func (s *FileStore) Latest(_ context.Context, agent string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.read(filepath.Join(s.dir, agent, latestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return session, err
}

// Append adds messages to a stored session and persists the result.
func (s *FileStore) Append(_ context.Context, agent, id string, messages ...models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.read(s.path(agent, id))
	if err != nil {
		return fmt.Errorf("load session %s/%s: %w", agent, id, err)
	}
	session.Messages = append(session.Messages, messages...)
	session.UpdatedAt = time.Now()
	if err := s.write(s.path(agent, id), session); err != nil {
		return err
	}
	return s.write(filepath.Join(s.dir, agent, latestFile), session)
}

func (s *FileStore) read(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", path, err)
	}
	return &session, nil
}

// List returns the agent's sessions ordered by most recent update.
func (s *FileStore) List(_ context.Context, agent string, opts ListOptions) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, agent))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan sessions for %s: %w", agent, err)
	}

	var out []*Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == latestFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		session, err := s.read(filepath.Join(s.dir, agent, name))
		if err != nil {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Delete removes the session file. The latest.json copy is left in place
// as a plain transcript snapshot.
func (s *FileStore) Delete(_ context.Context, agent, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(agent, id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
