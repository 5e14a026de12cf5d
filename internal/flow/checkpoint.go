package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Checkpoint is the persisted snapshot of one flow run, written between
// nodes so an interrupted run can be re-entered.
type Checkpoint struct {
	Flow            string         `json:"flow"`
	RunID           string         `json:"run_id"`
	State           map[string]any `json:"state"`
	CompletedNodes  []string       `json:"completed_nodes"`
	PendingBranches []string       `json:"pending_branches,omitempty"`
	Status          Status         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	Version         int            `json:"version"`
}

// Finished reports whether the run has settled.
func (c *Checkpoint) Finished() bool {
	return c.Status != StatusRunning
}

// CheckpointStore persists flow run snapshots.
type CheckpointStore interface {
	Save(cp *Checkpoint) error
	Load(flow, runID string) (*Checkpoint, error)
	ListUnfinished() ([]*Checkpoint, error)
	Delete(flow, runID string) error
}

// FileCheckpointStore writes one JSON document per run under a directory.
type FileCheckpointStore struct {
	dir string
}

// NewFileCheckpointStore creates the directory if needed.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

// path lays runs out as <dir>/<flow>/<run_id>.json.
func (s *FileCheckpointStore) path(flow, runID string) string {
	return filepath.Join(s.dir, flow, runID+".json")
}

// Save writes the checkpoint atomically via a temp file rename.
func (s *FileCheckpointStore) Save(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	target := s.path(cp.Flow, cp.RunID)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, target)
}

// Load reads one checkpoint.
func (s *FileCheckpointStore) Load(flow, runID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(flow, runID))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s/%s: %w", flow, runID, err)
	}
	return &cp, nil
}

// ListUnfinished scans every flow subdirectory for runs that have not
// settled.
func (s *FileCheckpointStore) ListUnfinished() ([]*Checkpoint, error) {
	flows, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint dir: %w", err)
	}
	var out []*Checkpoint
	for _, flowDir := range flows {
		if !flowDir.IsDir() {
			continue
		}
		runs, err := os.ReadDir(filepath.Join(s.dir, flowDir.Name()))
		if err != nil {
			continue
		}
		for _, run := range runs {
			if run.IsDir() || !strings.HasSuffix(run.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.dir, flowDir.Name(), run.Name()))
			if err != nil {
				continue
			}
			var cp Checkpoint
			if err := json.Unmarshal(data, &cp); err != nil {
				continue
			}
			if !cp.Finished() {
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

// Delete removes a run's checkpoint file.
func (s *FileCheckpointStore) Delete(flow, runID string) error {
	err := os.Remove(s.path(flow, runID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
