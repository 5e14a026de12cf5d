package models

import "time"

// TaskStatus is the lifecycle state of an orchestrated task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// ResourceKind selects the executor a task is routed to.
type ResourceKind string

const (
	KindAgent ResourceKind = "agent"
	KindFlow  ResourceKind = "flow"
	KindFleet ResourceKind = "fleet"
)

// Task is a unit of work owned by the orchestrator. Executors hold only a
// transient reference while running it.
type Task struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Kind        ResourceKind `json:"kind"`
	AgentRef    string       `json:"agent_ref"`
	Input       string       `json:"input"`
	UserID      string       `json:"user_id,omitempty"`
	Status      TaskStatus   `json:"status"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Clone returns a copy safe to hand to callers outside the orchestrator.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		cp.FinishedAt = &v
	}
	return &cp
}
