// Package fleet coordinates multi-agent fleets: instance lifecycle,
// task distribution across coordination modes, and consensus aggregation.
package fleet

import (
	"time"

	"github.com/aof-dev/aof/internal/resources"
)

// InstanceStatus is the lifecycle state of one fleet instance.
type InstanceStatus string

const (
	InstanceIdle     InstanceStatus = "idle"
	InstanceBusy     InstanceStatus = "busy"
	InstanceFailed   InstanceStatus = "failed"
	InstanceDraining InstanceStatus = "draining"
)

// Instance is one running replica of a fleet agent.
type Instance struct {
	ID        string               `json:"id"`
	Agent     resources.FleetAgent `json:"-"`
	AgentName string               `json:"agent"`
	Role      resources.AgentRole  `json:"role"`
	Status    InstanceStatus       `json:"status"`
	TasksDone int                  `json:"tasks_done"`
}

// TaskStatus is the lifecycle state of one fleet task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a unit of fleet work. Votes is populated by broadcast and
// consensus modes, keyed by instance id.
type Task struct {
	ID          string            `json:"id"`
	Input       string            `json:"input"`
	Status      TaskStatus        `json:"status"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Votes       map[string]string `json:"votes,omitempty"`
	AssignedTo  string            `json:"assigned_to,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

// Terminal reports whether the task has settled.
func (t *Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// EventType enumerates fleet lifecycle events.
type EventType string

const (
	EventStarted          EventType = "Started"
	EventAgentStarted     EventType = "AgentStarted"
	EventTaskSubmitted    EventType = "TaskSubmitted"
	EventTaskAssigned     EventType = "TaskAssigned"
	EventTaskCompleted    EventType = "TaskCompleted"
	EventTaskFailed       EventType = "TaskFailed"
	EventConsensusReached EventType = "ConsensusReached"
	EventStopped          EventType = "Stopped"
	EventError            EventType = "Error"
)

// Event is an informational fleet notification. Consumers observe; they
// never feed back into coordinator state.
type Event struct {
	Type      EventType `json:"type"`
	Fleet     string    `json:"fleet"`
	Instance  string    `json:"instance,omitempty"`
	Task      string    `json:"task,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
