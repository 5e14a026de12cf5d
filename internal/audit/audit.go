// Package audit records who ran what, where. Contexts opt in per event
// type; sinks are append-only.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aof-dev/aof/internal/resources"
)

// EventType enumerates auditable occurrences.
type EventType string

const (
	EventTaskSubmitted    EventType = "task_submitted"
	EventTaskCompleted    EventType = "task_completed"
	EventTaskFailed       EventType = "task_failed"
	EventApprovalRequired EventType = "approval_required"
	EventApprovalGranted  EventType = "approval_granted"
	EventApprovalDenied   EventType = "approval_denied"
	EventCommandExecuted  EventType = "command_executed"
	EventSafetyBlocked    EventType = "safety_blocked"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Platform  string         `json:"platform,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	Target    string         `json:"target,omitempty"`
	Context   string         `json:"context,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	Type  EventType
	Actor string
	Since time.Time
	Limit int
}

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter Filter) ([]*Event, error)
	Close() error
}

// NewSink builds the sink a Context's audit config names: "file" appends
// JSONL, "sqlite" uses a database file. path is the file or database path.
func NewSink(kind, path string) (Sink, error) {
	switch kind {
	case "", "file":
		return NewFileSink(path)
	case "sqlite":
		return NewSQLiteSink(path)
	default:
		return nil, fmt.Errorf("unknown audit sink %q", kind)
	}
}

// Recorder applies a context's audit config in front of a sink.
type Recorder struct {
	sink   Sink
	config resources.AuditConfig
}

// NewRecorder wraps a sink with the context's event filter.
func NewRecorder(sink Sink, config resources.AuditConfig) *Recorder {
	return &Recorder{sink: sink, config: config}
}

// Record drops events the config does not enable, stamps the rest, and
// forwards them to the sink.
func (r *Recorder) Record(ctx context.Context, event *Event) error {
	if !r.config.Enabled || !r.accepts(event.Type) {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return r.sink.Record(ctx, event)
}

// accepts applies the config's event list; an empty list accepts all types.
func (r *Recorder) accepts(typ EventType) bool {
	if len(r.config.Events) == 0 {
		return true
	}
	for _, want := range r.config.Events {
		if EventType(want) == typ {
			return true
		}
	}
	return false
}
