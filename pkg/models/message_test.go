package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name   string
		result *ToolResult
		want   string
	}{
		{"nil", nil, ""},
		{"error wins", &ToolResult{Error: "boom", Data: json.RawMessage(`"x"`)}, "boom"},
		{"empty data", &ToolResult{Success: true}, ""},
		{"json string unquoted", &ToolResult{Success: true, Data: json.RawMessage(`"hello"`)}, "hello"},
		{"structured passthrough", &ToolResult{Success: true, Data: json.RawMessage(`{"a":1}`)}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Text(); got != tt.want {
				t.Fatalf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextAndErrorResultBuilders(t *testing.T) {
	ok := TextResult("done", 1500*time.Millisecond)
	if !ok.Success || ok.Text() != "done" || ok.ExecutionTimeMS != 1500 {
		t.Fatalf("unexpected text result: %+v", ok)
	}

	failed := ErrorResult("timed out after 5s", 5*time.Second)
	if failed.Success || failed.Error != "timed out after 5s" || failed.ExecutionTimeMS != 5000 {
		t.Fatalf("unexpected error result: %+v", failed)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		Role:    RoleAssistant,
		Content: "checking",
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "kubectl", Arguments: json.RawMessage(`{"command":"get pods"}`)},
		},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Role != RoleAssistant || len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "kubectl" {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestMessageOmitsEmptyToolFields(t *testing.T) {
	data, err := json.Marshal(Message{Role: RoleUser, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"tool_calls", "tool_call_id"} {
		if _, present := raw[key]; present {
			t.Fatalf("%s must be omitted when empty: %s", key, data)
		}
	}
}

func TestTaskTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskQueued, false},
		{TaskRunning, false},
		{TaskCompleted, true},
		{TaskFailed, true},
		{TaskCancelled, true},
	}
	for _, tt := range tests {
		task := &Task{Status: tt.status}
		if task.Terminal() != tt.want {
			t.Fatalf("Terminal(%s) = %v, want %v", tt.status, task.Terminal(), tt.want)
		}
	}
}

func TestTaskCloneIsIndependent(t *testing.T) {
	started := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", Kind: KindAgent, Status: TaskRunning, StartedAt: &started}

	cp := task.Clone()
	cp.Status = TaskCompleted
	*cp.StartedAt = started.Add(time.Hour)

	if task.Status != TaskRunning {
		t.Fatal("clone must not share status")
	}
	if !task.StartedAt.Equal(started) {
		t.Fatal("clone must not share timestamp pointers")
	}
	if (*Task)(nil).Clone() != nil {
		t.Fatal("nil clone must stay nil")
	}
}
