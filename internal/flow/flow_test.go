package flow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aof-dev/aof/internal/activity"
	"github.com/aof-dev/aof/internal/resources"
)

func testFlow(name string, spec resources.FlowSpec) *resources.Flow {
	return &resources.Flow{
		Header: resources.Header{
			APIVersion: resources.APIVersion,
			Kind:       resources.KindAgentFlow,
			Metadata:   resources.Metadata{Name: name},
		},
		Spec: spec,
	}
}

type stubAgents struct {
	mu     sync.Mutex
	inputs []string
	output string
	err    error
}

func (s *stubAgents) RunAgent(_ context.Context, name, input string, _ activity.Observer) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, name+":"+input)
	return s.output, s.err
}

func TestEvalComparisons(t *testing.T) {
	state := NewState(map[string]any{
		"count":  float64(3),
		"name":   "alice",
		"nested": map[string]any{"ok": true},
		"tags":   []any{"a", "b"},
	}, nil)

	cases := []struct {
		expr string
		want bool
	}{
		{"count > 2", true},
		{"count >= 3", true},
		{"count < 3", false},
		{"name == 'alice'", true},
		{"name != 'bob'", true},
		{"state.nested.ok == true", true},
		{"name contains 'lic'", true},
		{"tags contains 'b'", true},
		{"tags contains 'z'", false},
		{"missing", false},
		{"nested.ok", true},
	}
	for _, tc := range cases {
		got, err := EvalCondition(tc.expr, state)
		if err != nil {
			t.Fatalf("%s: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Errorf("%s = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestInterpolate(t *testing.T) {
	state := NewState(map[string]any{
		"user": "bob",
		"meta": map[string]any{"channel": "ops"},
	}, nil)
	got := Interpolate("hi ${user} in ${meta.channel}, ${unknown}!", state)
	if got != "hi bob in ops, !" {
		t.Fatalf("interpolated: %q", got)
	}
}

func TestStateReducers(t *testing.T) {
	state := NewState(nil, map[string]resources.ReducerKind{
		"log":   resources.ReducerAppend,
		"total": resources.ReducerSum,
		"meta":  resources.ReducerMerge,
	})
	state.Set("log", "a")
	state.Set("log", "b")
	state.Set("total", float64(2))
	state.Set("total", float64(5))
	state.Set("meta", map[string]any{"x": 1})
	state.Set("meta", map[string]any{"y": 2})
	state.Set("plain", "one")
	state.Set("plain", "two")

	snap := state.Snapshot()
	if list := snap["log"].([]any); len(list) != 2 || list[1] != "b" {
		t.Fatalf("append: %v", snap["log"])
	}
	if snap["total"] != float64(7) {
		t.Fatalf("sum: %v", snap["total"])
	}
	if m := snap["meta"].(map[string]any); len(m) != 2 {
		t.Fatalf("merge: %v", m)
	}
	if snap["plain"] != "two" {
		t.Fatalf("replace: %v", snap["plain"])
	}
}

func TestExecuteLinearFlow(t *testing.T) {
	flow := testFlow("linear", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "start", Type: resources.NodeTransform, Config: map[string]any{"script": "input"}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{{From: "start", To: "done"}},
	})
	engine := NewEngine(nil, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, map[string]any{"input": "hello"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status: %s (%s)", result.Status, result.Error)
	}
	if result.State["start"] != "hello" {
		t.Fatalf("transform result: %v", result.State["start"])
	}
	if len(result.CompletedNodes) != 2 || result.CompletedNodes[0] != "start" {
		t.Fatalf("completed nodes: %v", result.CompletedNodes)
	}
}

func TestExecuteAgentNodeInterpolatesInput(t *testing.T) {
	agents := &stubAgents{output: "summary text"}
	flow := testFlow("agentic", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "summarize", Type: resources.NodeAgent, Config: map[string]any{
				"agent": "summarizer",
				"input": "summarize: ${topic}",
			}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{{From: "summarize", To: "done"}},
	})
	engine := NewEngine(agents, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, map[string]any{"topic": "go"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted || result.State["summarize"] != "summary text" {
		t.Fatalf("result: %+v", result)
	}
	if agents.inputs[0] != "summarizer:summarize: go" {
		t.Fatalf("agent input: %q", agents.inputs[0])
	}
}

func TestConditionalRoutingByLiteral(t *testing.T) {
	flow := testFlow("branchy", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "check", Type: resources.NodeConditional, Config: map[string]any{"condition": "score > 5"}},
			{ID: "high", Type: resources.NodeTransform, Config: map[string]any{"script": "'high'"}},
			{ID: "low", Type: resources.NodeTransform, Config: map[string]any{"script": "'low'"}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{
			{From: "check", To: "high", When: "true"},
			{From: "check", To: "low", When: "false"},
			{From: "high", To: "done"},
			{From: "low", To: "done"},
		},
	})
	engine := NewEngine(nil, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, map[string]any{"score": float64(9)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted || result.State["high"] != "high" {
		t.Fatalf("high branch not taken: %+v", result.State)
	}
	if _, took := result.State["low"]; took {
		t.Fatal("low branch must not run")
	}
}

func TestNoMatchingEdge(t *testing.T) {
	flow := testFlow("stuck", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "check", Type: resources.NodeConditional, Config: map[string]any{"condition": "score > 5"}},
			{ID: "high", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{
			{From: "check", To: "high", When: "true"},
		},
	})
	engine := NewEngine(nil, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, map[string]any{"score": float64(1)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusNoMatchingEdge {
		t.Fatalf("status: %s", result.Status)
	}
}

func TestParallelJoinAll(t *testing.T) {
	flow := testFlow("fanout", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "split", Type: resources.NodeParallel},
			{ID: "a", Type: resources.NodeTransform, Config: map[string]any{"script": "'from-a'"}},
			{ID: "b", Type: resources.NodeTransform, Config: map[string]any{"script": "'from-b'"}},
			{ID: "merge", Type: resources.NodeJoin, Config: map[string]any{"strategy": "all"}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{
			{From: "split", To: "a"},
			{From: "split", To: "b"},
			{From: "a", To: "merge"},
			{From: "b", To: "merge"},
			{From: "merge", To: "done"},
		},
	})
	engine := NewEngine(nil, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status: %s (%s)", result.Status, result.Error)
	}
	joined := result.State["merge"].(map[string]any)
	if joined["a"] != "from-a" || joined["b"] != "from-b" {
		t.Fatalf("join results: %v", joined)
	}
}

func TestParallelJoinMajorityToleratesOneFailure(t *testing.T) {
	agents := &stubAgents{output: "vote"}
	flow := testFlow("quorum", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "split", Type: resources.NodeParallel},
			{ID: "a", Type: resources.NodeTransform, Config: map[string]any{"script": "'ok'"}},
			{ID: "b", Type: resources.NodeTransform, Config: map[string]any{"script": "'ok'"}},
			// No script makes the node fail.
			{ID: "c", Type: resources.NodeTransform},
			{ID: "merge", Type: resources.NodeJoin, Config: map[string]any{"strategy": "majority"}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{
			{From: "split", To: "a"},
			{From: "split", To: "b"},
			{From: "split", To: "c"},
			{From: "a", To: "merge"},
			{From: "b", To: "merge"},
			{From: "c", To: "merge"},
			{From: "merge", To: "done"},
		},
	})
	engine := NewEngine(agents, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status: %s (%s)", result.Status, result.Error)
	}
	joined := result.State["merge"].(map[string]any)
	if len(joined) != 2 {
		t.Fatalf("majority join must carry the two successes: %v", joined)
	}
}

func TestRetryExhaustionRoutesToErrorHandler(t *testing.T) {
	agents := &stubAgents{err: context.DeadlineExceeded}
	flow := testFlow("flaky", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "work", Type: resources.NodeAgent, Config: map[string]any{"agent": "worker", "input": "go"}},
			{ID: "cleanup", Type: resources.NodeTransform, Config: map[string]any{"script": "'cleaned'"}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{
			{From: "work", To: "done"},
			{From: "cleanup", To: "done"},
		},
		Config: resources.FlowConfig{
			Retry: resources.RetryConfig{
				MaxAttempts:  2,
				Backoff:      resources.BackoffFixed,
				InitialDelay: resources.Duration(time.Millisecond),
			},
			ErrorHandler: "cleanup",
		},
	})
	engine := NewEngine(agents, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status: %s (%s)", result.Status, result.Error)
	}
	if result.State["cleanup"] != "cleaned" {
		t.Fatalf("error handler did not run: %v", result.State)
	}
	agents.mu.Lock()
	defer agents.mu.Unlock()
	if len(agents.inputs) != 2 {
		t.Fatalf("attempts: %d", len(agents.inputs))
	}
	if result.State["error"] == nil {
		t.Fatal("error must be recorded in state")
	}
}

func TestTranslatedWorkflowRoutesErrors(t *testing.T) {
	agents := &stubAgents{err: context.DeadlineExceeded}
	wf := &resources.Workflow{
		Header: resources.Header{
			APIVersion: resources.APIVersion,
			Kind:       resources.KindWorkflow,
			Metadata:   resources.Metadata{Name: "guarded"},
		},
		Spec: resources.WorkflowSpec{
			Entrypoint: "work",
			Steps: map[string]resources.WorkflowStep{
				"work":    {Type: "agent", Agent: "worker", Input: "go", Next: resources.NextSpec{Simple: "done"}, OnError: "recover"},
				"recover": {Type: "transform", Config: map[string]any{"script": "'recovered'"}, Next: resources.NextSpec{Simple: "done"}},
				"done":    {Status: resources.TerminalCompleted},
			},
		},
	}
	flow, err := wf.ToFlow()
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(agents, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status: %s (%s)", result.Status, result.Error)
	}
	if result.State["recover"] != "recovered" {
		t.Fatalf("on_error step did not run: %v", result.State)
	}
	if result.State["error"] == nil {
		t.Fatal("error must be recorded in state")
	}
}

func TestEndNodeDeclaredStatus(t *testing.T) {
	cases := []struct {
		declared string
		want     Status
		wantErr  bool
	}{
		{"completed", StatusCompleted, false},
		{"failed", StatusFailed, true},
		{"cancelled", StatusCancelled, false},
	}
	for _, tc := range cases {
		flow := testFlow("terminal-"+tc.declared, resources.FlowSpec{
			Nodes: []resources.FlowNode{
				{ID: "start", Type: resources.NodeTransform, Config: map[string]any{"script": "'ok'"}},
				{ID: "finish", Type: resources.NodeEnd, Config: map[string]any{"status": tc.declared}},
			},
			Connections: []resources.Connection{{From: "start", To: "finish"}},
		})
		engine := NewEngine(nil, nil, nil, nil, nil)

		result, err := engine.Execute(context.Background(), flow, nil, nil)
		if err != nil {
			t.Fatalf("%s: %v", tc.declared, err)
		}
		if result.Status != tc.want {
			t.Errorf("%s: status = %s, want %s", tc.declared, result.Status, tc.want)
		}
		if tc.wantErr && result.Error == "" {
			t.Errorf("%s: declared failure must carry an error", tc.declared)
		}
	}
}

func TestApprovalResumeWithSchema(t *testing.T) {
	interrupts := NewInterrupts()
	flow := testFlow("gated", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "gate", Type: resources.NodeApproval, Config: map[string]any{
				"prompt": "deploy ${service}?",
				"schema": map[string]any{"type": "object", "required": []any{"approved"}},
			}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{{From: "gate", To: "done"}},
	})
	engine := NewEngine(nil, nil, interrupts, nil, nil)

	type outcome struct {
		result *Result
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := engine.Execute(context.Background(), flow, map[string]any{"service": "api"}, nil)
		ch <- outcome{result, err}
	}()

	var pending []Interrupt
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending = interrupts.Pending()
		if len(pending) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(pending) != 1 {
		t.Fatal("interrupt never raised")
	}
	if pending[0].Prompt != "deploy api?" {
		t.Fatalf("prompt: %q", pending[0].Prompt)
	}

	// A value the schema rejects leaves the interrupt pending.
	if err := interrupts.Resume(pending[0].ID, json.RawMessage(`{"nope":true}`)); err == nil {
		t.Fatal("schema-rejected resume must fail")
	}
	if len(interrupts.Pending()) != 1 {
		t.Fatal("rejected resume must keep the interrupt pending")
	}

	if err := interrupts.Resume(pending[0].ID, json.RawMessage(`{"approved":true}`)); err != nil {
		t.Fatal(err)
	}

	out := <-ch
	if out.err != nil {
		t.Fatal(out.err)
	}
	if out.result.Status != StatusCompleted {
		t.Fatalf("status: %s (%s)", out.result.Status, out.result.Error)
	}
	gate := out.result.State["gate"].(map[string]any)
	if gate["approved"] != true {
		t.Fatalf("resume value not written: %v", gate)
	}
}

func TestApprovalTimeout(t *testing.T) {
	flow := testFlow("impatient", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "gate", Type: resources.NodeApproval, Config: map[string]any{
				"prompt":  "ok?",
				"timeout": "20ms",
			}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{{From: "gate", To: "done"}},
	})
	engine := NewEngine(nil, nil, nil, nil, nil)

	result, err := engine.Execute(context.Background(), flow, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status: %s", result.Status)
	}
	if len(engine.Interrupts().Pending()) != 0 {
		t.Fatal("timed-out interrupt must not stay pending")
	}
}

func TestCheckpointResumeSkipsCompleted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileCheckpointStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	agents := &stubAgents{output: "work output"}
	spec := resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "prep", Type: resources.NodeTransform, Config: map[string]any{"script": "'prepped'"}},
			{ID: "work", Type: resources.NodeAgent, Config: map[string]any{"agent": "worker", "input": "go"}},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{
			{From: "prep", To: "work"},
			{From: "work", To: "done"},
		},
		Config: resources.FlowConfig{
			Checkpointing: resources.CheckpointConfig{
				Enabled:   true,
				Frequency: resources.CheckpointStep,
				Dir:       dir,
				Recovery:  resources.RecoveryConfig{AutoResume: true, SkipCompleted: true},
			},
		},
	}
	flow := testFlow("durable", spec)
	engine := NewEngine(agents, nil, nil, store, nil)

	// Simulate a crash after prep: a running checkpoint with prep done.
	cp := &Checkpoint{
		Flow:           "durable",
		RunID:          "run-1",
		State:          map[string]any{"prep": "prepped"},
		CompletedNodes: []string{"prep"},
		Status:         StatusRunning,
		CreatedAt:      time.Now(),
	}
	if err := store.Save(cp); err != nil {
		t.Fatal(err)
	}

	resumed := engine.RecoverAll(context.Background(), func(name string) (*resources.Flow, bool) {
		if name == "durable" {
			return flow, true
		}
		return nil, false
	}, nil)
	if resumed != 1 {
		t.Fatalf("resumed: %d", resumed)
	}

	// Only the unfinished node ran.
	agents.mu.Lock()
	calls := len(agents.inputs)
	agents.mu.Unlock()
	if calls != 1 {
		t.Fatalf("agent calls after resume: %d", calls)
	}

	// The final checkpoint is settled, so a second recovery finds nothing.
	final, err := store.Load("durable", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("final checkpoint status: %s", final.Status)
	}
	if engine.RecoverAll(context.Background(), func(string) (*resources.Flow, bool) { return flow, true }, nil) != 0 {
		t.Fatal("settled runs must not be resumed again")
	}

	if _, err := store.Load("durable", filepath.Base("missing")); err == nil {
		t.Fatal("loading a missing run must fail")
	}
}

func fanoutFlow() *resources.Flow {
	return testFlow("fanned", resources.FlowSpec{
		Nodes: []resources.FlowNode{
			{ID: "fan", Type: resources.NodeParallel},
			{ID: "a", Type: resources.NodeAgent, Config: map[string]any{"agent": "a-agent", "input": "go"}},
			{ID: "b", Type: resources.NodeAgent, Config: map[string]any{"agent": "b-agent", "input": "go"}},
			{ID: "merge", Type: resources.NodeJoin},
			{ID: "done", Type: resources.NodeEnd},
		},
		Connections: []resources.Connection{
			{From: "fan", To: "a"},
			{From: "fan", To: "b"},
			{From: "a", To: "merge"},
			{From: "b", To: "merge"},
			{From: "merge", To: "done"},
		},
		Config: resources.FlowConfig{
			Checkpointing: resources.CheckpointConfig{
				Recovery: resources.RecoveryConfig{SkipCompleted: true},
			},
		},
	})
}

func TestResumeSkipsSettledParallelFanout(t *testing.T) {
	agents := &stubAgents{output: "branch output"}
	flow := fanoutFlow()
	engine := NewEngine(agents, nil, nil, nil, nil)

	cp := &Checkpoint{
		Flow:  "fanned",
		RunID: "run-9",
		State: map[string]any{
			"a":     "branch output",
			"b":     "branch output",
			"merge": map[string]any{"a": "branch output", "b": "branch output"},
		},
		CompletedNodes: []string{"fan", "a", "b", "merge"},
		Status:         StatusRunning,
		CreatedAt:      time.Now(),
	}
	result, err := engine.Resume(context.Background(), flow, cp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status: %s (%s)", result.Status, result.Error)
	}
	agents.mu.Lock()
	defer agents.mu.Unlock()
	if len(agents.inputs) != 0 {
		t.Fatalf("settled fan-out must not re-run, got calls %v", agents.inputs)
	}
}

func TestResumeRunsOnlyUnfinishedBranches(t *testing.T) {
	agents := &stubAgents{output: "branch output"}
	flow := fanoutFlow()
	engine := NewEngine(agents, nil, nil, nil, nil)

	// The crash landed mid fan-out: branch a settled, branch b did not.
	cp := &Checkpoint{
		Flow:           "fanned",
		RunID:          "run-10",
		State:          map[string]any{"a": "earlier output"},
		CompletedNodes: []string{"a"},
		Status:         StatusRunning,
		CreatedAt:      time.Now(),
	}
	result, err := engine.Resume(context.Background(), flow, cp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status: %s (%s)", result.Status, result.Error)
	}
	agents.mu.Lock()
	calls := append([]string(nil), agents.inputs...)
	agents.mu.Unlock()
	if len(calls) != 1 || calls[0] != "b-agent:go" {
		t.Fatalf("only the unfinished branch must run, got %v", calls)
	}
	joined := result.State["merge"].(map[string]any)
	if joined["a"] != "earlier output" || joined["b"] != "branch output" {
		t.Fatalf("join results: %v", joined)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	flow := testFlow("cancelled", resources.FlowSpec{
		Nodes: []resources.FlowNode{{ID: "done", Type: resources.NodeEnd}},
	})
	engine := NewEngine(nil, nil, nil, nil, nil)

	result, err := engine.Execute(ctx, flow, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("status: %s", result.Status)
	}
}
