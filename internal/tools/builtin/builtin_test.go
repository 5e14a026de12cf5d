package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestShellToolRuns(t *testing.T) {
	tool := &ShellTool{}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || !strings.Contains(result.Text(), "hello") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestShellToolFailureCarriesOutput(t *testing.T) {
	tool := &ShellTool{}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo oops >&2; exit 3"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("non-zero exit must fail")
	}
	var data map[string]string
	if err := json.Unmarshal(result.Data, &data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(data["output"], "oops") {
		t.Fatalf("stderr must be captured: %q", data["output"])
	}
}

func TestShellToolRequiresCommand(t *testing.T) {
	tool := &ShellTool{}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("empty command must fail")
	}
}

func TestClockToolTimezone(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tool := &ClockTool{Now: func() time.Time { return fixed }}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"timezone":"UTC"}`))
	if err != nil {
		t.Fatal(err)
	}
	var data struct {
		RFC3339 string `json:"rfc3339"`
		Weekday string `json:"weekday"`
	}
	if err := json.Unmarshal(result.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Weekday != "Sunday" || !strings.HasPrefix(data.RFC3339, "2025-06-01T12:00:00") {
		t.Fatalf("unexpected clock data: %+v", data)
	}

	result, err = tool.Execute(context.Background(), json.RawMessage(`{"timezone":"Not/AZone"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("bad timezone must fail")
	}
}
