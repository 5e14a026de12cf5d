package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aof-dev/aof/internal/memory"
	"github.com/aof-dev/aof/internal/tools"
)

func memoryToolForTest() (*MemoryTool, map[string]memory.Store) {
	stores := make(map[string]memory.Store)
	tool := &MemoryTool{Open: func(agent string) (memory.Store, error) {
		store, ok := stores[agent]
		if !ok {
			store = memory.NewMemoryStore(0)
			stores[agent] = store
		}
		return store, nil
	}}
	return tool, stores
}

func TestMemoryToolStoreAndRetrieve(t *testing.T) {
	tool, _ := memoryToolForTest()
	ctx := tools.WithInvoker(context.Background(), "helper")

	result, err := tool.Execute(ctx, json.RawMessage(`{"action":"store","key":"pref.lang","value":"go","tags":["pref"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("store failed: %s", result.Error)
	}

	result, err = tool.Execute(ctx, json.RawMessage(`{"action":"retrieve","key":"pref.lang"}`))
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Found bool          `json:"found"`
		Entry *memory.Entry `json:"entry"`
	}
	if err := json.Unmarshal(result.Data, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Found || string(got.Entry.Value) != `"go"` {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestMemoryToolIsolatesAgents(t *testing.T) {
	tool, _ := memoryToolForTest()
	alice := tools.WithInvoker(context.Background(), "alice")
	bob := tools.WithInvoker(context.Background(), "bob")

	if _, err := tool.Execute(alice, json.RawMessage(`{"action":"store","key":"secret","value":1}`)); err != nil {
		t.Fatal(err)
	}

	result, err := tool.Execute(bob, json.RawMessage(`{"action":"retrieve","key":"secret"}`))
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal(result.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Found {
		t.Fatal("bob must not see alice's entries")
	}
}

func TestMemoryToolDeleteAndSearch(t *testing.T) {
	tool, _ := memoryToolForTest()
	ctx := tools.WithInvoker(context.Background(), "helper")

	for _, key := range []string{"note.a", "note.b", "task.c"} {
		params := json.RawMessage(`{"action":"store","key":"` + key + `","value":"x"}`)
		if _, err := tool.Execute(ctx, params); err != nil {
			t.Fatal(err)
		}
	}

	result, err := tool.Execute(ctx, json.RawMessage(`{"action":"search","prefix":"note."}`))
	if err != nil {
		t.Fatal(err)
	}
	var found struct {
		Entries []*memory.Entry `json:"entries"`
	}
	if err := json.Unmarshal(result.Data, &found); err != nil {
		t.Fatal(err)
	}
	if len(found.Entries) != 2 {
		t.Fatalf("want 2 note entries, got %d", len(found.Entries))
	}

	if _, err := tool.Execute(ctx, json.RawMessage(`{"action":"delete","key":"note.a"}`)); err != nil {
		t.Fatal(err)
	}
	result, err = tool.Execute(ctx, json.RawMessage(`{"action":"retrieve","key":"note.a"}`))
	if err != nil {
		t.Fatal(err)
	}
	var gone struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal(result.Data, &gone); err != nil {
		t.Fatal(err)
	}
	if gone.Found {
		t.Fatal("deleted key must not be found")
	}
}

func TestMemoryToolRejectsUnknownAction(t *testing.T) {
	tool, _ := memoryToolForTest()
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"action":"forget"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("unknown action must fail")
	}
}
