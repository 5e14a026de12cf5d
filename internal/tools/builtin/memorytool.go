package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aof-dev/aof/internal/memory"
	"github.com/aof-dev/aof/internal/tools"
	"github.com/aof-dev/aof/pkg/models"
)

// MemoryTool gives agents keyed long-term storage. Each invoking agent gets
// its own store, resolved through Open; agents that share nothing cannot read
// each other's entries.
type MemoryTool struct {
	Open func(agent string) (memory.Store, error)
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "Store, retrieve, search, and delete persistent key-value memories across conversations."
}

func (t *MemoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["store", "retrieve", "delete", "list_keys", "search", "clear"]},
			"key": {"type": "string", "description": "Entry key for store, retrieve, and delete."},
			"value": {"description": "Value to store. Any JSON value."},
			"ttl_seconds": {"type": "integer", "description": "Optional expiry for store."},
			"tags": {"type": "array", "items": {"type": "string"}},
			"prefix": {"type": "string", "description": "Key prefix for list_keys and search."},
			"limit": {"type": "integer", "description": "Result cap for search."}
		},
		"required": ["action"]
	}`)
}

func (t *MemoryTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Action     string          `json:"action"`
		Key        string          `json:"key"`
		Value      json.RawMessage `json:"value"`
		TTLSeconds int             `json:"ttl_seconds"`
		Tags       []string        `json:"tags"`
		Prefix     string          `json:"prefix"`
		Limit      int             `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.ErrorResult(fmt.Sprintf("invalid parameters: %v", err), 0), nil
	}

	store, err := t.Open(tools.Invoker(ctx))
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("memory unavailable: %v", err), 0), nil
	}

	switch input.Action {
	case "store":
		if input.Key == "" {
			return models.ErrorResult("store requires a key", 0), nil
		}
		entry := &memory.Entry{
			Key:   input.Key,
			Value: input.Value,
			TTL:   time.Duration(input.TTLSeconds) * time.Second,
			Tags:  input.Tags,
		}
		if err := store.Store(ctx, entry); err != nil {
			return models.ErrorResult(err.Error(), 0), nil
		}
		return models.TextResult("stored "+input.Key, 0), nil

	case "retrieve":
		if input.Key == "" {
			return models.ErrorResult("retrieve requires a key", 0), nil
		}
		entry, err := store.Retrieve(ctx, input.Key)
		if err != nil {
			return models.ErrorResult(err.Error(), 0), nil
		}
		if entry == nil {
			data, _ := json.Marshal(map[string]any{"found": false})
			return &models.ToolResult{Success: true, Data: data}, nil
		}
		data, _ := json.Marshal(map[string]any{"found": true, "entry": entry})
		return &models.ToolResult{Success: true, Data: data}, nil

	case "delete":
		if input.Key == "" {
			return models.ErrorResult("delete requires a key", 0), nil
		}
		if err := store.Delete(ctx, input.Key); err != nil {
			return models.ErrorResult(err.Error(), 0), nil
		}
		return models.TextResult("deleted "+input.Key, 0), nil

	case "list_keys":
		keys, err := store.ListKeys(ctx, input.Prefix)
		if err != nil {
			return models.ErrorResult(err.Error(), 0), nil
		}
		data, _ := json.Marshal(map[string]any{"keys": keys})
		return &models.ToolResult{Success: true, Data: data}, nil

	case "search":
		entries, err := store.Search(ctx, memory.Query{
			Prefix: input.Prefix,
			Tags:   input.Tags,
			Limit:  input.Limit,
		})
		if err != nil {
			return models.ErrorResult(err.Error(), 0), nil
		}
		data, _ := json.Marshal(map[string]any{"entries": entries})
		return &models.ToolResult{Success: true, Data: data}, nil

	case "clear":
		if err := store.Clear(ctx); err != nil {
			return models.ErrorResult(err.Error(), 0), nil
		}
		return models.TextResult("memory cleared", 0), nil

	default:
		return models.ErrorResult(fmt.Sprintf("unknown action %q", input.Action), 0), nil
	}
}
