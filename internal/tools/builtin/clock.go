package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aof-dev/aof/pkg/models"
)

// ClockTool reports the current time, optionally in a named location.
type ClockTool struct {
	// Now allows tests to pin the clock.
	Now func() time.Time
}

func (t *ClockTool) Name() string { return "current_time" }

func (t *ClockTool) Description() string {
	return "Return the current date and time, optionally for an IANA timezone."
}

func (t *ClockTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {"type": "string", "description": "IANA timezone name, e.g. Europe/Berlin."}
		}
	}`)
}

func (t *ClockTool) Execute(_ context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Timezone string `json:"timezone"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return models.ErrorResult(fmt.Sprintf("invalid parameters: %v", err), 0), nil
		}
	}

	now := time.Now()
	if t.Now != nil {
		now = t.Now()
	}
	if input.Timezone != "" {
		loc, err := time.LoadLocation(input.Timezone)
		if err != nil {
			return models.ErrorResult(fmt.Sprintf("unknown timezone %q", input.Timezone), 0), nil
		}
		now = now.In(loc)
	}

	data, _ := json.Marshal(map[string]any{
		"rfc3339":  now.Format(time.RFC3339),
		"unix":     now.Unix(),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
	})
	return &models.ToolResult{Success: true, Data: data}, nil
}
