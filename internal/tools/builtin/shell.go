// Package builtin provides the tools that ship with the framework: a shell
// runner, an HTTP client, and a clock. Anything heavier arrives over MCP.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/aof-dev/aof/pkg/models"
)

const maxOutputBytes = 64 * 1024

// ShellTool runs a command line through the system shell. Platform policy
// gates what reaches it; the tool itself executes whatever it is given.
type ShellTool struct {
	// WorkDir, when set, is the working directory for every invocation.
	WorkDir string
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command and return its combined output."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Command line to execute."},
			"timeout_secs": {"type": "integer", "description": "Optional timeout override in seconds."}
		},
		"required": ["command"]
	}`)
}

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Command     string `json:"command"`
		TimeoutSecs int    `json:"timeout_secs"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.ErrorResult(fmt.Sprintf("invalid parameters: %v", err), 0), nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return models.ErrorResult("command is required", 0), nil
	}

	if input.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(input.TimeoutSecs)*time.Second)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", input.Command)
	if t.WorkDir != "" {
		cmd.Dir = t.WorkDir
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	elapsed := time.Since(start)
	output := truncate(buf.String(), maxOutputBytes)

	if err != nil {
		if ctx.Err() != nil {
			return models.ErrorResult("command cancelled or timed out", elapsed), nil
		}
		result := models.ErrorResult(fmt.Sprintf("%v", err), elapsed)
		if output != "" {
			result.Data, _ = json.Marshal(map[string]string{"output": output})
		}
		return result, nil
	}
	return models.TextResult(output, elapsed), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
