package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aof-dev/aof/pkg/models"
)

// DefaultTimeout bounds a tool invocation when the tool config does not set
// its own.
const DefaultTimeout = 60 * time.Second

// TimeLimited is implemented by tools that carry their own execution budget.
// The executor prefers it over its configured default.
type TimeLimited interface {
	Timeout() time.Duration
}

// Executor invokes tools from a source with input validation and a timeout.
type Executor struct {
	source  Source
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor creates an executor over the given source. A zero timeout uses
// DefaultTimeout.
func NewExecutor(source Source, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		source:  source,
		timeout: timeout,
		logger:  logger.With("component", "tool_executor"),
	}
}

// Execute validates input against the tool's schema and invokes the tool
// under the timeout. Validation failures and timeouts come back as failed
// results, not errors; an error return means the executor itself broke.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) *models.ToolResult {
	tool, ok := e.source.Get(name)
	if !ok {
		return models.ErrorResult(fmt.Sprintf("tool not found: %s", name), 0)
	}

	if msg := validateInput(tool.Schema(), input); msg != "" {
		return models.ErrorResult(fmt.Sprintf("invalid input for %s: %s", name, msg), 0)
	}

	timeout := e.timeout
	if limited, ok := tool.(TimeLimited); ok {
		if d := limited.Timeout(); d > 0 {
			timeout = d
		}
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *models.ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := tool.Execute(runCtx, input)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			e.logger.Warn("tool failed", "tool", name, "error", out.err)
			return models.ErrorResult(out.err.Error(), elapsed)
		}
		result := out.result
		if result == nil {
			return models.ErrorResult("tool returned no result", elapsed)
		}
		result.ExecutionTimeMS = elapsed.Milliseconds()
		return result
	case <-runCtx.Done():
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			return models.ErrorResult("cancelled", elapsed)
		}
		e.logger.Warn("tool timed out", "tool", name, "timeout", timeout)
		return models.ErrorResult(fmt.Sprintf("timed out after %ds", int(timeout.Seconds())), elapsed)
	}
}

// validateInput performs a shallow schema check: the top-level type, the
// required list, and each declared property's type. Nested constraints are
// left to the tool. Returns an empty string when the input passes.
func validateInput(schema, input json.RawMessage) string {
	if len(schema) == 0 {
		return ""
	}
	shallow, err := shallowSchema(schema)
	if err != nil {
		// An unparsable schema never blocks invocation.
		return ""
	}
	if shallow == nil {
		return ""
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("input.json", strings.NewReader(string(shallow))); err != nil {
		return ""
	}
	compiled, err := compiler.Compile("input.json")
	if err != nil {
		return ""
	}

	var doc any
	if len(input) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Sprintf("input is not valid JSON: %v", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return err.Error()
	}
	return ""
}

// shallowSchema strips a tool schema down to top-level type, required, and
// per-property type, so validation stays structural.
func shallowSchema(schema json.RawMessage) (json.RawMessage, error) {
	var full struct {
		Type       string                     `json:"type"`
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &full); err != nil {
		return nil, err
	}
	if full.Type == "" && len(full.Required) == 0 && len(full.Properties) == 0 {
		return nil, nil
	}

	out := map[string]any{}
	if full.Type != "" {
		out["type"] = full.Type
	}
	if len(full.Required) > 0 {
		out["required"] = full.Required
	}
	if len(full.Properties) > 0 {
		props := map[string]any{}
		for name, raw := range full.Properties {
			var prop struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(raw, &prop); err != nil || prop.Type == "" {
				props[name] = map[string]any{}
				continue
			}
			props[name] = map[string]any{"type": prop.Type}
		}
		out["properties"] = props
	}
	return json.Marshal(out)
}
