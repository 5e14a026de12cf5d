package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aof-dev/aof/internal/activity"
	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/internal/tools"
	"github.com/aof-dev/aof/pkg/models"
)

// DefaultMaxParallelTools bounds concurrent tool execution within one
// response.
const DefaultMaxParallelTools = 10

const argsPreviewLen = 120

// RunStopReason explains why an agent run terminated.
type RunStopReason string

const (
	RunStopEnd             RunStopReason = "end"
	RunStopMaxIterations   RunStopReason = "max_iterations"
	RunStopCancelled       RunStopReason = "cancelled"
	RunStopSchemaViolation RunStopReason = "schema_violation"
)

// RunResult is the outcome of one agent run.
type RunResult struct {
	Message      models.Message
	Messages     []models.Message
	StopReason   RunStopReason
	Iterations   int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Executor runs agent conversations against a provider and a tool source.
type Executor struct {
	provider         Provider
	toolSource       tools.Source
	toolExec         *tools.Executor
	logger           *slog.Logger
	maxParallelTools int

	// stream, when set, receives LLM deltas for the duration of a run.
	stream chan<- models.StreamEvent
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxParallelTools overrides the per-response tool concurrency bound.
func WithMaxParallelTools(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallelTools = n
		}
	}
}

// WithStream subscribes a delta channel. The caller owns the channel; the
// executor never closes it.
func WithStream(ch chan<- models.StreamEvent) Option {
	return func(e *Executor) { e.stream = ch }
}

// NewExecutor creates an agent executor.
func NewExecutor(provider Provider, toolSource tools.Source, toolExec *tools.Executor, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		provider:         provider,
		toolSource:       toolSource,
		toolExec:         toolExec,
		logger:           logger.With("component", "agent_executor"),
		maxParallelTools: DefaultMaxParallelTools,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one conversation to termination. History, when present, seeds
// the message sequence before the user input. Events flow to the observer in
// emission order.
func (e *Executor) Run(ctx context.Context, agent *resources.Agent, input string, history []models.Message, observer activity.Observer) (*RunResult, error) {
	if observer == nil {
		observer = activity.NullObserver{}
	}
	start := time.Now()
	spec := &agent.Spec
	ctx = tools.WithInvoker(ctx, agent.Metadata.Name)
	available := e.toolsFor(spec)

	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, history...)
	messages = append(messages, models.Message{
		Role:      models.RoleUser,
		Content:   input,
		CreatedAt: time.Now(),
	})

	observer.Observe(models.NewActivity(models.ActivityStarted, "agent run started"))

	result := &RunResult{StopReason: RunStopEnd}
	schemaRetried := false
	maxIterations := agent.Iterations()

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return e.finish(result, messages, RunStopCancelled, start, observer), nil
		}
		result.Iterations = iteration + 1

		req := &ModelRequest{
			Messages:    messages,
			System:      spec.SystemPrompt,
			Tools:       available,
			Temperature: spec.Temperature,
			MaxTokens:   spec.MaxTokens,
		}

		observer.Observe(models.NewActivity(models.ActivityLLMCall, fmt.Sprintf("calling %s", spec.Model)))
		observer.Observe(models.NewActivity(models.ActivityLLMWaiting, "waiting for model"))
		resp, err := e.generate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(result, messages, RunStopCancelled, start, observer), nil
			}
			observer.Observe(models.NewActivity(models.ActivityError, "llm call failed").WithError(err))
			return nil, &errs.Error{Kind: errs.KindTransport, Layer: "agent", Message: "llm call failed", Cause: err}
		}
		result.InputTokens += resp.Usage.InputTokens
		result.OutputTokens += resp.Usage.OutputTokens
		observer.Observe(models.NewActivity(models.ActivityLLMResponse, "model responded").
			WithTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens))

		assistant := models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			CreatedAt: time.Now(),
		}
		messages = append(messages, assistant)

		if len(resp.ToolCalls) == 0 {
			if len(spec.OutputSchema) > 0 {
				if violation := validateOutput(spec.OutputSchema, resp.Content); violation != "" {
					observer.Observe(models.NewActivity(models.ActivityValidation, "output schema violation: "+violation))
					if !schemaRetried {
						schemaRetried = true
						messages = append(messages, models.Message{
							Role:      models.RoleUser,
							Content:   "Your previous answer did not match the required output schema: " + violation + ". Respond again with JSON that conforms to the schema.",
							CreatedAt: time.Now(),
						})
						continue
					}
					return e.finish(result, messages, RunStopSchemaViolation, start, observer), nil
				}
			}
			return e.finish(result, messages, RunStopEnd, start, observer), nil
		}

		if err := ctx.Err(); err != nil {
			return e.finish(result, messages, RunStopCancelled, start, observer), nil
		}

		toolMessages := e.executeToolCalls(ctx, resp.ToolCalls, observer)
		messages = append(messages, toolMessages...)
		result.ToolCalls += len(resp.ToolCalls)
	}

	return e.finish(result, messages, RunStopMaxIterations, start, observer), nil
}

// toolsFor selects the definitions an agent may call. An empty tools list
// advertises every known tool; qualified refs resolve against their backend.
func (e *Executor) toolsFor(spec *resources.AgentSpec) []tools.Definition {
	all := e.toolSource.List()
	if len(spec.Tools) == 0 {
		return all
	}
	byName := make(map[string]tools.Definition, len(all))
	for _, def := range all {
		byName[def.Name] = def
	}
	defs := make([]tools.Definition, 0, len(spec.Tools))
	for _, ref := range spec.Tools {
		name := ref.Ref()
		if def, ok := byName[name]; ok {
			defs = append(defs, def)
			continue
		}
		if tool, ok := e.toolSource.Get(name); ok {
			defs = append(defs, tools.Definition{
				Name:        name,
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			})
			continue
		}
		e.logger.Warn("agent references unknown tool", "tool", name)
	}
	return defs
}

// generate prefers the streaming path when both the provider and the caller
// support it. Tool calls are only dispatched after the response is complete.
func (e *Executor) generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	if e.stream != nil {
		if streamer, ok := e.provider.(StreamingProvider); ok {
			return streamer.Stream(ctx, req, e.stream)
		}
	}
	return e.provider.Generate(ctx, req)
}

// executeToolCalls runs the calls in parallel under the concurrency bound
// and returns one tool message per call, in the order the model requested.
func (e *Executor) executeToolCalls(ctx context.Context, calls []models.ToolCall, observer activity.Observer) []models.Message {
	results := make([]*models.ToolResult, len(calls))
	sem := make(chan struct{}, e.maxParallelTools)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ErrorResult("cancelled", 0)
				return
			}

			observer.Observe(models.NewActivity(models.ActivityToolExecuting, "executing "+call.Name).
				WithTool(call.Name, previewArgs(call.Arguments)))

			if _, ok := e.toolSource.Get(call.Name); !ok {
				// The model may recover from a bad tool name; feed the
				// failure back instead of aborting the run.
				results[idx] = models.ErrorResult("tool not found: "+call.Name, 0)
				observer.Observe(models.NewActivity(models.ActivityToolFailed, call.Name+" not found").
					WithTool(call.Name, ""))
				return
			}

			result := e.toolExec.Execute(ctx, call.Name, call.Arguments)
			results[idx] = result
			if result.Success {
				observer.Observe(models.NewActivity(models.ActivityToolComplete, call.Name+" completed").
					WithTool(call.Name, "").
					WithDuration(time.Duration(result.ExecutionTimeMS) * time.Millisecond))
			} else {
				observer.Observe(models.NewActivity(models.ActivityToolFailed, call.Name+" failed: "+result.Error).
					WithTool(call.Name, ""))
			}
		}(i, call)
	}
	wg.Wait()

	// One tool message per call, keyed back by tool_call_id in request order.
	messages := make([]models.Message, len(calls))
	for i, call := range calls {
		messages[i] = models.Message{
			Role:       models.RoleTool,
			Content:    stringifyResult(results[i]),
			ToolCallID: call.ID,
			CreatedAt:  time.Now(),
		}
	}
	return messages
}

func (e *Executor) finish(result *RunResult, messages []models.Message, reason RunStopReason, start time.Time, observer activity.Observer) *RunResult {
	result.StopReason = reason
	result.Messages = messages
	result.Duration = time.Since(start)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			result.Message = messages[i]
			break
		}
	}

	switch reason {
	case RunStopCancelled:
		observer.Observe(models.NewActivity(models.ActivityCancelled, "agent run cancelled"))
	default:
		observer.Observe(models.NewActivity(models.ActivityCompleted,
			fmt.Sprintf("agent run finished (%s)", reason)).WithDuration(result.Duration))
	}
	return result
}

func stringifyResult(result *models.ToolResult) string {
	if result == nil {
		return `{"success":false,"error":"no result"}`
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(encoded)
}

func previewArgs(args json.RawMessage) string {
	s := string(args)
	if len(s) > argsPreviewLen {
		return s[:argsPreviewLen] + "..."
	}
	return s
}

// validateOutput checks the final assistant content against the agent's
// output schema. Returns a description of the violation, or empty on pass.
func validateOutput(schema json.RawMessage, content string) string {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", strings.NewReader(string(schema))); err != nil {
		return ""
	}
	compiled, err := compiler.Compile("output.json")
	if err != nil {
		return ""
	}

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return "response is not valid JSON"
	}
	if err := compiled.Validate(doc); err != nil {
		return err.Error()
	}
	return ""
}
