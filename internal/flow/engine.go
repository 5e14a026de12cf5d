package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aof-dev/aof/internal/activity"
	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/pkg/models"
)

const (
	httpBodyLimit      = 1 << 20
	defaultHTTPTimeout = 30 * time.Second
)

// AgentRunner executes one agent turn for an Agent node.
type AgentRunner interface {
	RunAgent(ctx context.Context, name, input string, observer activity.Observer) (string, error)
}

// AgentRunnerFunc adapts a function to AgentRunner.
type AgentRunnerFunc func(ctx context.Context, name, input string, observer activity.Observer) (string, error)

// RunAgent calls the wrapped function.
func (f AgentRunnerFunc) RunAgent(ctx context.Context, name, input string, observer activity.Observer) (string, error) {
	return f(ctx, name, input, observer)
}

// Notifier posts a message to a chat platform for Slack/Discord nodes.
type Notifier interface {
	Post(ctx context.Context, platform, channel, text string) error
}

// Status is the terminal disposition of a flow run.
type Status string

const (
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusNoMatchingEdge Status = "no_matching_edge"
	StatusCancelled      Status = "cancelled"
)

// Result is the outcome of one flow run.
type Result struct {
	RunID          string         `json:"run_id"`
	Status         Status         `json:"status"`
	State          map[string]any `json:"state"`
	CompletedNodes []string       `json:"completed_nodes"`
	Error          string         `json:"error,omitempty"`
}

// Engine walks AgentFlow DAGs node by node.
type Engine struct {
	agents      AgentRunner
	notifier    Notifier
	interrupts  *Interrupts
	checkpoints CheckpointStore
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewEngine wires the engine's collaborators. notifier and checkpoints may be
// nil when those node types and checkpointing are unused.
func NewEngine(agents AgentRunner, notifier Notifier, interrupts *Interrupts, checkpoints CheckpointStore, logger *slog.Logger) *Engine {
	if interrupts == nil {
		interrupts = NewInterrupts()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		agents:      agents,
		notifier:    notifier,
		interrupts:  interrupts,
		checkpoints: checkpoints,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:      logger.With("component", "flow"),
	}
}

// Interrupts exposes the pending-interrupt registry for resume endpoints.
func (e *Engine) Interrupts() *Interrupts { return e.interrupts }

// Execute runs a flow from its entry node against the initial state.
func (e *Engine) Execute(ctx context.Context, flow *resources.Flow, initial map[string]any, observer activity.Observer) (*Result, error) {
	return e.run(ctx, flow, initial, uuid.NewString(), nil, false, observer)
}

// Resume re-enters a previously checkpointed run.
func (e *Engine) Resume(ctx context.Context, flow *resources.Flow, cp *Checkpoint, observer activity.Observer) (*Result, error) {
	skip := flow.Spec.Config.Checkpointing.Recovery.SkipCompleted
	return e.run(ctx, flow, cp.State, cp.RunID, cp.CompletedNodes, skip, observer)
}

// RecoverAll resumes every unfinished checkpointed run whose flow declares
// auto_resume. Returns the number of runs re-entered.
func (e *Engine) RecoverAll(ctx context.Context, resolve func(name string) (*resources.Flow, bool), observer activity.Observer) int {
	if e.checkpoints == nil {
		return 0
	}
	pending, err := e.checkpoints.ListUnfinished()
	if err != nil {
		e.logger.Warn("checkpoint scan failed", "error", err)
		return 0
	}
	resumed := 0
	for _, cp := range pending {
		flow, ok := resolve(cp.Flow)
		if !ok || !flow.Spec.Config.Checkpointing.Recovery.AutoResume {
			continue
		}
		e.logger.Info("resuming flow run", "flow", cp.Flow, "run", cp.RunID)
		if _, err := e.Resume(ctx, flow, cp, observer); err != nil {
			e.logger.Error("resume failed", "flow", cp.Flow, "run", cp.RunID, "error", err)
			continue
		}
		resumed++
	}
	return resumed
}

// flowRun is the per-run mutable context shared by the walker and branch
// runners.
type flowRun struct {
	engine        *Engine
	flow          *resources.Flow
	state         *State
	observer      activity.Observer
	runID         string
	skipCompleted bool
	pending       []string
	lastSaved     time.Time
	handledError  bool

	// mu guards the fields branch runners write concurrently.
	mu        sync.Mutex
	completed map[string]bool
	order     []string
	results   map[string]any
	version   int
}

func (e *Engine) run(ctx context.Context, flow *resources.Flow, initial map[string]any, runID string, completed []string, skipCompleted bool, observer activity.Observer) (*Result, error) {
	if observer == nil {
		observer = activity.NullObserver{}
	}
	entry, ok := flow.Entry()
	if !ok {
		return nil, &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "flow has no nodes: " + flow.Name()}
	}

	r := &flowRun{
		engine:        e,
		flow:          flow,
		state:         NewState(initial, flow.Spec.Config.Reducers),
		observer:      observer,
		runID:         runID,
		completed:     make(map[string]bool, len(completed)),
		order:         append([]string(nil), completed...),
		skipCompleted: skipCompleted,
		results:       make(map[string]any),
	}
	for _, id := range completed {
		r.completed[id] = true
	}

	observer.Observe(models.NewActivity(models.ActivityStarted, "flow "+flow.Name()))
	e.logger.Info("flow started", "flow", flow.Name(), "run", runID)

	status, runErr := r.walk(ctx, entry)

	result := &Result{
		RunID:          runID,
		Status:         status,
		State:          r.state.Snapshot(),
		CompletedNodes: r.completedNodes(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	r.checkpoint(status)

	switch status {
	case StatusCompleted:
		observer.Observe(models.NewActivity(models.ActivityCompleted, "flow "+flow.Name()))
	case StatusCancelled:
		observer.Observe(models.NewActivity(models.ActivityCancelled, "flow "+flow.Name()))
	default:
		observer.Observe(models.NewActivity(models.ActivityError, "flow "+flow.Name()).WithError(runErr))
	}
	e.logger.Info("flow settled", "flow", flow.Name(), "run", runID, "status", status)
	return result, nil
}

// walk drives nodes until a terminal condition.
func (r *flowRun) walk(ctx context.Context, node *resources.FlowNode) (Status, error) {
	for {
		if ctx.Err() != nil {
			return StatusCancelled, ctx.Err()
		}

		if node.Type == resources.NodeParallel {
			if r.skipCompleted && r.isCompleted(node.ID) {
				// The whole fan-out already ran; continue from its join.
				join, err := r.joinFor(node)
				if err != nil {
					return StatusFailed, err
				}
				node = join
			} else {
				join, err := r.runParallel(ctx, node)
				if err != nil {
					return r.settleError(ctx, node, err)
				}
				r.markCompleted(node.ID)
				r.markCompleted(join.ID)
				node = join
			}
		} else if r.skipCompleted && r.isCompleted(node.ID) {
			// Already done in the checkpointed run.
		} else {
			wrote, err := r.executeWithRetry(ctx, node)
			if err != nil {
				if ctx.Err() != nil {
					return StatusCancelled, ctx.Err()
				}
				return r.settleError(ctx, node, err)
			}
			r.markCompleted(node.ID)
			r.checkpointAfterNode(wrote)
		}

		if node.Type == resources.NodeEnd {
			return r.terminalStatus(node)
		}

		next, status := r.selectNext(node)
		if next == nil {
			return status, nil
		}
		node = next
	}
}

// terminalStatus reads the End node's declared disposition. Translated
// workflow terminals may conclude failed or cancelled.
func (r *flowRun) terminalStatus(node *resources.FlowNode) (Status, error) {
	switch node.ConfigString("status") {
	case string(resources.TerminalFailed):
		return StatusFailed, fmt.Errorf("flow ended at %s with declared failure", node.ID)
	case string(resources.TerminalCancelled):
		return StatusCancelled, nil
	default:
		return StatusCompleted, nil
	}
}

// settleError routes a node failure: a node-local on_error edge first, then
// the flow's error_handler, then the run fails.
func (r *flowRun) settleError(ctx context.Context, node *resources.FlowNode, cause error) (Status, error) {
	r.observer.Observe(models.NewActivity(models.ActivityError, "node "+node.ID+" failed").WithError(cause))
	r.state.Set("error", cause.Error())

	for _, conn := range r.flow.Outgoing(node.ID) {
		if conn.When == "on_error" {
			if next, ok := r.flow.Node(conn.To); ok {
				return r.walk(ctx, next)
			}
		}
	}
	if handler := r.flow.Spec.Config.ErrorHandler; handler != "" && !r.handledError {
		r.handledError = true
		if next, ok := r.flow.Node(handler); ok {
			return r.walk(ctx, next)
		}
	}
	return StatusFailed, cause
}

// selectNext picks the outgoing connection to follow. Guarded edges are
// evaluated in declaration order; an unguarded edge is the fallback. No edges
// ends the flow normally; only unmatched guards end it with no_matching_edge.
func (r *flowRun) selectNext(node *resources.FlowNode) (*resources.FlowNode, Status) {
	conns := r.flow.Outgoing(node.ID)

	// on_error edges only fire through settleError; a node whose only edge
	// is on_error is terminal on success.
	var fallback *resources.Connection
	candidates := 0
	for i := range conns {
		conn := &conns[i]
		if conn.When == "on_error" {
			continue
		}
		candidates++
		if conn.When == "" {
			if fallback == nil {
				fallback = conn
			}
			continue
		}
		if r.edgeMatches(node, conn.When) {
			if next, ok := r.flow.Node(conn.To); ok {
				return next, StatusRunning
			}
		}
	}
	if fallback != nil {
		if next, ok := r.flow.Node(fallback.To); ok {
			return next, StatusRunning
		}
	}
	if candidates == 0 {
		return nil, StatusCompleted
	}
	return nil, StatusNoMatchingEdge
}

// edgeMatches evaluates a when guard. On a conditional node a literal guard
// is matched against the node's result, not evaluated as an expression.
func (r *flowRun) edgeMatches(node *resources.FlowNode, when string) bool {
	if node.Type == resources.NodeConditional {
		if result, ok := r.result(node.ID); ok {
			if stringify(result) == when {
				return true
			}
			if isLiteral(when) {
				return false
			}
		}
	}
	matched, err := EvalCondition(when, r.state)
	if err != nil {
		r.engine.logger.Warn("edge condition failed", "node", node.ID, "when", when, "error", err)
		return false
	}
	return matched
}

// isLiteral reports whether a guard is a plain literal token.
func isLiteral(s string) bool {
	switch s {
	case "true", "false", "null", "nil":
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return true
		}
	}
	return false
}

// executeWithRetry runs one node under the flow's retry policy.
func (r *flowRun) executeWithRetry(ctx context.Context, node *resources.FlowNode) (bool, error) {
	retry := r.flow.Spec.Config.Retry
	attempts := retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		wrote, err := r.executeNode(ctx, node)
		if err == nil {
			return wrote, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		delay := retry.Delay(attempt)
		r.engine.logger.Warn("node retry", "flow", r.flow.Name(), "node", node.ID, "attempt", attempt, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
	return false, lastErr
}

// executeNode dispatches on node type. The bool reports whether state was
// written, for change-frequency checkpointing.
func (r *flowRun) executeNode(ctx context.Context, node *resources.FlowNode) (bool, error) {
	if timeout := r.flow.Spec.Config.NodeTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch node.Type {
	case resources.NodeTransform:
		return true, r.runTransform(node)
	case resources.NodeAgent:
		return true, r.runAgent(ctx, node)
	case resources.NodeConditional:
		return true, r.runConditional(node)
	case resources.NodeWait:
		return false, r.runWait(ctx, node)
	case resources.NodeHTTP:
		return true, r.runHTTP(ctx, node)
	case resources.NodeApproval:
		return true, r.runApproval(ctx, node)
	case resources.NodeSlack, resources.NodeDiscord:
		return false, r.runNotify(ctx, node)
	case resources.NodeEnd, resources.NodeJoin:
		return false, nil
	default:
		return false, &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: fmt.Sprintf("unknown node type %q", node.Type)}
	}
}

func (r *flowRun) runTransform(node *resources.FlowNode) error {
	script := node.ConfigString("script")
	if script == "" {
		return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "transform node " + node.ID + " has no script"}
	}
	value, err := Eval(script, r.state)
	if err != nil {
		return fmt.Errorf("transform %s: %w", node.ID, err)
	}
	r.setResult(node.ID, value)
	return nil
}

func (r *flowRun) runAgent(ctx context.Context, node *resources.FlowNode) error {
	if r.engine.agents == nil {
		return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "no agent runner configured"}
	}
	name := node.ConfigString("agent")
	if name == "" {
		return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "agent node " + node.ID + " names no agent"}
	}
	input := Interpolate(node.ConfigString("input"), r.state)
	if input == "" {
		if v, ok := r.state.Get("input"); ok {
			input = stringify(v)
		}
	}
	output, err := r.engine.agents.RunAgent(ctx, name, input, r.observer)
	if err != nil {
		return fmt.Errorf("agent %s: %w", name, err)
	}
	r.setResult(node.ID, output)
	return nil
}

func (r *flowRun) runConditional(node *resources.FlowNode) error {
	condition := node.ConfigString("condition")
	if condition == "" {
		return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "conditional node " + node.ID + " has no condition"}
	}
	value, err := Eval(condition, r.state)
	if err != nil {
		return fmt.Errorf("conditional %s: %w", node.ID, err)
	}
	r.setResult(node.ID, value)
	return nil
}

func (r *flowRun) runWait(ctx context.Context, node *resources.FlowNode) error {
	raw := node.ConfigString("duration")
	d, err := time.ParseDuration(raw)
	if err != nil {
		return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: fmt.Sprintf("wait node %s: bad duration %q", node.ID, raw)}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *flowRun) runHTTP(ctx context.Context, node *resources.FlowNode) error {
	url := Interpolate(node.ConfigString("url"), r.state)
	if url == "" {
		return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "http node " + node.ID + " has no url"}
	}
	method := strings.ToUpper(node.ConfigString("method"))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if raw := node.ConfigString("body"); raw != "" {
		body = strings.NewReader(Interpolate(raw, r.state))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("http %s: %w", node.ID, err)
	}
	if headers, ok := node.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, Interpolate(stringify(v), r.state))
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.engine.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", node.ID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
	if err != nil {
		return fmt.Errorf("http %s: read body: %w", node.ID, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %s: status %d", node.ID, resp.StatusCode)
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		parsed = string(data)
	}
	r.setResult(node.ID, map[string]any{"status": float64(resp.StatusCode), "body": parsed})
	return nil
}

func (r *flowRun) runApproval(ctx context.Context, node *resources.FlowNode) error {
	prompt := Interpolate(node.ConfigString("prompt"), r.state)
	typ := InterruptConfirm
	if t := node.ConfigString("type"); t == string(InterruptInput) {
		typ = InterruptInput
	}
	var schema json.RawMessage
	if raw, ok := node.Config["schema"]; ok {
		data, err := json.Marshal(raw)
		if err == nil {
			schema = data
		}
	}

	interrupt, resume := r.engine.interrupts.Raise(Interrupt{
		Type:   typ,
		Prompt: prompt,
		Schema: schema,
		Flow:   r.flow.Name(),
		RunID:  r.runID,
		Node:   node.ID,
	})
	r.observer.Observe(models.NewActivity(models.ActivityInfo, "awaiting approval: "+interrupt.ID))
	r.engine.logger.Info("flow suspended", "flow", r.flow.Name(), "run", r.runID, "interrupt", interrupt.ID)

	var wait <-chan time.Time
	if raw := node.ConfigString("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timer := time.NewTimer(d)
			defer timer.Stop()
			wait = timer.C
		}
	}

	select {
	case value, ok := <-resume:
		if !ok {
			return &errs.Error{Kind: errs.KindCancelled, Layer: "flow", Message: "approval cancelled: " + node.ID}
		}
		r.setResult(node.ID, value)
		return nil
	case <-wait:
		r.engine.interrupts.Cancel(interrupt.ID)
		return &errs.Error{Kind: errs.KindTimeout, Layer: "flow", Message: "approval timed out: " + node.ID}
	case <-ctx.Done():
		r.engine.interrupts.Cancel(interrupt.ID)
		return ctx.Err()
	}
}

func (r *flowRun) runNotify(ctx context.Context, node *resources.FlowNode) error {
	if r.engine.notifier == nil {
		return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "no notifier configured for node " + node.ID}
	}
	channel := node.ConfigString("channel")
	message := Interpolate(node.ConfigString("message"), r.state)
	if err := r.engine.notifier.Post(ctx, string(node.Type), channel, message); err != nil {
		return fmt.Errorf("%s notify %s: %w", node.Type, node.ID, err)
	}
	return nil
}

// branchOutcome is the terminal result of one parallel branch.
type branchOutcome struct {
	name   string
	result any
	err    error
}

// runParallel fans out branch runners and applies the join strategy. It
// returns the join node the walk continues from.
func (r *flowRun) runParallel(ctx context.Context, node *resources.FlowNode) (*resources.FlowNode, error) {
	branches := r.flow.Outgoing(node.ID)
	join, err := r.joinFor(node)
	if err != nil {
		return nil, err
	}
	strategy := join.ConfigString("strategy")
	if strategy == "" {
		strategy = "all"
	}
	tolerate := join.ConfigBool("tolerate_failures")

	branchCtx := ctx
	var cancelWait context.CancelFunc
	if raw := join.ConfigString("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			branchCtx, cancelWait = context.WithTimeout(ctx, d)
		}
	}
	if cancelWait == nil {
		branchCtx, cancelWait = context.WithCancel(ctx)
	}
	defer cancelWait()

	r.pending = make([]string, len(branches))
	for i, edge := range branches {
		r.pending[i] = edge.To
	}
	r.checkpointAfterNode(true)

	outcomes := make([]branchOutcome, len(branches))
	g, groupCtx := errgroup.WithContext(branchCtx)
	for i, edge := range branches {
		g.Go(func() error {
			result, err := r.runBranch(groupCtx, edge.To, join.ID)
			outcomes[i] = branchOutcome{name: edge.To, result: result, err: err}
			if strategy == "any" && err == nil {
				cancelWait()
			}
			return nil
		})
	}
	g.Wait()
	r.pending = nil

	results := make(map[string]any, len(outcomes))
	successes := 0
	var firstErr error
	for _, out := range outcomes {
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		successes++
		results[out.name] = out.result
	}

	required := 0
	switch strategy {
	case "any":
		required = 1
	case "majority":
		required = len(branches)/2 + 1
	default:
		required = len(branches)
		if tolerate {
			required = 1
		}
	}
	if successes < required {
		if firstErr == nil {
			firstErr = fmt.Errorf("join %s: %d of %d branches succeeded, %d required", join.ID, successes, len(branches), required)
		}
		return nil, firstErr
	}

	r.setResult(join.ID, results)
	r.checkpointAfterNode(true)
	return join, nil
}

// joinFor resolves the join node a parallel fan-out converges on.
func (r *flowRun) joinFor(node *resources.FlowNode) (*resources.FlowNode, error) {
	branches := r.flow.Outgoing(node.ID)
	if len(branches) == 0 {
		return nil, &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "parallel node " + node.ID + " has no branches"}
	}
	join := r.findJoin(branches[0].To)
	if join == nil {
		return nil, &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "parallel node " + node.ID + " reaches no join"}
	}
	return join, nil
}

// runBranch executes nodes from start until joinID. On a resumed run, nodes
// recorded in the checkpoint are skipped.
func (r *flowRun) runBranch(ctx context.Context, start, joinID string) (any, error) {
	id := start
	var last any
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if id == joinID {
			return last, nil
		}
		node, ok := r.flow.Node(id)
		if !ok {
			return nil, &errs.Error{Kind: errs.KindNotFound, Layer: "flow", Message: "unknown node: " + id}
		}
		if !(r.skipCompleted && r.isCompleted(node.ID)) {
			if _, err := r.executeWithRetry(ctx, node); err != nil {
				return nil, err
			}
			r.markCompleted(node.ID)
		}
		if v, ok := r.state.Get(node.ID); ok {
			last = v
		}

		next, status := r.selectNext(node)
		if next == nil {
			if status == StatusNoMatchingEdge {
				return nil, fmt.Errorf("branch via %s: no matching edge from %s", start, node.ID)
			}
			return last, nil
		}
		id = next.ID
	}
}

// findJoin walks forward from a branch head to the first Join node.
func (r *flowRun) findJoin(from string) *resources.FlowNode {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		if node, ok := r.flow.Node(id); ok && node.Type == resources.NodeJoin {
			return node
		}
		for _, conn := range r.flow.Outgoing(id) {
			stack = append(stack, conn.To)
		}
	}
	return nil
}

func (r *flowRun) setResult(nodeID string, value any) {
	r.mu.Lock()
	r.results[nodeID] = value
	r.version++
	r.mu.Unlock()
	r.state.Set(nodeID, value)
}

func (r *flowRun) result(nodeID string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.results[nodeID]
	return v, ok
}

func (r *flowRun) markCompleted(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.completed[nodeID] {
		r.completed[nodeID] = true
		r.order = append(r.order, nodeID)
	}
}

func (r *flowRun) isCompleted(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed[nodeID]
}

func (r *flowRun) completedNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// checkpointAfterNode honors the configured frequency.
func (r *flowRun) checkpointAfterNode(wrote bool) {
	cfg := r.flow.Spec.Config.Checkpointing
	if !cfg.Enabled || r.engine.checkpoints == nil {
		return
	}
	switch cfg.Frequency {
	case resources.CheckpointChange:
		if !wrote {
			return
		}
	case resources.CheckpointInterval:
		if interval := cfg.Interval.Std(); interval > 0 && time.Since(r.lastSaved) < interval {
			return
		}
	}
	r.checkpoint(StatusRunning)
}

func (r *flowRun) checkpoint(status Status) {
	cfg := r.flow.Spec.Config.Checkpointing
	if !cfg.Enabled || r.engine.checkpoints == nil {
		return
	}
	r.mu.Lock()
	version := r.version
	r.mu.Unlock()
	cp := &Checkpoint{
		Flow:            r.flow.Name(),
		RunID:           r.runID,
		State:           r.state.Snapshot(),
		CompletedNodes:  r.completedNodes(),
		PendingBranches: append([]string(nil), r.pending...),
		Status:          status,
		CreatedAt:       time.Now(),
		Version:         version,
	}
	if err := r.engine.checkpoints.Save(cp); err != nil {
		r.engine.logger.Warn("checkpoint write failed", "flow", r.flow.Name(), "run", r.runID, "error", err)
		return
	}
	r.lastSaved = time.Now()
}
