package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/internal/resources"
)

const (
	// DefaultStopGrace bounds the drain wait before stragglers are cancelled.
	DefaultStopGrace = 10 * time.Second

	eventBuffer = 256
)

// Runner executes one agent turn on behalf of a fleet instance.
type Runner interface {
	Run(ctx context.Context, agent resources.FleetAgent, input string) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, agent resources.FleetAgent, input string) (string, error)

// Run calls the wrapped function.
func (f RunnerFunc) Run(ctx context.Context, agent resources.FleetAgent, input string) (string, error) {
	return f(ctx, agent, input)
}

// Coordinator owns the state of one fleet: its instances, its task ledger,
// and the global pending queue.
type Coordinator struct {
	fleet     *resources.Fleet
	runner    Runner
	logger    *slog.Logger
	stopGrace time.Duration

	mu        sync.Mutex
	instances []*Instance
	tasks     map[string]*Task
	order     []string
	queue     []string
	rrNext    int
	started   bool
	stopped   bool

	events   chan Event
	stopOnce sync.Once
	stopCh   chan struct{}
	inFlight sync.WaitGroup
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewCoordinator builds a coordinator for the fleet definition.
func NewCoordinator(fleet *resources.Fleet, runner Runner, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		fleet:     fleet,
		runner:    runner,
		logger:    logger.With("component", "fleet", "fleet", fleet.Name()),
		stopGrace: DefaultStopGrace,
		tasks:     make(map[string]*Task),
		events:    make(chan Event, eventBuffer),
		stopCh:    make(chan struct{}),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Events returns the fleet event channel. It closes on Stop.
func (c *Coordinator) Events() <-chan Event { return c.events }

// publish is non-blocking; slow consumers lose events rather than stall the
// coordinator.
func (c *Coordinator) publish(event Event) {
	event.Fleet = c.fleet.Name()
	event.Timestamp = time.Now()
	select {
	case c.events <- event:
	default:
	}
}

// Start spawns the configured replicas.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return &errs.Error{Kind: errs.KindValidation, Layer: "fleet", Message: "fleet already started: " + c.fleet.Name()}
	}
	c.started = true

	for _, agent := range c.fleet.Spec.Agents {
		for i := 0; i < agent.Count(); i++ {
			role := agent.Role
			if role == "" {
				role = resources.RoleWorker
			}
			instance := &Instance{
				ID:        fmt.Sprintf("%s-%d", agent.Name, i),
				Agent:     agent,
				AgentName: agent.Name,
				Role:      role,
				Status:    InstanceIdle,
			}
			c.instances = append(c.instances, instance)
			c.publish(Event{Type: EventAgentStarted, Instance: instance.ID})
		}
	}
	c.publish(Event{Type: EventStarted, Message: fmt.Sprintf("%d instances", len(c.instances))})
	c.logger.Info("fleet started", "instances", len(c.instances), "mode", c.fleet.Spec.Coordination.Mode)
	return nil
}

// Submit enqueues a task and returns its id. The ledger is bounded by the
// fleet's max_tasks.
func (c *Coordinator) Submit(input string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.stopped {
		return "", &errs.Error{Kind: errs.KindValidation, Layer: "fleet", Message: "fleet is not running"}
	}
	if len(c.tasks) >= c.fleet.TaskLimit() {
		return "", &errs.Error{
			Kind:    errs.KindQueueFull,
			Layer:   "fleet",
			Message: fmt.Sprintf("task ledger full (%d)", c.fleet.TaskLimit()),
		}
	}

	task := &Task{
		ID:          uuid.NewString(),
		Input:       input,
		Status:      TaskPending,
		SubmittedAt: time.Now(),
	}
	c.tasks[task.ID] = task
	c.order = append(c.order, task.ID)
	c.queue = append(c.queue, task.ID)
	c.publish(Event{Type: EventTaskSubmitted, Task: task.ID})
	return task.ID, nil
}

// ExecuteNext pops the oldest pending task, distributes it per the fleet's
// coordination mode, and returns the settled task. With an empty queue it
// returns nil.
func (c *Coordinator) ExecuteNext(ctx context.Context) (*Task, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, &errs.Error{Kind: errs.KindCancelled, Layer: "fleet", Message: "fleet stopped"}
	}
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return nil, nil
	}
	taskID := c.queue[0]
	c.queue = c.queue[1:]
	task := c.tasks[taskID]
	task.Status = TaskAssigned
	c.mu.Unlock()

	c.publish(Event{Type: EventTaskAssigned, Task: task.ID})
	c.inFlight.Add(1)
	defer c.inFlight.Done()

	runCtx, cancel := context.WithCancel(ctx)
	c.trackCancel(task.ID, cancel)
	defer c.untrackCancel(task.ID)

	var (
		result string
		err    error
	)
	switch c.fleet.Spec.Coordination.Mode {
	case resources.CoordRoundRobin:
		result, err = c.runRoundRobin(runCtx, task)
	case resources.CoordBroadcast:
		result, err = c.runBroadcast(runCtx, task)
	case resources.CoordConsensus:
		result, err = c.runConsensus(runCtx, task)
	case resources.CoordHierarchical:
		result, err = c.runHierarchical(runCtx, task)
	default:
		err = &errs.Error{Kind: errs.KindValidation, Layer: "fleet", Message: fmt.Sprintf("unknown coordination mode %q", c.fleet.Spec.Coordination.Mode)}
	}

	c.settle(task, result, err)
	return c.snapshot(task.ID), nil
}

// settle records exactly one terminal transition for the task.
func (c *Coordinator) settle(task *Task, result string, err error) {
	c.mu.Lock()
	if task.Terminal() {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	task.FinishedAt = &now
	if err != nil {
		task.Status = TaskFailed
		task.Error = err.Error()
	} else {
		task.Status = TaskCompleted
		task.Result = result
	}
	status := task.Status
	c.mu.Unlock()

	if status == TaskFailed {
		c.publish(Event{Type: EventTaskFailed, Task: task.ID, Message: task.Error})
	} else {
		c.publish(Event{Type: EventTaskCompleted, Task: task.ID})
	}
	c.logger.Info("fleet task settled", "task", task.ID, "status", status)
}

func (c *Coordinator) trackCancel(taskID string, cancel context.CancelFunc) {
	c.cancelMu.Lock()
	c.cancels[taskID] = cancel
	c.cancelMu.Unlock()
}

func (c *Coordinator) untrackCancel(taskID string) {
	c.cancelMu.Lock()
	if cancel, ok := c.cancels[taskID]; ok {
		cancel()
		delete(c.cancels, taskID)
	}
	c.cancelMu.Unlock()
}

// acquireIdle claims the next idle instance matching the role filter in
// round-robin order. It blocks until one frees up, the context ends, or the
// fleet stops.
func (c *Coordinator) acquireIdle(ctx context.Context, roles ...resources.AgentRole) (*Instance, error) {
	for {
		c.mu.Lock()
		n := len(c.instances)
		for i := 0; i < n; i++ {
			instance := c.instances[(c.rrNext+i)%n]
			if instance.Status != InstanceIdle || !roleMatches(instance.Role, roles) {
				continue
			}
			instance.Status = InstanceBusy
			c.rrNext = (c.rrNext + i + 1) % n
			c.mu.Unlock()
			return instance, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.stopCh:
			return nil, &errs.Error{Kind: errs.KindCancelled, Layer: "fleet", Message: "fleet stopping"}
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func roleMatches(role resources.AgentRole, filter []resources.AgentRole) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		if role == want {
			return true
		}
	}
	return false
}

// release returns an instance to the pool, or marks it failed.
func (c *Coordinator) release(instance *Instance, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if instance.Status == InstanceDraining {
		return
	}
	if failed {
		instance.Status = InstanceFailed
		return
	}
	instance.Status = InstanceIdle
	instance.TasksDone++
}

// runOn executes one turn on a claimed instance and releases it.
func (c *Coordinator) runOn(ctx context.Context, instance *Instance, input string) (string, error) {
	result, err := c.runner.Run(ctx, instance.Agent, input)
	c.release(instance, err != nil && ctx.Err() == nil)
	if err != nil {
		c.publish(Event{Type: EventError, Instance: instance.ID, Message: err.Error()})
	}
	return result, err
}

func (c *Coordinator) runRoundRobin(ctx context.Context, task *Task) (string, error) {
	instance, err := c.acquireIdle(ctx, resources.RoleWorker, resources.RoleSpecialist, "")
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	task.AssignedTo = instance.ID
	c.mu.Unlock()
	return c.runOn(ctx, instance, task.Input)
}

// runBroadcast dispatches to every instance and joins the results.
func (c *Coordinator) runBroadcast(ctx context.Context, task *Task) (string, error) {
	votes, err := c.collectVotes(ctx, task, 0)
	if err != nil {
		return "", err
	}
	if len(votes) == 0 {
		return "", fmt.Errorf("broadcast: no instance produced a result")
	}

	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s", id, votes[id])
	}
	return b.String(), nil
}

// collectVotes runs the task on all non-judge instances concurrently,
// bounded by the consensus timeout when one is configured.
func (c *Coordinator) collectVotes(ctx context.Context, task *Task, timeout time.Duration) (map[string]string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.mu.Lock()
	var voters []*Instance
	for _, instance := range c.instances {
		if instance.Role == resources.RoleJudge {
			continue
		}
		if instance.Status == InstanceIdle {
			instance.Status = InstanceBusy
			voters = append(voters, instance)
		}
	}
	c.mu.Unlock()
	if len(voters) == 0 {
		return nil, fmt.Errorf("no idle instances")
	}

	var voteMu sync.Mutex
	votes := make(map[string]string, len(voters))
	g, runCtx := errgroup.WithContext(ctx)
	for _, instance := range voters {
		g.Go(func() error {
			result, err := c.runOn(runCtx, instance, task.Input)
			if err != nil {
				return nil
			}
			voteMu.Lock()
			votes[instance.ID] = result
			voteMu.Unlock()
			return nil
		})
	}
	g.Wait()

	c.mu.Lock()
	task.Votes = votes
	c.mu.Unlock()
	if ctx.Err() != nil && len(votes) == 0 {
		return nil, ctx.Err()
	}
	return votes, nil
}

// runConsensus aggregates votes per the configured algorithm.
func (c *Coordinator) runConsensus(ctx context.Context, task *Task) (string, error) {
	cfg := c.fleet.Spec.Coordination.Consensus
	if cfg == nil {
		cfg = &resources.ConsensusConfig{}
	}

	votes, err := c.collectVotes(ctx, task, cfg.VoteTimeout())
	if err != nil {
		return "", fmt.Errorf("consensus_not_reached: %w", err)
	}

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = resources.ConsensusMajority
	}
	switch algorithm {
	case resources.ConsensusMajority:
		winner, count := modeOf(votes)
		required := cfg.MinVotes
		if required <= 0 {
			required = len(votes)/2 + 1
		}
		if count < required {
			return "", fmt.Errorf("consensus_not_reached: top answer has %d of %d required votes", count, required)
		}
		c.publish(Event{Type: EventConsensusReached, Task: task.ID, Message: fmt.Sprintf("%d votes", count)})
		return winner, nil

	case resources.ConsensusAll:
		winner, count := modeOf(votes)
		if count != len(votes) || count == 0 {
			return "", fmt.Errorf("consensus_not_reached: votes are not unanimous")
		}
		c.publish(Event{Type: EventConsensusReached, Task: task.ID, Message: "unanimous"})
		return winner, nil

	case resources.ConsensusJudge:
		judge, err := c.acquireIdle(ctx, resources.RoleJudge)
		if err != nil {
			return "", fmt.Errorf("consensus_not_reached: %w", err)
		}
		verdict, err := c.runOn(ctx, judge, judgePrompt(task.Input, votes))
		if err != nil {
			return "", fmt.Errorf("consensus_not_reached: judge: %w", err)
		}
		c.publish(Event{Type: EventConsensusReached, Task: task.ID, Message: "judge verdict"})
		return verdict, nil
	}
	return "", fmt.Errorf("consensus_not_reached: unknown algorithm %q", algorithm)
}

// modeOf returns the most common vote value and its count, breaking ties by
// instance id order for determinism.
func modeOf(votes map[string]string) (string, int) {
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	counts := make(map[string]int, len(votes))
	best, bestCount := "", 0
	for _, id := range ids {
		value := votes[id]
		counts[value]++
		if counts[value] > bestCount {
			best, bestCount = value, counts[value]
		}
	}
	return best, bestCount
}

func judgePrompt(input string, votes map[string]string) string {
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	b.WriteString("Task: " + input + "\n\nCandidate answers:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, votes[id])
	}
	b.WriteString("\nPick the best answer and return it verbatim.")
	return b.String()
}

// runHierarchical routes through the coordinator role: plan, fan subtasks to
// workers and specialists, then assemble.
func (c *Coordinator) runHierarchical(ctx context.Context, task *Task) (string, error) {
	return c.runHierarchicalDepth(ctx, task.Input, 0)
}

func (c *Coordinator) runHierarchicalDepth(ctx context.Context, input string, depth int) (string, error) {
	maxDepth := c.fleet.Spec.Coordination.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if depth >= maxDepth {
		return "", fmt.Errorf("hierarchical depth limit %d reached", maxDepth)
	}

	lead, err := c.acquireIdle(ctx, resources.RoleCoordinator)
	if err != nil {
		return "", err
	}
	plan, err := c.runOn(ctx, lead, input)
	if err != nil {
		return "", fmt.Errorf("coordinator plan: %w", err)
	}

	worker, err := c.acquireIdle(ctx, resources.RoleWorker, resources.RoleSpecialist)
	if err != nil {
		return "", err
	}
	subResult, err := c.runOn(ctx, worker, plan)
	if err != nil {
		return "", fmt.Errorf("subtask: %w", err)
	}

	lead, err = c.acquireIdle(ctx, resources.RoleCoordinator)
	if err != nil {
		return "", err
	}
	final, err := c.runOn(ctx, lead, fmt.Sprintf("Original task: %s\n\nSubtask result:\n%s\n\nAssemble the final answer.", input, subResult))
	if err != nil {
		return "", fmt.Errorf("coordinator assemble: %w", err)
	}
	return final, nil
}

// Get returns a copy of one task.
func (c *Coordinator) Get(id string) *Task {
	return c.snapshot(id)
}

func (c *Coordinator) snapshot(id string) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok {
		return nil
	}
	copied := *task
	if task.Votes != nil {
		copied.Votes = make(map[string]string, len(task.Votes))
		for k, v := range task.Votes {
			copied.Votes[k] = v
		}
	}
	return &copied
}

// Tasks lists all tasks in submission order.
func (c *Coordinator) Tasks() []*Task {
	c.mu.Lock()
	order := append([]string(nil), c.order...)
	c.mu.Unlock()
	out := make([]*Task, 0, len(order))
	for _, id := range order {
		out = append(out, c.snapshot(id))
	}
	return out
}

// Instances lists instance snapshots.
func (c *Coordinator) Instances() []Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Instance, len(c.instances))
	for i, instance := range c.instances {
		out[i] = *instance
	}
	return out
}

// Stop drains the fleet: instances go draining, in-flight tasks get the
// grace period, stragglers are cancelled. Idempotent.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		for _, instance := range c.instances {
			instance.Status = InstanceDraining
		}
		c.mu.Unlock()
		close(c.stopCh)

		done := make(chan struct{})
		go func() {
			c.inFlight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(c.stopGrace):
			c.cancelMu.Lock()
			for _, cancel := range c.cancels {
				cancel()
			}
			c.cancelMu.Unlock()
			<-done
		}

		c.publish(Event{Type: EventStopped})
		close(c.events)
		c.logger.Info("fleet stopped")
	})
}
