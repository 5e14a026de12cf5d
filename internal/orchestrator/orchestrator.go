// Package orchestrator admits, tracks, and cancels tasks. Admission is
// capacity-gated; there is no implicit queue. Execution is delegated to the
// registered executor for the task's resource kind.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aof-dev/aof/internal/activity"
	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/pkg/models"
)

// Executor runs one admitted task to completion and returns its result.
type Executor interface {
	Execute(ctx context.Context, task *models.Task, observer activity.Observer) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *models.Task, observer activity.Observer) (string, error)

// Execute calls the wrapped function.
func (f ExecutorFunc) Execute(ctx context.Context, task *models.Task, observer activity.Observer) (string, error) {
	return f(ctx, task, observer)
}

// Limits configures admission and the default task deadline.
type Limits struct {
	MaxConcurrentTasks int
	MaxTasksPerUser    int
	TaskTimeout        time.Duration
}

// DefaultLimits mirror the process config defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentTasks: 50,
		MaxTasksPerUser:    5,
		TaskTimeout:        10 * time.Minute,
	}
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status models.TaskStatus
	Kind   models.ResourceKind
	UserID string
}

type taskEntry struct {
	task   *models.Task
	cancel context.CancelFunc
}

// Orchestrator owns task lifecycle and in-flight accounting.
type Orchestrator struct {
	limits    Limits
	executors map[models.ResourceKind]Executor
	bus       *activity.Bus
	logger    *slog.Logger

	mu             sync.Mutex
	tasks          map[string]*taskEntry
	order          []string
	inFlight       int
	inFlightByUser map[string]int

	wg sync.WaitGroup
}

// New creates an orchestrator. Zero limit fields fall back to defaults.
func New(limits Limits, bus *activity.Bus, logger *slog.Logger) *Orchestrator {
	defaults := DefaultLimits()
	if limits.MaxConcurrentTasks <= 0 {
		limits.MaxConcurrentTasks = defaults.MaxConcurrentTasks
	}
	if limits.MaxTasksPerUser <= 0 {
		limits.MaxTasksPerUser = defaults.MaxTasksPerUser
	}
	if limits.TaskTimeout <= 0 {
		limits.TaskTimeout = defaults.TaskTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		limits:         limits,
		executors:      make(map[models.ResourceKind]Executor),
		bus:            bus,
		logger:         logger.With("component", "orchestrator"),
		tasks:          make(map[string]*taskEntry),
		inFlightByUser: make(map[string]int),
	}
}

// RegisterExecutor wires the executor for a resource kind. Called at process
// init, before Submit.
func (o *Orchestrator) RegisterExecutor(kind models.ResourceKind, executor Executor) {
	o.executors[kind] = executor
}

// Submit admits and starts a task, returning its id. Admission fails with a
// queue_full error when either capacity bound is reached.
func (o *Orchestrator) Submit(ctx context.Context, task *models.Task) (string, error) {
	executor, ok := o.executors[task.Kind]
	if !ok {
		return "", &errs.Error{
			Kind:    errs.KindValidation,
			Layer:   "orchestrator",
			Message: fmt.Sprintf("no executor for resource kind %q", task.Kind),
		}
	}

	o.mu.Lock()
	if o.inFlight >= o.limits.MaxConcurrentTasks {
		o.mu.Unlock()
		return "", &errs.Error{
			Kind:    errs.KindQueueFull,
			Layer:   "orchestrator",
			Message: fmt.Sprintf("at capacity (%d in flight)", o.limits.MaxConcurrentTasks),
		}
	}
	if task.UserID != "" && o.inFlightByUser[task.UserID] >= o.limits.MaxTasksPerUser {
		o.mu.Unlock()
		return "", &errs.Error{
			Kind:    errs.KindQueueFull,
			Layer:   "orchestrator",
			Message: fmt.Sprintf("user %s at capacity (%d in flight)", task.UserID, o.limits.MaxTasksPerUser),
		}
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = models.TaskQueued
	task.SubmittedAt = time.Now()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &taskEntry{task: task, cancel: cancel}
	o.tasks[task.ID] = entry
	o.order = append(o.order, task.ID)
	o.inFlight++
	if task.UserID != "" {
		o.inFlightByUser[task.UserID]++
	}
	o.mu.Unlock()

	o.logger.Info("task admitted", "task", task.ID, "kind", task.Kind, "user", task.UserID)

	o.wg.Add(1)
	go o.run(runCtx, entry, executor)
	return task.ID, nil
}

// run drives one task through its executor and settles the final status.
func (o *Orchestrator) run(ctx context.Context, entry *taskEntry, executor Executor) {
	defer o.wg.Done()
	defer entry.cancel()

	task := entry.task

	// Cancelled before it ever started.
	if ctx.Err() != nil {
		o.settle(task, models.TaskCancelled, "", "cancelled before start", errs.KindCancelled)
		return
	}

	runCtx, cancelTimeout := context.WithTimeout(ctx, o.limits.TaskTimeout)
	defer cancelTimeout()

	o.mu.Lock()
	now := time.Now()
	task.Status = models.TaskRunning
	task.StartedAt = &now
	o.mu.Unlock()

	var observer activity.Observer = activity.NullObserver{}
	if o.bus != nil {
		observer = o.bus
	}

	result, err := executor.Execute(runCtx, task, observer)
	switch {
	case err == nil:
		o.settle(task, models.TaskCompleted, result, "", "")
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		o.settle(task, models.TaskCancelled, "", "cancelled", errs.KindCancelled)
	case errors.Is(err, context.DeadlineExceeded):
		o.settle(task, models.TaskFailed, "", "timeout", errs.KindTimeout)
	default:
		o.settle(task, models.TaskFailed, "", err.Error(), errs.KindOf(err))
	}
}

func (o *Orchestrator) settle(task *models.Task, status models.TaskStatus, result, errMsg string, kind errs.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if task.Terminal() {
		return
	}
	now := time.Now()
	task.Status = status
	task.Result = result
	task.Error = errMsg
	task.ErrorKind = string(kind)
	task.FinishedAt = &now

	o.inFlight--
	if task.UserID != "" {
		o.inFlightByUser[task.UserID]--
		if o.inFlightByUser[task.UserID] <= 0 {
			delete(o.inFlightByUser, task.UserID)
		}
	}
	o.logger.Info("task settled", "task", task.ID, "status", status, "error", errMsg)
}

// Cancel signals the task's executor. Terminal tasks are a no-op.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	entry, ok := o.tasks[id]
	o.mu.Unlock()
	if !ok {
		return &errs.Error{Kind: errs.KindNotFound, Layer: "orchestrator", Message: "task not found: " + id}
	}
	entry.cancel()
	return nil
}

// Get returns a copy of the task, or nil.
func (o *Orchestrator) Get(id string) *models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.tasks[id]; ok {
		return entry.task.Clone()
	}
	return nil
}

// List returns copies of tasks matching the filter, in submission order.
func (o *Orchestrator) List(filter Filter) []*models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*models.Task
	for _, id := range o.order {
		task := o.tasks[id].task
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && task.Kind != filter.Kind {
			continue
		}
		if filter.UserID != "" && task.UserID != filter.UserID {
			continue
		}
		out = append(out, task.Clone())
	}
	return out
}

// InFlight returns the global in-flight count.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Drain cancels everything and waits for executors to settle.
func (o *Orchestrator) Drain() {
	o.mu.Lock()
	for _, entry := range o.tasks {
		entry.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}
