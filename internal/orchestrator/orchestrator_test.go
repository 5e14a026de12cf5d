package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aof-dev/aof/internal/activity"
	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/pkg/models"
)

func blockingExecutor(release <-chan struct{}) ExecutorFunc {
	return func(ctx context.Context, _ *models.Task, _ activity.Observer) (string, error) {
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func waitStatus(t *testing.T, o *Orchestrator, id string, want models.TaskStatus) *models.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task := o.Get(id); task != nil && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task := o.Get(id)
	t.Fatalf("task %s never reached %s, last: %+v", id, want, task)
	return nil
}

func TestSubmitRunsToCompletion(t *testing.T) {
	o := New(Limits{}, nil, nil)
	release := make(chan struct{})
	o.RegisterExecutor(models.KindAgent, blockingExecutor(release))

	id, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent, Input: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	task := waitStatus(t, o, id, models.TaskCompleted)
	if task.Result != "ok" || task.StartedAt == nil || task.FinishedAt == nil {
		t.Fatalf("settled task: %+v", task)
	}
	if o.InFlight() != 0 {
		t.Fatalf("in-flight after completion: %d", o.InFlight())
	}
}

func TestAdmissionGlobalCap(t *testing.T) {
	o := New(Limits{MaxConcurrentTasks: 2}, nil, nil)
	release := make(chan struct{})
	o.RegisterExecutor(models.KindAgent, blockingExecutor(release))

	for i := 0; i < 2; i++ {
		if _, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent}); err != nil {
			t.Fatal(err)
		}
	}
	_, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent})
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindQueueFull {
		t.Fatalf("third submit must be queue_full, got %v", err)
	}

	// Capacity frees up once a task settles.
	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for o.InFlight() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent}); err != nil {
		t.Fatalf("submit after drain: %v", err)
	}
}

func TestAdmissionPerUserCap(t *testing.T) {
	o := New(Limits{MaxConcurrentTasks: 10, MaxTasksPerUser: 1}, nil, nil)
	release := make(chan struct{})
	defer close(release)
	o.RegisterExecutor(models.KindAgent, blockingExecutor(release))

	if _, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent, UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	_, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent, UserID: "u1"})
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindQueueFull {
		t.Fatalf("second task for u1 must be queue_full, got %v", err)
	}

	// Another user is unaffected.
	if _, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent, UserID: "u2"}); err != nil {
		t.Fatalf("u2 submit: %v", err)
	}
}

func TestCancelRunningTask(t *testing.T) {
	o := New(Limits{}, nil, nil)
	o.RegisterExecutor(models.KindAgent, blockingExecutor(make(chan struct{})))

	id, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, o, id, models.TaskRunning)

	if err := o.Cancel(id); err != nil {
		t.Fatal(err)
	}
	task := waitStatus(t, o, id, models.TaskCancelled)
	if task.ErrorKind != string(errs.KindCancelled) {
		t.Fatalf("error kind: %q", task.ErrorKind)
	}

	// Cancelling a settled task is a no-op.
	if err := o.Cancel(id); err != nil {
		t.Fatal(err)
	}
	if got := o.Get(id); got.Status != models.TaskCancelled {
		t.Fatalf("status changed after repeat cancel: %s", got.Status)
	}
}

func TestTaskTimeoutFailsWithTimeout(t *testing.T) {
	o := New(Limits{TaskTimeout: 30 * time.Millisecond}, nil, nil)
	o.RegisterExecutor(models.KindAgent, blockingExecutor(make(chan struct{})))

	id, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent})
	if err != nil {
		t.Fatal(err)
	}
	task := waitStatus(t, o, id, models.TaskFailed)
	if task.Error != "timeout" || task.ErrorKind != string(errs.KindTimeout) {
		t.Fatalf("timeout settle: %+v", task)
	}
}

func TestSubmitUnknownKind(t *testing.T) {
	o := New(Limits{}, nil, nil)
	_, err := o.Submit(context.Background(), &models.Task{Kind: models.KindFlow})
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindValidation {
		t.Fatalf("unknown kind: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	o := New(Limits{}, nil, nil)
	release := make(chan struct{})
	defer close(release)
	o.RegisterExecutor(models.KindAgent, blockingExecutor(release))
	o.RegisterExecutor(models.KindFlow, blockingExecutor(release))

	var ids []string
	for _, task := range []*models.Task{
		{Kind: models.KindAgent, UserID: "u1"},
		{Kind: models.KindFlow, UserID: "u2"},
		{Kind: models.KindAgent, UserID: "u2"},
	} {
		id, err := o.Submit(context.Background(), task)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	all := o.List(Filter{})
	if len(all) != 3 || all[0].ID != ids[0] || all[2].ID != ids[2] {
		t.Fatalf("list must preserve submission order: %+v", all)
	}
	if got := o.List(Filter{Kind: models.KindAgent}); len(got) != 2 {
		t.Fatalf("kind filter: %d", len(got))
	}
	if got := o.List(Filter{UserID: "u2"}); len(got) != 2 {
		t.Fatalf("user filter: %d", len(got))
	}
}

func TestActivityReachesBusSubscriber(t *testing.T) {
	bus := activity.NewBus(nil)
	defer bus.Close()
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	o := New(Limits{}, bus, nil)
	o.RegisterExecutor(models.KindAgent, ExecutorFunc(func(_ context.Context, _ *models.Task, observer activity.Observer) (string, error) {
		observer.Observe(models.NewActivity(models.ActivityInfo, "working"))
		return "ok", nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	var seen []models.ActivityType
	go func() {
		defer wg.Done()
		for event := range events {
			seen = append(seen, event.Type)
			if event.Type == models.ActivityInfo {
				return
			}
		}
	}()

	id, err := o.Submit(context.Background(), &models.Task{Kind: models.KindAgent})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, o, id, models.TaskCompleted)
	wg.Wait()
	if len(seen) == 0 || seen[len(seen)-1] != models.ActivityInfo {
		t.Fatalf("subscriber events: %v", seen)
	}
}
