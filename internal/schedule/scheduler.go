// Package schedule fires schedule-platform triggers on their cron
// expressions and hands the synthesized events to the router pipeline.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/pkg/models"
)

// cronParser accepts standard 5-field expressions, optional seconds, and
// descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Dispatch receives each synthesized schedule event.
type Dispatch func(ctx context.Context, msg *models.EventMessage)

type entry struct {
	trigger *resources.Trigger
	cancel  context.CancelFunc
}

// Scheduler owns one firing loop per schedule trigger.
type Scheduler struct {
	store    *resources.Store
	dispatch Dispatch
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	wg      sync.WaitGroup
}

// New creates a scheduler over the resource store.
func New(store *resources.Store, dispatch Dispatch, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		dispatch: dispatch,
		logger:   logger.With("component", "schedule"),
		entries:  make(map[string]*entry),
	}
}

// Start spawns a firing loop for every schedule trigger. Triggers with a
// cron expression that does not parse are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already started")
	}
	s.running = true

	for _, trigger := range s.store.Triggers.All() {
		if trigger.Spec.Platform != models.PlatformSchedule {
			continue
		}
		s.startLocked(ctx, trigger)
	}
	s.logger.Info("scheduler started", "triggers", len(s.entries))
	return nil
}

func (s *Scheduler) startLocked(ctx context.Context, trigger *resources.Trigger) {
	schedule, err := cronParser.Parse(trigger.Spec.Schedule)
	if err != nil {
		s.logger.Warn("invalid cron expression", "trigger", trigger.Name(), "schedule", trigger.Spec.Schedule, "error", err)
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.entries[trigger.Name()] = &entry{trigger: trigger, cancel: cancel}
	s.wg.Add(1)
	go s.fireLoop(loopCtx, trigger, schedule)
}

// fireLoop sleeps until each next cron occurrence and dispatches.
func (s *Scheduler) fireLoop(ctx context.Context, trigger *resources.Trigger, schedule cron.Schedule) {
	defer s.wg.Done()
	for {
		next := schedule.Next(time.Now())
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		s.logger.Debug("schedule fired", "trigger", trigger.Name())
		s.dispatch(ctx, s.synthesize(trigger, next))
	}
}

// synthesize builds the event a schedule firing injects into routing.
func (s *Scheduler) synthesize(trigger *resources.Trigger, firedAt time.Time) *models.EventMessage {
	return &models.EventMessage{
		Platform:  models.PlatformSchedule,
		MessageID: uuid.NewString(),
		User:      "schedule",
		Text:      trigger.Spec.Input,
		Metadata: map[string]any{
			"trigger":  trigger.Name(),
			"fired_at": firedAt.Format(time.RFC3339),
		},
	}
}

// Reload re-reads the trigger registry: new schedule triggers start, removed
// ones stop, and changed expressions take effect.
func (s *Scheduler) Reload(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	current := make(map[string]*resources.Trigger)
	for _, trigger := range s.store.Triggers.All() {
		if trigger.Spec.Platform == models.PlatformSchedule {
			current[trigger.Name()] = trigger
		}
	}
	for name, e := range s.entries {
		trigger, keep := current[name]
		if keep && trigger.Spec.Schedule == e.trigger.Spec.Schedule {
			delete(current, name)
			continue
		}
		e.cancel()
		delete(s.entries, name)
	}
	for _, trigger := range current {
		s.startLocked(ctx, trigger)
	}
	s.logger.Info("scheduler reloaded", "triggers", len(s.entries))
}

// Active lists the trigger names with a running firing loop.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stop cancels all firing loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for name, e := range s.entries {
		e.cancel()
		delete(s.entries, name)
	}
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
