// Package activity implements the lossy, typed event stream between
// executors and observers. Publishing never blocks: a subscriber that does
// not drain its channel loses events rather than backpressuring execution.
package activity

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aof-dev/aof/pkg/models"
)

// Observer receives activity events from one executor run.
type Observer interface {
	// Observe handles a single event. Implementations must not block.
	Observe(event *models.ActivityEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event *models.ActivityEvent)

// Observe calls the wrapped function.
func (f ObserverFunc) Observe(event *models.ActivityEvent) { f(event) }

// NullObserver discards all events.
type NullObserver struct{}

// Observe drops the event.
func (NullObserver) Observe(*models.ActivityEvent) {}

const subscriberBuffer = 256

// Bus fans activity events out to subscribers. Each subscriber owns a
// buffered channel; events are dropped per-subscriber when the buffer is
// full. Events from a single publisher arrive in publish order.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan *models.ActivityEvent
	nextID  int
	dropped atomic.Uint64
	logger  *slog.Logger
	closed  bool
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]chan *models.ActivityEvent),
		logger: logger.With("component", "activity_bus"),
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unsubscribes and closes the channel.
func (b *Bus) Subscribe() (<-chan *models.ActivityEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *models.ActivityEvent, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event *models.ActivityEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Observe lets the bus itself act as an Observer for executors.
func (b *Bus) Observe(event *models.ActivityEvent) { b.Publish(event) }

// Dropped returns the number of events dropped so far.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close unsubscribes everyone and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
