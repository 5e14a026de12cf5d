// Package platforms holds the outbound chat adapters. Each Responder
// wraps one platform SDK behind a uniform send contract so executors
// and flow notify nodes never touch SDK types.
package platforms

import (
	"context"
	"fmt"
	"sync"

	"github.com/aof-dev/aof/pkg/models"
)

// Responder delivers text to a channel on one platform.
type Responder interface {
	Platform() models.Platform
	SendText(ctx context.Context, channel, text string) error
}

// Registry maps platforms to their responders. It satisfies the flow
// engine's Notifier contract.
type Registry struct {
	mu         sync.RWMutex
	responders map[models.Platform]Responder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{responders: make(map[models.Platform]Responder)}
}

// Register installs a responder, replacing any existing one.
func (r *Registry) Register(responder Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responders[responder.Platform()] = responder
}

// Get returns the responder for a platform.
func (r *Registry) Get(platform models.Platform) (Responder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	responder, ok := r.responders[platform]
	return responder, ok
}

// Post delivers text via the platform's responder.
func (r *Registry) Post(ctx context.Context, platform, channel, text string) error {
	responder, ok := r.Get(models.Platform(platform))
	if !ok {
		return fmt.Errorf("no responder registered for platform %q", platform)
	}
	return responder.SendText(ctx, channel, text)
}
