// Package sessions persists agent conversation transcripts so a later
// invocation can resume where the previous one stopped.
package sessions

import (
	"context"
	"time"

	"github.com/aof-dev/aof/pkg/models"
)

// Session is one agent conversation transcript.
type Session struct {
	ID        string           `json:"id"`
	Agent     string           `json:"agent"`
	Platform  models.Platform  `json:"platform,omitempty"`
	Channel   string           `json:"channel,omitempty"`
	User      string           `json:"user,omitempty"`
	Messages  []models.Message `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ListOptions narrows List results.
type ListOptions struct {
	Limit int
}

// Store is the interface for session persistence.
type Store interface {
	// Save writes the full session document and marks it the agent's latest.
	Save(ctx context.Context, session *Session) error

	// Get loads one session by agent and id.
	Get(ctx context.Context, agent, id string) (*Session, error)

	// Latest loads the agent's most recently saved session, or nil when the
	// agent has none.
	Latest(ctx context.Context, agent string) (*Session, error)

	// Append adds messages to an existing session and persists it.
	Append(ctx context.Context, agent, id string, messages ...models.Message) error

	// List returns the agent's sessions, most recently updated first.
	List(ctx context.Context, agent string, opts ListOptions) ([]*Session, error)

	// Delete removes one session. Deleting a missing session is a no-op.
	Delete(ctx context.Context, agent, id string) error
}
