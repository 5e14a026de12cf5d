package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/aof-dev/aof/pkg/models"
)

// Parser turns a raw webhook delivery into a normalized event message.
// Platform-specific parsers are registered per platform; unregistered
// platforms fall back to the generic JSON parser.
type Parser interface {
	Parse(r *http.Request, body []byte) (*models.EventMessage, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(r *http.Request, body []byte) (*models.EventMessage, error)

// Parse calls the wrapped function.
func (f ParserFunc) Parse(r *http.Request, body []byte) (*models.EventMessage, error) {
	return f(r, body)
}

// genericParser accepts the gateway's own JSON envelope. It is the
// default for every platform without a registered parser.
type genericParser struct {
	platform models.Platform
}

func (p genericParser) Parse(_ *http.Request, body []byte) (*models.EventMessage, error) {
	var msg models.EventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	if msg.Text == "" {
		return nil, fmt.Errorf("webhook body has no text")
	}
	msg.Platform = p.platform
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	return &msg, nil
}
