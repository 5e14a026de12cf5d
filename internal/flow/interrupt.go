package flow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aof-dev/aof/internal/errs"
)

// InterruptType distinguishes free-form input from yes/no confirmation.
type InterruptType string

const (
	InterruptInput   InterruptType = "input"
	InterruptConfirm InterruptType = "confirm"
)

// Interrupt is a suspension point awaiting an external answer.
type Interrupt struct {
	ID     string          `json:"interrupt_id"`
	Type   InterruptType   `json:"type"`
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Flow   string          `json:"flow"`
	RunID  string          `json:"run_id"`
	Node   string          `json:"node"`
}

type pendingInterrupt struct {
	interrupt Interrupt
	resume    chan any
}

// Interrupts tracks suspended flow runs and routes resume values to them.
type Interrupts struct {
	mu      sync.Mutex
	pending map[string]*pendingInterrupt
}

// NewInterrupts creates an empty registry.
func NewInterrupts() *Interrupts {
	return &Interrupts{pending: make(map[string]*pendingInterrupt)}
}

// Raise registers an interrupt and returns the channel its resume value will
// arrive on. The returned id is assigned if empty.
func (r *Interrupts) Raise(interrupt Interrupt) (Interrupt, <-chan any) {
	if interrupt.ID == "" {
		interrupt.ID = uuid.NewString()
	}
	p := &pendingInterrupt{interrupt: interrupt, resume: make(chan any, 1)}
	r.mu.Lock()
	r.pending[interrupt.ID] = p
	r.mu.Unlock()
	return interrupt, p.resume
}

// Resume delivers a value to a suspended run. The value is validated against
// the interrupt's schema when one was declared.
func (r *Interrupts) Resume(id string, value json.RawMessage) error {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return &errs.Error{Kind: errs.KindNotFound, Layer: "flow", Message: "no pending interrupt: " + id}
	}

	var decoded any
	if len(value) > 0 {
		if err := json.Unmarshal(value, &decoded); err != nil {
			r.reRegister(p)
			return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "resume value is not valid JSON: " + err.Error()}
		}
	}
	if len(p.interrupt.Schema) > 0 {
		schema, err := jsonschema.CompileString("interrupt.json", string(p.interrupt.Schema))
		if err != nil {
			return fmt.Errorf("compile interrupt schema: %w", err)
		}
		if err := schema.Validate(decoded); err != nil {
			r.reRegister(p)
			return &errs.Error{Kind: errs.KindValidation, Layer: "flow", Message: "resume value rejected by schema: " + err.Error()}
		}
	}

	p.resume <- decoded
	return nil
}

// reRegister puts a pending interrupt back after a rejected resume attempt.
func (r *Interrupts) reRegister(p *pendingInterrupt) {
	r.mu.Lock()
	r.pending[p.interrupt.ID] = p
	r.mu.Unlock()
}

// Cancel drops a pending interrupt without resuming it.
func (r *Interrupts) Cancel(id string) {
	r.mu.Lock()
	if p, ok := r.pending[id]; ok {
		close(p.resume)
		delete(r.pending, id)
	}
	r.mu.Unlock()
}

// Pending lists interrupts awaiting a resume.
func (r *Interrupts) Pending() []Interrupt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Interrupt, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.interrupt)
	}
	return out
}
