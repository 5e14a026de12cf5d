// Package errs defines the tagged error type shared across the framework.
//
// Every failure surfaced between components carries a Kind so callers can
// decide on retry, user messaging, and exit codes without string matching.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes an error for propagation and retry decisions.
type Kind string

const (
	// KindConfig indicates a parse or validation failure of a declarative resource.
	KindConfig Kind = "config"

	// KindAuth indicates missing or invalid credentials.
	KindAuth Kind = "auth"

	// KindTransport indicates a network or subprocess failure. Retryable.
	KindTransport Kind = "transport"

	// KindProtocol indicates a JSON-RPC or LLM response that violates its schema.
	KindProtocol Kind = "protocol"

	// KindTimeout indicates a layered timeout expired.
	KindTimeout Kind = "timeout"

	// KindTool indicates a tool returned an error result or panicked.
	KindTool Kind = "tool"

	// KindValidation indicates a schema mismatch on input, output, or state.
	KindValidation Kind = "validation"

	// KindPolicy indicates the safety layer blocked the operation.
	KindPolicy Kind = "policy"

	// KindQueueFull indicates admission was denied by the orchestrator.
	KindQueueFull Kind = "queue_full"

	// KindNotFound indicates a resource reference did not resolve.
	KindNotFound Kind = "not_found"

	// KindCancelled indicates a clean cancellation. Terminal, not logged as error.
	KindCancelled Kind = "cancelled"

	// KindInternal is the fallback for uncategorized failures.
	KindInternal Kind = "internal"
)

// Error is the tagged error carried across component boundaries.
type Error struct {
	// Kind categorizes the failure.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Layer optionally names the timeout layer (per-tool, per-task, ...).
	Layer string

	// Cause is the wrapped underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a tagged error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a tagged error around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Timeout creates a timeout error naming its layer.
func Timeout(layer, message string) *Error {
	return &Error{Kind: KindTimeout, Message: message, Layer: layer}
}

// KindOf returns the Kind of err, unwrapping as needed.
// Plain errors report KindInternal; context cancellation reports KindCancelled
// and a context deadline reports KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind == kind
	}
	return false
}

// IsRetryable reports whether the error kind suggests a retry may succeed.
// Transport and timeout failures are retryable; everything else is not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindTimeout:
		return true
	default:
		return false
	}
}
