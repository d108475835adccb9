// Package errors provides the typed error taxonomy propagated to the API
// boundary. Every failure surfaced by a service carries a Kind so callers
// can decide between surfacing, retrying, and compensating cleanup.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary handling.
type Kind string

const (
	// KindValidation indicates invalid input. Surfaced, never retried.
	KindValidation Kind = "VALIDATION"
	// KindNotFound indicates an unknown document, chunk, or folder id.
	KindNotFound Kind = "NOT_FOUND"
	// KindUnavailable indicates an unreachable downstream (Redis, vector
	// store, LLM, embedder). Retried where the operation is idempotent.
	KindUnavailable Kind = "UNAVAILABLE"
	// KindStorage indicates a vault or tracker persistence failure after a
	// state mutation. Callers attempt compensating cleanup.
	KindStorage Kind = "STORAGE"
	// KindInternal indicates an unexpected failure, logged with context and
	// surfaced as a generic error.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error type for the archive core.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s; %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Kind, enabling errors.Is comparisons against the
// sentinel constructors below.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the operation may be retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable
}

// New creates a typed error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a kind and message. Returns nil when
// err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal
// for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the typed message from an error chain, or the plain
// error text for untyped errors. Used at API boundaries where the kind
// prefix is unwanted.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
