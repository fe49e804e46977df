// Package enrich holds what the enrichment pipeline stages share:
// the error taxonomy and the runtime settings.
package enrich

import (
	"context"
	"fmt"

	errors "github.com/Laisky/errors/v2"
)

// Kind identifies a machine-stable pipeline failure kind.
type Kind string

const (
	KindSearchUnavailable   Kind = "SearchUnavailable"
	KindSynthesisFailed     Kind = "SynthesisFailed"
	KindValidationRejected  Kind = "ValidationRejected"
	KindDuplicateInFlight   Kind = "DuplicateInFlight"
	KindPersistenceConflict Kind = "PersistenceConflict"
	KindInvalidInput        Kind = "InvalidInput"
	KindCanceled            Kind = "Canceled"
	// KindInternal covers backend failures outside the taxonomy, like an unreachable store.
	KindInternal Kind = "Internal"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{
	KindSearchUnavailable,
	KindSynthesisFailed,
	KindValidationRejected,
	KindDuplicateInFlight,
	KindPersistenceConflict,
	KindInvalidInput,
	KindCanceled,
	KindInternal,
}

// Error is a typed pipeline failure for one keyword.
type Error struct {
	Kind      Kind
	Keyword   string
	Message   string
	Retryable bool
	Err       error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "enrich error: <nil>"
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Keyword != "" {
		msg = fmt.Sprintf("%s [%s]: %s", e.Kind, e.Keyword, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError constructs a typed pipeline error.
// SearchUnavailable and PersistenceConflict are retryable by default.
func NewError(kind Kind, keyword, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Keyword:   keyword,
		Message:   message,
		Retryable: kind == KindSearchUnavailable || kind == KindPersistenceConflict || kind == KindDuplicateInFlight,
		Err:       cause,
	}
}

// AsError extracts a typed pipeline error from the error chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// IsKind reports whether the error chain contains the given kind.
func IsKind(err error, kind Kind) bool {
	if typed, ok := AsError(err); ok {
		return typed.Kind == kind
	}
	return false
}

// KindOf returns the kind of err. Context errors map to Canceled.
// Untyped errors report ok=false.
func KindOf(err error) (Kind, bool) {
	if typed, ok := AsError(err); ok {
		return typed.Kind, true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled, true
	}
	return "", false
}
