// Package herrors defines the engine-wide error taxonomy: a small set of
// machine-checkable kinds carried alongside a human-readable message and
// optional contextual fields (id, namespace). Internal retries never surface
// to the caller; only the final kind does.
package herrors

import (
	"errors"
	"fmt"
)

// Kind is the machine-checkable discriminant callers should switch on.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindBackendUnavailable  Kind = "backend_unavailable"
	KindTimeout             Kind = "timeout"
	KindLimitExceeded       Kind = "limit_exceeded"
)

// Error is the tagged error every engine-facing operation returns on
// failure. Kind is stable API; Fields is best-effort debugging context.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind+message to an underlying error, preserving it for
// errors.Is/As unwrapping.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithField returns a copy of e with an additional contextual field.
func (e *Error) WithField(key, value string) *Error {
	cp := *e
	cp.Fields = make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var (
	// ErrNamespaceExists is returned by fork when target is non-empty and overwrite is false.
	ErrNamespaceExists = New(KindConflict, "target namespace already has fragments")
	// ErrNamespaceLimitExceeded is returned when the active-namespace cap would be exceeded.
	ErrNamespaceLimitExceeded = New(KindLimitExceeded, "namespace limit exceeded")
	// ErrUniverseNotFound is returned when a universe id has no registered handle.
	ErrUniverseNotFound = New(KindNotFound, "universe not found")
)
