// Package serrors defines semantic error kinds used to map failures onto the
// flat response taxonomy exposed by the HTTP layer.
package serrors

import (
	"errors"
	"fmt"
)

// Kind is a sentinel error category. Kinds are comparable and work with
// errors.Is through the Error wrapper below.
type Kind interface {
	error
	isKind()
}

type kind struct{ s string }

func (k kind) Error() string { return k.s }
func (k kind) isKind()       {}

// NewKind creates a new semantic error kind with the given name.
func NewKind(name string) Kind { return kind{s: name} }

// The full set of categories the service distinguishes. Every handler failure
// collapses into exactly one of these.
var (
	// ErrUnauthenticated indicates missing or invalid session credentials.
	ErrUnauthenticated = NewKind("UNAUTHENTICATED")
	// ErrForbidden indicates the caller is authenticated but not allowed.
	ErrForbidden = NewKind("FORBIDDEN")
	// ErrInvalidInput indicates the client sent missing or malformed data.
	ErrInvalidInput = NewKind("INVALID_INPUT")
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = NewKind("NOT_FOUND")
	// ErrInternal indicates an unexpected server-side failure.
	ErrInternal = NewKind("INTERNAL")
)

// Error carries a kind, an optional wrapped cause and an optional message.
type Error struct {
	kind Kind
	err  error
	msg  string
}

// With constructs a semantic error with the given kind and message.
func With(k Kind, msgFmt string, args ...any) *Error {
	return &Error{kind: k, msg: fmt.Sprintf(msgFmt, args...)}
}

// Wrap constructs a semantic error that also wraps a concrete cause.
func Wrap(k Kind, err error, msgFmt string, args ...any) *Error {
	return &Error{kind: k, err: err, msg: fmt.Sprintf(msgFmt, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.msg != "" && e.err != nil:
		return e.msg + ": " + e.err.Error()
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	case e.kind != nil:
		return e.kind.Error()
	default:
		return "unknown error"
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.err }

// Is matches against either the kind sentinel or the wrapped cause.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return e == nil && target == nil
	}
	if e.kind != nil && errors.Is(e.kind, target) {
		return true
	}
	return e.err != nil && errors.Is(e.err, target)
}

// Kind returns the semantic kind sentinel, or nil.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the attached message.
func (e *Error) Message() string { return e.msg }

// KindOf extracts the Kind from an error chain, defaulting to ErrInternal for
// errors that carry no semantic kind.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) && se.Kind() != nil {
		return se.Kind()
	}
	for _, k := range []Kind{ErrUnauthenticated, ErrForbidden, ErrInvalidInput, ErrNotFound} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
