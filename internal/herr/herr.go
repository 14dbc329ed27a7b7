// Package herr defines the error kinds the engine distinguishes and the
// classification rules the retry fabric consults.
package herr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Kind int

const (
	// Internal is anything not otherwise classified.
	Internal Kind = iota
	// Transient errors are retried: timeouts, connection failures, 5xx, 429.
	Transient
	// PermanentSource errors count toward a feed's failure threshold:
	// 4xx (except 429) and parse failures.
	PermanentSource
	// Conflict is a uniqueness violation; surfaced to the caller, never retried.
	Conflict
	// NotFound means the remote artifact is already gone. Deletions treat
	// it as success, edits as a warning.
	NotFound
	// OutOfBounds marks a geocoded coordinate outside the configured region.
	OutOfBounds
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case PermanentSource:
		return "permanent_source"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case OutOfBounds:
		return "out_of_bounds"
	default:
		return "internal"
	}
}

// Error carries a kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err yields a bare kinded error.
func New(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted message with a kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. Unwrapped network errors are recognized so callers
// don't have to wrap every transport failure themselves.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Transient
	}
	var op *net.OpError
	if errors.As(err, &op) {
		return Transient
	}
	return Internal
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the retry fabric should try again.
func Retryable(err error) bool {
	return KindOf(err) == Transient
}

// FromStatus maps an HTTP status code to a kind. 2xx and 304 map to Internal
// because they are not errors; callers should not pass them in.
func FromStatus(code int) Kind {
	switch {
	case code == 429:
		return Transient
	case code >= 500:
		return Transient
	case code == 404:
		return NotFound
	case code >= 400:
		return PermanentSource
	default:
		return Internal
	}
}
