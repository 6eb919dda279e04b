// Package ikerr defines the agent runtime's error taxonomy.
//
// Every recoverable error the core produces is one of the Kind values
// below, wrapped with context via Wrap/New. Callers use errors.Is against
// the sentinel Kind values and errors.As to recover the *Error for its
// message.
package ikerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch and user-facing presentation.
type Kind string

const (
	// IO covers file, socket, pipe, and subprocess failures.
	IO Kind = "io"
	// Parse covers malformed JSON or event records.
	Parse Kind = "parse"
	// InvalidArg covers a bad command argument.
	InvalidArg Kind = "invalid_arg"
	// OutOfRange covers a numeric config value outside its allowed range.
	OutOfRange Kind = "out_of_range"
	// Provider covers an error surfaced by a provider adapter.
	Provider Kind = "provider"
	// NotFound covers a missing mark or tool.
	NotFound Kind = "not_found"
	// InvalidKind covers an unrecognized event kind reaching the renderer.
	InvalidKind Kind = "invalid_kind"
)

// Error is the concrete error type for every Kind above. OutOfMemory is
// deliberately not a Kind: it is fatal and handled by panic/recover in
// main, never constructed here.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind, so callers can write
// errors.Is(err, ikerr.New(ikerr.NotFound, "", nil)) or, more idiomatically,
// ikerr.Is(err, ikerr.NotFound) via the Kind-comparison helper Is below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an Error of the given kind for operation op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap is New with a formatted message folded into err.
func Wrap(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err, if it (or something it wraps) is an
// *Error. The zero Kind is returned otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
