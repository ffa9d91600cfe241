// Package coreerr implements the control plane's error taxonomy: a closed
// set of error kinds (sentinels), wrapped in a structured CoreError that
// carries the operation, the resource kind/id, and the nested cause while
// remaining compatible with errors.Is/errors.As.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Errors built with New and the kind helpers below wrap one
// of these; some package-level errors (for example in pkg/nexus and
// pkg/rebuild) are returned without a kind.
var (
	// ErrNotFound: resource absent from registry or node state.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument: malformed URI, bad block size, missing field,
	// incompatible geometry.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists: create of a named resource that already exists with
	// different parameters.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoSpace: pool cannot allocate the requested size.
	ErrNoSpace = errors.New("no space")

	// ErrIoError: child or device submission/completion failure.
	ErrIoError = errors.New("io error")

	// ErrTimeout: lock or RPC deadline exceeded. Advisory.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled: an asynchronous boundary converted a cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrStateConflict: operation illegal in the current state.
	ErrStateConflict = errors.New("state conflict")

	// ErrPersistence: underlying durable store write failed. Never surfaced
	// to the caller of the triggering operation — retried internally.
	ErrPersistence = errors.New("persistence error")

	// ErrFatal: invariant violation. Aborts the operation and faults the
	// owning nexus.
	ErrFatal = errors.New("fatal invariant violation")
)

// CoreError wraps a sentinel Kind with structured debugging context.
type CoreError struct {
	// Op is the operation that failed, e.g. "nexus.create", "rebuild.start".
	Op string

	// ResourceKind names the kind of resource affected: "node", "pool",
	// "replica", "nexus", "child".
	ResourceKind string

	// ResourceID is the identifier of the affected resource.
	ResourceID string

	// Kind is the sentinel this error represents; errors.Is(err, Kind) must
	// succeed for every CoreError.
	Kind error

	// Cause is the nested error, if any (e.g. a driver errno, a transport
	// error). May be nil.
	Cause error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.ResourceKind != "" {
		msg = fmt.Sprintf("%s %s=%s: %s", e.Op, e.ResourceKind, e.ResourceID, e.Kind)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the sentinel Kind and the nested Cause to errors.Is/As
// via a two-element chain: Kind first (so errors.Is(err, ErrNotFound) works
// even when Cause is nil), then Cause.
func (e *CoreError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// New constructs a CoreError. cause may be nil.
func New(op, resourceKind, resourceID string, kind, cause error) *CoreError {
	return &CoreError{
		Op:           op,
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		Kind:         kind,
		Cause:        cause,
	}
}

// NotFound is a convenience constructor for the common case. cause may be
// nil.
func NotFound(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrNotFound, cause)
}

// StateConflict is a convenience constructor for illegal-state errors.
func StateConflict(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrStateConflict, cause)
}

// InvalidArgument is a convenience constructor.
func InvalidArgument(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrInvalidArgument, cause)
}

// AlreadyExists is a convenience constructor.
func AlreadyExists(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrAlreadyExists, cause)
}

// NoSpace is a convenience constructor.
func NoSpace(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrNoSpace, cause)
}

// IoError is a convenience constructor.
func IoError(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrIoError, cause)
}

// Timeout is a convenience constructor.
func Timeout(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrTimeout, cause)
}

// Cancelled is a convenience constructor.
func Cancelled(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrCancelled, cause)
}

// Persistence is a convenience constructor.
func Persistence(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrPersistence, cause)
}

// Fatal is a convenience constructor.
func Fatal(op, resourceKind, resourceID string, cause error) *CoreError {
	return New(op, resourceKind, resourceID, ErrFatal, cause)
}
