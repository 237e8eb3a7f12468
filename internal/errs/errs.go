// Package errs defines the engine's error taxonomy. Each kind maps to
// an HTTP status in internal/api and to specific propagation behavior
// in the discussion/execution/ticker packages.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy's sentinel categories.
type Kind string

const (
	KindValidation         Kind = "validation"          // 400
	KindNotFound           Kind = "not_found"           // 404
	KindInvariantViolation Kind = "invariant_violation" // 409
	KindOracleFailure      Kind = "oracle_failure"      // internal, falls back
	KindStorageConflict    Kind = "storage_conflict"    // retried internally
	KindStalled            Kind = "stalled"             // watchdog force-close
	KindShutdown           Kind = "shutdown"            // cooperative cancellation
)

// Error is a typed engine error carrying its taxonomy Kind plus an
// optional machine-readable Reason (e.g. "duplicate_active",
// "insufficient_balance") surfaced to callers and tests.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, &Error{Kind: ...}) matching on Kind alone;
// when the target also sets a Reason, the Reason must match too.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		if t.Reason != "" {
			return t.Kind == e.Kind && t.Reason == e.Reason
		}
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validation(reason string) *Error         { return New(KindValidation, reason) }
func NotFound(reason string) *Error           { return New(KindNotFound, reason) }
func InvariantViolation(reason string) *Error { return New(KindInvariantViolation, reason) }
func Stalled(reason string) *Error            { return New(KindStalled, reason) }
func Shutdown(reason string) *Error           { return New(KindShutdown, reason) }

func OracleFailure(err error) *Error {
	return Wrap(KindOracleFailure, "oracle_failure", err)
}

func StorageConflict(err error) *Error {
	return Wrap(KindStorageConflict, "storage_conflict", err)
}

// IsKind reports whether err is (or wraps) an *Error of the given kind,
// regardless of Reason.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus maps a Kind to the status code spec.md §6/§7 documents.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindInvariantViolation:
		return 409
	default:
		return 500
	}
}
