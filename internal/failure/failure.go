// Package failure defines the error taxonomy shared by every ledgerline component.
//
// Callers branch on the Kind of an error, never on its message:
//   - Validation: bad input, unknown outcome type, invalid transition
//   - Conflict: unique-constraint conflict (converted to idempotent success inside the ledger)
//   - TransientStore: storage I/O failure, safe to retry
//   - Integrity: hash chain broken, surfaced and never repaired
//   - NotFound: referenced fact, policy or contract does not exist
package failure

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindConflict       Kind = "CONFLICT"
	KindTransientStore Kind = "TRANSIENT_STORE"
	KindIntegrity      Kind = "INTEGRITY"
	KindNotFound       Kind = "NOT_FOUND"
)

// Error is a categorized error with the operation that produced it.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the failing operation, e.g. "ledger.Append".
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a validation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Integrity creates an integrity error.
func Integrity(op, format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict wraps a unique-constraint conflict.
func Conflict(op string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Err: err}
}

// Transient wraps a storage I/O error. Returns nil for a nil err.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: KindTransientStore, Op: op, Err: err}
}

// KindOf returns the Kind of err, or "" when err carries none.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict returns true if err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsTransient returns true if err is a transient store error.
func IsTransient(err error) bool { return KindOf(err) == KindTransientStore }

// IsIntegrity returns true if err is an integrity error.
func IsIntegrity(err error) bool { return KindOf(err) == KindIntegrity }

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
