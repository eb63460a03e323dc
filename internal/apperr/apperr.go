// Package apperr defines the error taxonomy shared across walletd's
// components and the mapping from that taxonomy to transport-level
// status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories the RPC layer knows
// how to translate into a response.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindAuth              Kind = "AUTH"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindConflict          Kind = "CONFLICT"
	KindNotFound          Kind = "NOT_FOUND"
	KindTransient         Kind = "TRANSIENT"
	KindFatal             Kind = "FATAL"
)

// Error is the typed error value every walletd component returns for
// expected failure conditions. It never crosses a goroutine boundary as a
// panic.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, carrying cause as context.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation is a convenience constructor for the most common kind.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// NotFound is a convenience constructor.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// Conflict is a convenience constructor.
func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

// InsufficientFunds is a convenience constructor.
func InsufficientFunds(format string, args ...interface{}) *Error {
	return New(KindInsufficientFunds, fmt.Sprintf(format, args...))
}

// Transient wraps a retryable infrastructure failure (lock contention,
// connection drop).
func Transient(message string, cause error) *Error {
	return Wrap(KindTransient, message, cause)
}

// Fatal wraps an unrecoverable failure.
func Fatal(message string, cause error) *Error {
	return Wrap(KindFatal, message, cause)
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// KindFatal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}
