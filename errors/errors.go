// Package errors provides standardized error handling for the engine.
// It defines the protocol error taxonomy, error classification for retry
// decisions, and helper functions for consistent error wrapping across
// the system.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a protocol-level error condition surfaced to clients.
type Code string

const (
	// CodeAuthRequired means no or an invalid token was presented to a
	// server that requires one.
	CodeAuthRequired Code = "AUTH_REQUIRED"
	// CodePermissionDenied means the session's token lacks the needed
	// capability for the address.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeInvalidAddress means a malformed segment or a wildcard in a
	// concrete address.
	CodeInvalidAddress Code = "INVALID_ADDRESS"
	// CodeInvalidValue means a type mismatch for the target signal kind.
	CodeInvalidValue Code = "INVALID_VALUE"
	// CodeScheduleInPast means a bundle's execution time precedes the
	// current logical time.
	CodeScheduleInPast Code = "SCHEDULE_IN_PAST"
	// CodeGestureSequence means a gesture phase violated start/move/end
	// ordering.
	CodeGestureSequence Code = "GESTURE_SEQUENCE_ERROR"
	// CodeRateLimitExceeded is informational: a delivery was dropped
	// under rate limiting. It is never a command failure.
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	// CodeRevisionConflict means an optimistic write carried an expected
	// revision that no longer matches the stored one.
	CodeRevisionConflict Code = "REVISION_CONFLICT"
	// CodeSessionClosed means the operation targeted a disconnected
	// session.
	CodeSessionClosed Code = "SESSION_CLOSED"
	// CodeInternal covers engine-side failures that are not the
	// caller's fault.
	CodeInternal Code = "INTERNAL"
)

// ErrorClass represents the classification of errors for handling purposes.
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or state.
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing.
	ErrorFatal
)

// String returns the string representation of ErrorClass.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	ErrSessionClosed    = errors.New("session closed")
	ErrQueueFull        = errors.New("delivery queue full")
	ErrAlreadyStarted   = errors.New("engine already started")
	ErrNotStarted       = errors.New("engine not started")
	ErrShuttingDown     = errors.New("engine is shutting down")
	ErrTooManySessions  = errors.New("session limit reached")
	ErrUnknownSignal    = errors.New("unknown signal kind")
	ErrBundleEmpty      = errors.New("bundle has no operations")
	ErrTimelineKeyOrder = errors.New("timeline keyframes out of order")
)

// Error is a classified protocol error. It carries the client-visible
// code, an internal class for retry decisions, and optional address
// context.
type Error struct {
	Code    Code
	Class   ErrorClass
	Message string
	Address string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		if e.Address != "" {
			return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Address)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
	}
	return string(e.Code)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Class: classFor(code), Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Invalidf creates an ErrorInvalid error with a formatted message.
// Most protocol codes classify as invalid; this helper names the common
// case at validation sites.
func Invalidf(code Code, format string, args ...any) *Error {
	e := Newf(code, format, args...)
	e.Class = ErrorInvalid
	return e
}

// Denied creates a PERMISSION_DENIED error for an address.
func Denied(capability, addr string) *Error {
	return &Error{
		Code:    CodePermissionDenied,
		Class:   ErrorInvalid,
		Message: fmt.Sprintf("token does not grant %s", capability),
		Address: addr,
	}
}

// WithAddress returns a copy of the error annotated with addr.
func (e *Error) WithAddress(addr string) *Error {
	clone := *e
	clone.Address = addr
	return &clone
}

// CodeOf extracts the protocol code from an error chain. Unclassified
// errors report CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsInvalid checks if an error is due to invalid input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorInvalid
	}
	return false
}

// IsTransient checks if an error is transient and may be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorTransient
	}
	return errors.Is(err, ErrQueueFull)
}

// IsFatal checks if an error is fatal and should stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorFatal
	}
	return false
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// classFor maps a protocol code to its default class. Everything a
// client can fix by changing its request is invalid; drops are
// transient by nature.
func classFor(code Code) ErrorClass {
	switch code {
	case CodeRateLimitExceeded:
		return ErrorTransient
	case CodeInternal:
		return ErrorFatal
	default:
		return ErrorInvalid
	}
}

// Re-exported stdlib helpers so callers need a single errors import.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }
