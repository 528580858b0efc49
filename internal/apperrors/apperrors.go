// Package apperrors provides the error taxonomy shared by all control plane
// components, and its mapping onto HTTP status codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy and HTTP mapping.
type Kind string

const (
	// KindValidation is malformed or missing input; user-fixable.
	KindValidation Kind = "validation"
	// KindConflict is a uniqueness or occupancy violation.
	KindConflict Kind = "conflict"
	// KindAuth is a bad token or credential, or insufficient privilege.
	KindAuth Kind = "auth"
	// KindGate means the acceptable-use gate has not been passed.
	KindGate Kind = "gate"
	// KindNotFound is an unknown id or dangling reference.
	KindNotFound Kind = "not_found"
	// KindCapacity means no node or port budget has room.
	KindCapacity Kind = "capacity"
	// KindUpstream means the execution agent was unreachable or failed,
	// surfaced after retries are exhausted.
	KindUpstream Kind = "upstream"
	// KindInternal is an unexpected failure.
	KindInternal Kind = "internal"
)

// Error is a classified control plane error. The message is surfaced verbatim
// to callers as the "error" response field.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause returns a copy of the error wrapping an underlying cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, cause: cause}
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }

// Conflict creates a conflict error.
func Conflict(format string, args ...any) *Error { return New(KindConflict, format, args...) }

// Auth creates an authentication/authorization error.
func Auth(format string, args ...any) *Error { return New(KindAuth, format, args...) }

// Gate creates an access-gate error.
func Gate(format string, args ...any) *Error { return New(KindGate, format, args...) }

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

// Capacity creates a capacity error.
func Capacity(format string, args ...any) *Error { return New(KindCapacity, format, args...) }

// Upstream creates an upstream (agent) error.
func Upstream(format string, args ...any) *Error { return New(KindUpstream, format, args...) }

// Internal creates an internal error.
func Internal(format string, args ...any) *Error { return New(KindInternal, format, args...) }

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus returns the HTTP status code for an error kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindAuth:
		return http.StatusUnauthorized
	case KindGate:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindCapacity:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
