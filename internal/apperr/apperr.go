// Package apperr defines the tagged domain errors the rating engine core
// surfaces to its callers (HTTP edge, workers). Every error kind maps to
// exactly one HTTP status at the edge; packages deeper in the call graph
// never reach for net/http themselves.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tags a domain error so the HTTP edge and worker loops can decide how
// to surface or retry it without string-matching messages.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindInvalidPlayers      Kind = "invalid_players"
	KindInvalidOrganization Kind = "invalid_organization"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindInsufficientScope   Kind = "insufficient_scope"
	KindInsufficientGrants  Kind = "insufficient_grants"
	KindMissingToken        Kind = "missing_token"
	KindInvalidToken        Kind = "invalid_token"
	KindInternal            Kind = "internal_error"
)

// Error is the concrete domain error value. Details carries kind-specific
// structured data (e.g. {missing, wrong_organization} for invalid_players).
type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured detail data, returning the same error for chaining.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// Wrap tags an underlying error (e.g. a driver error) with a domain kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Internal wraps an unexpected error as internal_error, the catch-all for
// anything that was not supposed to be reachable (§7 of the spec).
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// As extracts an *Error from err, following the same contract as errors.As.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else KindInternal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
