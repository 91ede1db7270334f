package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies failures so boundaries can map them to a response
// without inspecting messages.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindAuth
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimited
	KindExternalUnavailable
)

// String returns the canonical kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth_error"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindExternalUnavailable:
		return "external_unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to the status code the server layer returns.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindExternalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed domain error. Fields names the offending payload fields
// for validation failures so the boundary can echo them back.
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  []string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k})
// works without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E creates a domain error of the given kind.
func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Ef creates a domain error with a formatted message.
func Ef(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapE wraps a cause with a domain kind. The cause stays reachable via
// errors.Is / errors.As.
func WrapE(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewAuthError creates an authentication failure (HTTP 401).
func NewAuthError(msg string) *Error {
	return E(KindAuth, msg)
}

// NewValidationError creates a validation failure naming offending fields.
func NewValidationError(msg string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// NewNotFound creates a not-found failure for an entity.
func NewNotFound(entity string, id any) *Error {
	return Ef(KindNotFound, "%s %v not found", entity, id)
}

// NewConflict creates a conflict failure (CAS miss, duplicate key).
func NewConflict(msg string) *Error {
	return E(KindConflict, msg)
}

// NewRateLimited creates a backpressure failure (HTTP 429).
func NewRateLimited(msg string) *Error {
	return E(KindRateLimited, msg)
}

// NewExternalUnavailable wraps a downstream outage (market data, bus).
func NewExternalUnavailable(op string, err error) *Error {
	return WrapE(KindExternalUnavailable, op+" unavailable", err)
}

// KindOf extracts the kind from any error chain; unclassified errors are
// internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// FieldsOf returns the offending field list from a validation error chain,
// or nil.
func FieldsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
