package shared

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are errors themselves so callers can test
// with errors.Is(err, shared.ErrNotFound).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// ErrValidation indicates malformed input or a uniqueness violation surfaced to the client.
	ErrValidation Kind = "validation"
	// ErrNotFound indicates an entity or a relation target does not exist.
	ErrNotFound Kind = "not_found"
	// ErrConflict indicates a unique constraint violation.
	ErrConflict Kind = "conflict"
	// ErrUnauthorized covers missing, invalid, expired or superseded credentials.
	ErrUnauthorized Kind = "unauthorized"
	// ErrForbidden indicates an authenticated subject lacks a permission.
	ErrForbidden Kind = "forbidden"
	// ErrTransient marks cache or broker failures that callers absorb.
	ErrTransient Kind = "transient"
	// ErrFatal marks relational store failures.
	ErrFatal Kind = "fatal"
)

// Error carries a kind plus a client-safe message and the offending field.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Field)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Unauthorized sub-cases. Each stays distinguishable with errors.Is while still
// matching ErrUnauthorized.
var (
	ErrTokenMissing       = &Error{Kind: ErrUnauthorized, Message: "missing bearer token"}
	ErrTokenInvalid       = &Error{Kind: ErrUnauthorized, Message: "token is invalid"}
	ErrTokenExpired       = &Error{Kind: ErrUnauthorized, Message: "token has expired"}
	ErrTokenSuperseded    = &Error{Kind: ErrUnauthorized, Message: "logged in on another device"}
	ErrInvalidCredentials = &Error{Kind: ErrUnauthorized, Message: "invalid credentials"}
	ErrInvalidCode        = &Error{Kind: ErrUnauthorized, Message: "verification code is invalid or expired"}
)

// ErrInvalidReference is returned when a relationship names an id that does not resolve.
var ErrInvalidReference = &Error{Kind: ErrNotFound, Message: "related entity does not exist"}

// Validation builds a validation error for field.
func Validation(field, message string) error {
	return &Error{Kind: ErrValidation, Field: field, Message: message}
}

// NotFound builds a not-found error naming the entity kind and id.
func NotFound(kind, id string) error {
	return &Error{Kind: ErrNotFound, Field: id, Message: kind + " not found"}
}

// InvalidReference wraps ErrInvalidReference naming the unresolved id.
func InvalidReference(kind, id string) error {
	return &Error{Kind: ErrNotFound, Field: id, Message: kind + " does not exist", Err: ErrInvalidReference}
}

// Transient wraps err as an absorbed infrastructure failure.
func Transient(op string, err error) error {
	return &Error{Kind: ErrTransient, Message: op, Err: err}
}

// KindOf returns the classification of err, defaulting to ErrFatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ErrFatal
}

// FieldOf returns the offending field recorded on err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	var k Kind
	if errors.As(err, &k) {
		return string(k)
	}
	return "internal error"
}
