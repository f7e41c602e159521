package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the platform's stable categories.
// Service and transport layers branch on the kind, never on message text.
type Kind string

const (
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindForbidden         Kind = "FORBIDDEN"
	KindValidation        Kind = "VALIDATION"
	KindConflict          Kind = "CONFLICT"
	KindStale             Kind = "STALE"
	KindDependentRows     Kind = "DEPENDENT_ROWS"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindNotFound          Kind = "NOT_FOUND"
	KindInfra             Kind = "INFRA"
	KindInternal          Kind = "INTERNAL"
)

// Error is the typed error carried across layer boundaries. Field is set for
// validation failures, Key for uniqueness conflicts, Details for anything a
// caller needs to act on (e.g. from/to on transition failures). Internal
// causes stay wrapped and are never rendered to callers.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Key     string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	case e.Key != "":
		return fmt.Sprintf("%s: %s (key=%s)", e.Kind, e.Message, e.Key)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality so callers can match against the exported
// sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is matching. Each carries only its kind.
var (
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated, Message: "unauthenticated"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
	ErrStale             = &Error{Kind: KindStale, Message: "stale version"}
	ErrDependentRows     = &Error{Kind: KindDependentRows, Message: "dependent rows exist"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInfra             = &Error{Kind: KindInfra, Message: "infrastructure failure"}
	ErrInternal          = &Error{Kind: KindInternal, Message: "internal error"}
)

// Unauthenticated builds an UNAUTHENTICATED error.
func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// Forbidden builds a FORBIDDEN error. The message must not leak row contents
// from other tenants.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Validation builds a VALIDATION error naming the offending field.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Field: field}
}

// Conflict builds a CONFLICT error naming the offending key.
func Conflict(key, msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg, Key: key}
}

// Stale builds a STALE error for optimistic lock failures. Callers may retry.
func Stale(msg string) *Error {
	return &Error{Kind: KindStale, Message: msg}
}

// DependentRows builds a DEPENDENT_ROWS error for restricted deletes.
func DependentRows(msg string) *Error {
	return &Error{Kind: KindDependentRows, Message: msg}
}

// InvalidTransition builds an INVALID_TRANSITION error carrying both ends of
// the rejected edge.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("transition %s -> %s is not allowed", from, to),
		Details: map[string]any{"from": from, "to": to},
	}
}

// NotFound builds a NOT_FOUND error. The entity is absent within the caller's
// tenant scope; rows outside that scope report the same error.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Infra wraps an I/O or dependency failure. The cause is preserved for logs;
// callers see only the generic message.
func Infra(cause error, msg string) *Error {
	return &Error{Kind: KindInfra, Message: msg, cause: cause}
}

// Internal wraps a bug or invariant breach. The cause is preserved for logs;
// callers see only the generic message.
func Internal(cause error, msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// KindOf extracts the kind from any error in the chain. Unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, k Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == k
	}
	return false
}
