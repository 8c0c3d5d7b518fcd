// Package errors provides the tagged error type shared by every layer of the
// client. Remote failures are wrapped at the store boundary with a domain
// message while keeping their classified cause, so callers can tell a missing
// document from a dropped connection or an expired session.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

// ============================================================================
// ERROR KINDS
// ============================================================================

// Kind defines the category of an error for handling and presentation.
type Kind string

const (
	// User-fixable errors
	KindValidation   Kind = "VALIDATION"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"

	// Transport errors
	KindNetwork     Kind = "NETWORK"
	KindUnavailable Kind = "UNAVAILABLE"
	KindCanceled    Kind = "CANCELED"

	// Everything else
	KindInternal Kind = "INTERNAL"
)

// ============================================================================
// ERROR STRUCTURE
// ============================================================================

// AppError is the single error type returned across package boundaries.
type AppError struct {
	Kind    Kind              `json:"kind"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Op      string            `json:"op,omitempty"`
	Context map[string]string `json:"context,omitempty"`

	// Fields holds per-field messages for validation failures.
	Fields map[string]string `json:"fields,omitempty"`

	Retryable bool  `json:"retryable"`
	Cause     error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// String renders the error with its context, sorted for stable logs.
func (e *AppError) String() string {
	var b strings.Builder
	b.WriteString(e.Error())
	if e.Op != "" {
		fmt.Fprintf(&b, " op=%s", e.Op)
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, e.Context[k])
	}
	return b.String()
}

// ============================================================================
// BUILDER
// ============================================================================

// Builder provides a fluent interface for constructing AppError values.
type Builder struct {
	err *AppError
}

// New starts a builder for the given kind.
func New(kind Kind, code, message string) *Builder {
	return &Builder{err: &AppError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: kind == KindNetwork || kind == KindUnavailable,
	}}
}

// WithOp records the operation that failed.
func (b *Builder) WithOp(op string) *Builder {
	b.err.Op = op
	return b
}

// WithCause attaches the underlying error.
func (b *Builder) WithCause(cause error) *Builder {
	b.err.Cause = cause
	return b
}

// WithContext adds a key/value pair describing the failed call.
func (b *Builder) WithContext(key, value string) *Builder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]string)
	}
	b.err.Context[key] = value
	return b
}

// WithField adds a per-field validation message.
func (b *Builder) WithField(field, message string) *Builder {
	if b.err.Fields == nil {
		b.err.Fields = make(map[string]string)
	}
	b.err.Fields[field] = message
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *AppError {
	return b.err
}

// ============================================================================
// CONVENIENCE CONSTRUCTORS
// ============================================================================

// Validation creates a validation error.
func Validation(code, message string) *Builder {
	return New(KindValidation, code, message)
}

// NotFound creates a not found error.
func NotFound(code, message string) *Builder {
	return New(KindNotFound, code, message)
}

// Conflict creates a conflict error.
func Conflict(code, message string) *Builder {
	return New(KindConflict, code, message)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(code, message string) *Builder {
	return New(KindUnauthorized, code, message)
}

// Forbidden creates a forbidden error.
func Forbidden(code, message string) *Builder {
	return New(KindForbidden, code, message)
}

// Unavailable creates an error for a backend that refuses calls.
func Unavailable(code, message string) *Builder {
	return New(KindUnavailable, code, message)
}

// Internal creates an internal error.
func Internal(code, message string) *Builder {
	return New(KindInternal, code, message)
}

// ============================================================================
// CLASSIFICATION
// ============================================================================

// KindOf reports the kind of err. Errors that are not AppError values are
// classified from their chain and message.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Classify(err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return Is(err, KindValidation) }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return Is(err, KindNotFound) }

// IsUnauthorized checks if an error is an unauthorized error.
func IsUnauthorized(err error) bool { return Is(err, KindUnauthorized) }

// IsForbidden checks if an error is a forbidden error.
func IsForbidden(err error) bool { return Is(err, KindForbidden) }

// IsCanceled checks if an error came from a canceled context.
func IsCanceled(err error) bool { return Is(err, KindCanceled) }

// IsRetryable reports whether the caller may try the operation again.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	k := Classify(err)
	return k == KindNetwork || k == KindUnavailable
}

// FieldErrors returns per-field messages of a validation error.
func FieldErrors(err error) map[string]string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Fields
	}
	return nil
}

// Classify derives a kind from a foreign error. The backend SDKs report most
// failures as formatted strings, so status codes and well-known database
// codes are matched in the message.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "status code 401", "invalid login", "jwt expired", "invalid jwt", "unauthorized", "not authenticated"):
		return KindUnauthorized
	case containsAny(msg, "status code 403", "42501", "permission denied", "forbidden"):
		return KindForbidden
	case containsAny(msg, "status code 404", "pgrst116", "not found", "no rows"):
		return KindNotFound
	case containsAny(msg, "status code 409", "23505", "duplicate key", "already exists", "already registered"):
		return KindConflict
	case containsAny(msg, "status code 400", "status code 422", "invalid input", "23502", "22p02"):
		return KindValidation
	case containsAny(msg, "connection refused", "no such host", "connection reset", "eof", "timeout", "status code 502", "status code 503", "status code 504"):
		return KindNetwork
	default:
		return KindInternal
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ============================================================================
// WRAPPING
// ============================================================================

// Wrap labels err with a domain message for op. The kind of an existing
// AppError is kept; other errors are classified. The original error stays
// reachable through Unwrap. A nil err gives a nil error.
func Wrap(err error, op, message string) error {
	if err == nil {
		return nil
	}
	return wrap(err, op, message)
}

// WrapWith is Wrap plus a single context pair.
func WrapWith(err error, op, message, key, value string) error {
	if err == nil {
		return nil
	}
	wrapped := wrap(err, op, message)
	if wrapped.Context == nil {
		wrapped.Context = make(map[string]string, 1)
	}
	wrapped.Context[key] = value
	return wrapped
}

func wrap(err error, op, message string) *AppError {
	kind := KindOf(err)
	wrapped := &AppError{
		Kind:      kind,
		Code:      codeFor(op, kind),
		Message:   message,
		Op:        op,
		Retryable: kind == KindNetwork || kind == KindUnavailable,
		Cause:     err,
	}
	var existing *AppError
	if errors.As(err, &existing) {
		wrapped.Fields = existing.Fields
		for k, v := range existing.Context {
			if wrapped.Context == nil {
				wrapped.Context = make(map[string]string, len(existing.Context))
			}
			wrapped.Context[k] = v
		}
	}
	return wrapped
}

func codeFor(op string, kind Kind) string {
	if op == "" {
		return string(kind)
	}
	return strings.ToUpper(op) + "_" + string(kind)
}
