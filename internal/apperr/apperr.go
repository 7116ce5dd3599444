// Package apperr carries a failure kind and the failing operation up to the
// transport boundary, where it becomes an explicit error response.
package apperr

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is an application error. Message is safe to show to callers; Err is
// the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid reports a malformed request parameter.
func Invalid(op, message string) error {
	return &Error{Kind: KindInvalid, Op: op, Message: message}
}

// NotFound reports a missing resource.
func NotFound(op, message string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

// Conflict reports a uniqueness violation.
func Conflict(op, message string, err error) error {
	return &Error{Kind: KindConflict, Op: op, Message: message, Err: err}
}

// Unavailable reports a disabled or unreachable dependency.
func Unavailable(op, message string) error {
	return &Error{Kind: KindUnavailable, Op: op, Message: message}
}

// Internal wraps an unexpected failure of op. The message names the operation
// and a stack trace is attached to the cause.
func Internal(op string, err error) error {
	return &Error{
		Kind:    KindInternal,
		Op:      op,
		Message: "Failed to " + op,
		Err:     errors.WithStack(err),
	}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}
