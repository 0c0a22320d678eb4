// Package apierr implements the caller-facing error taxonomy shared by
// every layer of the handshake core: Unauthorized, Forbidden, NotFound,
// Validation, Unprocessable, Conflict, RateLimited, Transient, Internal.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnauthorized  Kind = "UNAUTHORIZED"
	KindForbidden     Kind = "FORBIDDEN"
	KindNotFound      Kind = "NOT_FOUND"
	KindValidation    Kind = "VALIDATION"
	KindUnprocessable Kind = "UNPROCESSABLE"
	KindConflict      Kind = "CONFLICT"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindTransient     Kind = "TRANSIENT"
	KindInternal      Kind = "INTERNAL"
)

// Error is the typed failure every core operation returns instead of a
// bare error, so HTTP and live-channel layers can map it without guessing.
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

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Unauthorized(msg string) *Error  { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error     { return New(KindForbidden, msg) }
func NotFound(msg string) *Error      { return New(KindNotFound, msg) }
func Validation(msg string) *Error    { return New(KindValidation, msg) }
func Unprocessable(msg string) *Error { return New(KindUnprocessable, msg) }
func Conflict(msg string) *Error      { return New(KindConflict, msg) }
func RateLimited(msg string) *Error   { return New(KindRateLimited, msg) }
func Transient(msg string, cause error) *Error {
	return Wrap(KindTransient, msg, cause)
}
func Internal(msg string, cause error) *Error {
	return Wrap(KindInternal, msg, cause)
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code spec.md §7 assigns it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
