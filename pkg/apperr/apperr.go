package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindUnauthorized        Kind = "unauthorized"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

// Error is the classified error every client-facing operation returns.
// Message is safe to show to clients; Err keeps the original cause for logs.
type Error struct {
	Kind    Kind
	Message string
	// Timeout marks upstream-unavailable errors caused by a deadline.
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func BadRequest(msg string) *Error { return newError(KindBadRequest, msg, nil) }

func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg, nil) }

func NotFound(msg string, err error) *Error { return newError(KindNotFound, msg, err) }

func Conflict(msg string) *Error { return newError(KindConflict, msg, nil) }

func Upstream(msg string, err error) *Error { return newError(KindUpstreamUnavailable, msg, err) }

func UpstreamTimeout(msg string, err error) *Error {
	e := newError(KindUpstreamUnavailable, msg, err)
	e.Timeout = true
	return e
}

func Internal(msg string, err error) *Error { return newError(KindInternal, msg, err) }

// Wrap keeps already classified errors and classifies anything else as internal.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(msg, err)
}

// KindOf reports the kind of err, defaulting to internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps err onto the conventional status code for its kind.
func HTTPStatus(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamUnavailable:
		if ae.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "internal server error"
}
