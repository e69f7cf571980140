// Package apierr defines the error taxonomy shared by handlers. Each error
// carries the HTTP status it should surface as; handlers render every error
// through Envelope so callers always receive the same JSON shape.
package apierr

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind classifies an error for clients.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindAuthentication   Kind = "authentication_error"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindRateLimit        Kind = "rate_limit_error"
	KindUpstreamConfig   Kind = "upstream_configuration_error"
	KindUpstreamProtocol Kind = "upstream_protocol_error"
	KindUpstream         Kind = "upstream_error"
	KindInternal         Kind = "internal_error"
)

// Error is a component error with a status hint.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	Field      string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports bad input for a named field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message, Field: field}
}

// Authentication reports a missing, invalid or expired session.
func Authentication(message string, err error) *Error {
	return &Error{Kind: KindAuthentication, Status: http.StatusUnauthorized, Message: message, Err: err}
}

// Forbidden reports a request rejected before routing.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Status: http.StatusForbidden, Message: message}
}

// MethodNotAllowed reports a known route called with the wrong method.
func MethodNotAllowed(method string) *Error {
	return &Error{Kind: KindMethodNotAllowed, Status: http.StatusMethodNotAllowed, Message: "Method not allowed: " + method}
}

// NotFound reports a resource the caller asked for that does not exist.
func NotFound(message string, err error) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: message, Err: err}
}

// RateLimited reports that the caller must wait retryAfter before trying again.
func RateLimited(retryAfter time.Duration) *Error {
	secs := RetryAfterSeconds(retryAfter)
	return &Error{
		Kind:       KindRateLimit,
		Status:     http.StatusTooManyRequests,
		Message:    fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", secs),
		RetryAfter: retryAfter,
	}
}

// UpstreamConfig reports an operator configuration fault.
func UpstreamConfig(message string, err error) *Error {
	return &Error{Kind: KindUpstreamConfig, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// UpstreamProtocol reports a third party answering with an unexpected shape.
func UpstreamProtocol(message string, err error) *Error {
	return &Error{Kind: KindUpstreamProtocol, Status: http.StatusBadGateway, Message: message, Err: err}
}

// Upstream reports a third party rejecting a well-formed request.
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: message, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// From returns err as an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("An unexpected error occurred", err)
}

// RetryAfterSeconds rounds d up to whole seconds, minimum one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Envelope is the JSON error body.
type Envelope struct {
	Error      Kind   `json:"error"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Debug      string `json:"debug,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// NewEnvelope renders e. The wrapped error text is exposed only when debug is set.
func NewEnvelope(e *Error, debug bool, now time.Time) Envelope {
	env := Envelope{
		Error:     e.Kind,
		Message:   e.Message,
		Field:     e.Field,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if e.Kind == KindRateLimit {
		env.RetryAfter = RetryAfterSeconds(e.RetryAfter)
	}
	if debug && e.Err != nil {
		env.Debug = e.Err.Error()
	}
	return env
}
