package errors

import (
	"errors"
	"time"
)

// Logout reasons attached to terminal refresh failures.
const (
	ReasonTokenExpired       = "token_expired"
	ReasonMaxRetriesExceeded = "max_retries_exceeded"
	ReasonRefreshFailed      = "refresh_failed"
	ReasonRefreshError       = "refresh_error"
)

// ErrAuthenticationRequired is returned when a protected call is attempted
// without a valid or refreshable session.
var ErrAuthenticationRequired = New(401, "authentication required").WithCode("authentication_required")

// AuthenticationRequired reports whether err means the caller must log in.
func AuthenticationRequired(err error) bool {
	return Is(err, ErrAuthenticationRequired)
}

// RefreshError is the terminal outcome of a failed token refresh. It is
// always accompanied by session clearing and a logout event.
type RefreshError struct {
	// Reason is one of the Reason* constants.
	Reason string
	// StatusCode is the HTTP status of the final refresh response, when any.
	StatusCode int
	// Code is the server-supplied error code, when any.
	Code  string
	cause error
}

func (e *RefreshError) Error() string {
	msg := "token refresh failed: " + e.Reason
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *RefreshError) Unwrap() error {
	return e.cause
}

// NewRefreshError builds a terminal refresh error.
func NewRefreshError(reason string, statusCode int, code string, cause error) *RefreshError {
	return &RefreshError{
		Reason:     reason,
		StatusCode: statusCode,
		Code:       code,
		cause:      cause,
	}
}

// RefreshFailed reports whether err is a terminal refresh failure and
// returns it when so.
func RefreshFailed(err error) (*RefreshError, bool) {
	var re *RefreshError
	ok := errors.As(err, &re)
	return re, ok
}

// RateLimitError signals an HTTP 429 with the server-advised retry delay.
// It is handled internally by the refresh scheduler and only escapes when
// retries are exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limited, retry after " + e.RetryAfter.String()
}

// RateLimited extracts a RateLimitError from err, if present.
func RateLimited(err error) (*RateLimitError, bool) {
	var re *RateLimitError
	ok := errors.As(err, &re)
	return re, ok
}

// Constructors for the HTTP statuses the client surfaces directly.

func BadRequest(format string, args ...any) *Error {
	return New(400, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(401, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(403, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(404, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(409, format, args...)
}

func TooManyRequests(format string, args ...any) *Error {
	return New(429, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(500, format, args...)
}

func ServiceUnavailable(format string, args ...any) *Error {
	return New(503, format, args...)
}

// Retryable reports whether the status is worth retrying with backoff:
// 5xx server failures and request timeouts. 4xx responses other than 429
// will not improve on retry.
func Retryable(statusCode int) bool {
	return statusCode >= 500 || statusCode == 408
}
