package errors

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

const (
	// UnknownStatus is used when an error carries no usable HTTP status.
	UnknownStatus = 500
)

// Status is the wire-level shape of a backend error: the HTTP status the
// response carried, the server-supplied error code (e.g. "token_not_valid")
// and a human-readable message.
type Status struct {
	StatusCode int               `json:"status,omitempty"`
	Code       string            `json:"error_code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Error is the structured error used across the SDK. It wraps a Status with
// an optional cause chain so transport failures keep their origin.
type Error struct {
	Status
	cause error
}

// Error renders the status, code, metadata and cause on a single line.
func (e *Error) Error() string {
	var msg strings.Builder

	msg.WriteString("status=")
	msg.WriteString(strconv.Itoa(e.StatusCode))
	if e.Code != "" {
		msg.WriteString(", code=")
		msg.WriteString(e.Code)
	}
	msg.WriteString(", message=")
	msg.WriteString(e.Message)

	if len(e.Metadata) > 0 {
		msg.WriteString(", metadata={")
		first := true
		for k, v := range e.Metadata {
			if !first {
				msg.WriteString(", ")
			}
			msg.WriteString(k)
			msg.WriteByte('=')
			msg.WriteString(v)
			first = false
		}
		msg.WriteByte('}')
	}

	if e.cause != nil {
		msg.WriteString(", cause=")
		msg.WriteString(e.cause.Error())
	}

	return msg.String()
}

// Unwrap returns the cause of the error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether err is an *Error with the same HTTP status and code.
func (e *Error) Is(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return e.StatusCode == me.StatusCode && e.Code == me.Code
	}
	return false
}

// WithCode returns a copy of the error carrying the server error code.
func (e *Error) WithCode(code string) *Error {
	if code == "" {
		return e
	}

	err := e.clone()
	err.Code = code
	return err
}

// WithMetadata returns a copy of the error with the metadata merged in.
func (e *Error) WithMetadata(m map[string]string) *Error {
	if len(m) == 0 {
		return e
	}

	err := e.clone()
	if err.Metadata == nil {
		err.Metadata = make(map[string]string, len(m))
	}

	maps.Copy(err.Metadata, m)
	return err
}

// WithCause returns a copy of the error with the cause attached.
func (e *Error) WithCause(cause error) *Error {
	if cause == nil {
		return e
	}

	err := e.clone()
	err.cause = cause
	return err
}

// clone copies the error, deep-copying the metadata map.
func (e *Error) clone() *Error {
	var metadata map[string]string
	if len(e.Metadata) > 0 {
		metadata = make(map[string]string, len(e.Metadata))
		maps.Copy(metadata, e.Metadata)
	}

	return &Error{
		Status: Status{
			StatusCode: e.StatusCode,
			Code:       e.Code,
			Message:    e.Message,
			Metadata:   metadata,
		},
		cause: e.cause,
	}
}

// GetStatusCode returns the HTTP status the error carries.
func (e *Error) GetStatusCode() int {
	return e.StatusCode
}

// GetCode returns the server-supplied error code.
func (e *Error) GetCode() string {
	return e.Code
}

// GetMessage returns the error message.
func (e *Error) GetMessage() string {
	return e.Message
}

// GetMetadata returns a copy of the metadata to prevent external modification.
func (e *Error) GetMetadata() map[string]string {
	if len(e.Metadata) == 0 {
		return nil
	}

	result := make(map[string]string, len(e.Metadata))
	maps.Copy(result, e.Metadata)
	return result
}

// GetCause returns the underlying cause of the error.
func (e *Error) GetCause() error {
	return e.cause
}

// New creates a new error with the given HTTP status and formatted message.
func New(statusCode int, format string, args ...any) *Error {
	var message string
	if len(args) == 0 {
		message = format
	} else {
		message = fmt.Sprintf(format, args...)
	}

	return &Error{
		Status: Status{
			StatusCode: statusCode,
			Message:    message,
		},
	}
}

// FromError converts a generic error to *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var me *Error
	if errors.As(err, &me) {
		return me
	}

	return New(UnknownStatus, "%v", err)
}

// StatusOf returns the HTTP status carried by err, or UnknownStatus when err
// is not an *Error.
func StatusOf(err error) int {
	if me := FromError(err); me != nil {
		return me.StatusCode
	}
	return UnknownStatus
}

// Wrap wraps an error with a status and message while preserving the chain.
// Returns nil if the input error is nil.
func Wrap(err error, statusCode int, format string, args ...any) *Error {
	if err == nil {
		return nil
	}

	return New(statusCode, format, args...).WithCause(err)
}

// Stdlib re-exports so callers need a single errors import.

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
