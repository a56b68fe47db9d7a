// Package apperr defines the error kinds shared by the relay components.
//
// Components wrap failures with one of the sentinel kinds so callers can
// decide whether a failure is fatal to a connection (authentication) or
// reportable to the requester (everything else) with errors.Is.
package apperr

import (
	"errors"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrValidation           = errors.New("validation failed")
	ErrAccessDenied         = errors.New("access denied")
	ErrNotFound             = errors.New("not found")
	ErrUnavailable          = errors.New("dependency unavailable")
	ErrBrokerDisconnected   = errors.New("broker disconnected")
)

// Error pairs an error kind with the message shown to the client.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

// New returns an error of the given kind carrying a client-facing message.
func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap is like New but keeps the underlying cause for logging and errors.Is.
func Wrap(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.Error() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

// Is reports a match against the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns the text safe to send to a client for err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication failed"
	case errors.Is(err, ErrValidation):
		return "invalid request"
	case errors.Is(err, ErrAccessDenied):
		return "access denied"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrUnavailable):
		return "service temporarily unavailable"
	}
	return "internal error"
}
