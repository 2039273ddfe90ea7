package blackboard

import (
	"errors"
	"fmt"
)

// Error is a blackboard error with a stable code.
type Error struct {
	Code    string // e.g. "BB-4040"
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches errors with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details string) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Code returns the code of err, or "" if it is not a blackboard error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var (
	ErrInvalidObject = newError("BB-4000", "object must be non-nil and carry a uid")
	ErrNotFound      = newError("BB-4040", "object not found")
	ErrConflict      = newError("BB-4090", "uid already published")
	ErrOwnerMismatch = newError("BB-4091", "object published by another owner")
)
