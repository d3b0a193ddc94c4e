// Package errors defines the coded error type shared by every craftbrew
// component. Codes are stable and used by the CLI to pick an exit status.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies an error category.
type Code string

const (
	ErrUnknown          Code = "UNKNOWN"
	ErrInvalidInput     Code = "INVALID_INPUT"
	ErrManifestParse    Code = "MANIFEST_PARSE"
	ErrManifestConflict Code = "MANIFEST_CONFLICT"
	ErrProbe            Code = "PROBE"
	ErrPlanValidation   Code = "PLAN_VALIDATION"
	ErrExecution        Code = "EXECUTION"
	ErrSnapshot         Code = "SNAPSHOT"
)

// Error is a structured error with a code, a corrective hint and details.
type Error struct {
	Code      Code
	Message   string
	Hint      string
	Retryable bool
	Details   map[string]interface{}
	Wrapped   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err. It returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	e := New(code, message)
	e.Wrapped = err
	// Lock and network failures stay retryable after wrapping.
	e.Retryable = IsRetryable(err)
	return e
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithHint sets the corrective hint shown to the user.
func (e *Error) WithHint(format string, args ...interface{}) *Error {
	e.Hint = fmt.Sprintf(format, args...)
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsRetryable marks the error as retryable.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

// CodeOf returns the code of the outermost *Error in err's chain,
// or ErrUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// HintOf returns the first non-empty hint in err's chain.
func HintOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Hint != "" {
			return e.Hint
		}
		err = e.Wrapped
	}
	return ""
}

// retryabler is implemented by errors from other packages (the brew client)
// that know whether they are transient.
type retryabler interface {
	Retryable() bool
}

// IsRetryable reports whether any error in the chain is marked retryable.
func IsRetryable(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Retryable {
			return true
		}
		if r, ok := err.(retryabler); ok && r.Retryable() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is is a convenience re-export so callers need only one errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience re-export so callers need only one errors import.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
