// Package errors classifies the failures a collection cycle can run into.
//
// Every failure that crosses a package boundary is a *StructuredError carrying
// an ErrorCode. The collector uses the code to decide whether a cycle aborts,
// skips a record, or logs and continues.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a structured error classification.
type ErrorCode string

const (
	// ErrCodePackageSource indicates the package manager could not be queried.
	ErrCodePackageSource ErrorCode = "PACKAGE_SOURCE"
	// ErrCodeParse indicates a package record or snapshot line did not parse.
	ErrCodeParse ErrorCode = "PARSE"
	// ErrCodePersistence indicates the snapshot store could not be read or written.
	ErrCodePersistence ErrorCode = "PERSISTENCE"
	// ErrCodeSink indicates the annotation backend did not accept an event.
	ErrCodeSink ErrorCode = "SINK"
	// ErrCodeUnauthorized indicates the annotation backend rejected the credentials.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeBusy indicates another cycle holds the cycle lock.
	ErrCodeBusy ErrorCode = "BUSY"
	// ErrCodeConfig indicates invalid configuration.
	ErrCodeConfig ErrorCode = "CONFIG"
)

// StructuredError carries an error code, a human-readable message, the
// underlying cause and optional context for logging.
type StructuredError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new StructuredError with the given code and message.
func New(code ErrorCode, message string) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithContext wraps an error with additional context information.
func WrapWithContext(code ErrorCode, message string, cause error, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// CodeOf returns the code of the outermost StructuredError in err's chain,
// or "" if there is none.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether any StructuredError in err's chain has the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var se *StructuredError
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}
