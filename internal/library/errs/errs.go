// Package errs defines the typed error taxonomy shared by the storage, upload and query layers.
package errs

import (
	"fmt"
	"net/http"

	errors "github.com/Laisky/errors/v2"
)

// Code identifies a machine-stable error class.
type Code string

const (
	// CodeValidation marks bad or missing input.
	CodeValidation Code = "VALIDATION"
	// CodeNotFound marks an unknown id or path.
	CodeNotFound Code = "NOT_FOUND"
	// CodeNoConnection marks an operation that needs an open data file.
	CodeNoConnection Code = "NO_CONNECTION"
	// CodeExecution marks a statement rejected by the SQL engine.
	CodeExecution Code = "EXECUTION"
	// CodeStorage marks a filesystem failure.
	CodeStorage Code = "STORAGE"
	// CodeCorruptFile marks bytes that are not a usable database.
	CodeCorruptFile Code = "CORRUPT_FILE"
)

// Error is a typed error carrying a short message and optional engine details.
type Error struct {
	Code    Code
	Message string
	Details string
	cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", msg, e.Details)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// New constructs a typed error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a typed error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to cause, cause's text becomes the details.
func Wrap(cause error, code Code, message string) *Error {
	e := &Error{Code: code, Message: message, cause: cause}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// AsError extracts a typed error from the error chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// IsCode reports whether the error chain contains the given code.
func IsCode(err error, code Code) bool {
	if typed, ok := AsError(err); ok {
		return typed.Code == code
	}
	return false
}

// HTTPStatus maps an error to the status code the HTTP layer should answer with.
func HTTPStatus(err error) int {
	typed, ok := AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch typed.Code {
	case CodeValidation, CodeNoConnection:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
