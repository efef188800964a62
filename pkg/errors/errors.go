package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible error classification.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeTimeout       Code = "DEPENDENCY_TIMEOUT"
	// CodeSagaFailed marks a saga that ended FAILED, COMPENSATED or COMPENSATION_FAILED.
	CodeSagaFailed Code = "SAGA_FAILED"
)

// Metadata drives how a code is rendered over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func meta(status int, retryable bool, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: retryable, PublicMessage: public, DetailsAllowed: details}
}

var registry = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, false, "validation failed", true),
	CodeNotFound:      meta(http.StatusNotFound, false, "resource not found", false),
	CodeConflict:      meta(http.StatusConflict, false, "conflict detected", false),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, false, "state transition disallowed", true),
	CodeInternal:      meta(http.StatusInternalServerError, true, "internal server error", false),
	CodeDependency:    meta(http.StatusServiceUnavailable, true, "dependency unavailable", true),
	CodeTimeout:       meta(http.StatusGatewayTimeout, true, "dependency timed out", false),
	CodeSagaFailed:    meta(http.StatusInternalServerError, false, "saga failed", true),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := registry[code]; ok {
		return m
	}
	return registry[CodeInternal]
}

// Error is a coded error with an optional cause and client-facing details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// WrapContext wraps err with fallback unless err is a deadline expiry, which
// is reported as CodeTimeout.
func WrapContext(err error, fallback Code, message string) *Error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeTimeout, err, message)
	}
	return Wrap(fallback, err, message)
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether any typed error in the chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		typed := As(err)
		if typed == nil {
			return false
		}
		if typed.code == code {
			return true
		}
		err = typed.cause
	}
	return false
}
