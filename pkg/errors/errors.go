// Package errors carries typed API errors. A Code decides the HTTP status, whether a
// client may retry, and whether details are safe to expose.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Payment lifecycle codes.
	CodeAmountMismatch Code = "AMOUNT_MISMATCH"
	CodeOverRefund     Code = "OVER_REFUND"
	CodeGateway        Code = "GATEWAY_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:     {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:   {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:      {http.StatusForbidden, false, "access denied", false},
	CodeNotFound:       {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:       {http.StatusConflict, false, "conflict detected", true},
	CodeStateConflict:  {http.StatusUnprocessableEntity, false, "state transition disallowed", true},
	CodeIdempotency:    {http.StatusConflict, false, "idempotency key reused", true},
	CodeRateLimit:      {http.StatusTooManyRequests, true, "rate limit exceeded", false},
	CodeInternal:       {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:     {http.StatusServiceUnavailable, true, "dependency unavailable", true},
	CodeAmountMismatch: {http.StatusUnprocessableEntity, false, "payment amount does not match", true},
	CodeOverRefund:     {http.StatusUnprocessableEntity, false, "refund exceeds remaining amount", true},
	CodeGateway:        {http.StatusBadGateway, true, "payment provider error", true},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
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

// WithDetails mutates and returns e so it can be chained off New or Wrap.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error with the same code, so errors.Is(err, New(CodeNotFound, ""))
// works as a code check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return err != nil && stdErrors.Is(err, &Error{code: code})
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HTTPStatus maps err to a response status; untyped errors are 500.
func HTTPStatus(err error) int {
	return MetadataFor(As(err).Code()).HTTPStatus
}

// Retryable reports whether the same request may succeed later.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(As(err).Code()).Retryable
}
