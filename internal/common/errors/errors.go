// Package errors defines the coordinator's wire-level error type. AppError
// carries a stable discriminator and HTTP status alongside the handful of
// generic constructors the HTTP layer reaches for directly; domain-specific
// errors (parameter validation, agent/session/run lookups, hook failures,
// ...) live in taxonomy.go instead of being bolted on here.
package errors

import (
	"fmt"
	"net/http"
)

const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
)

// AppError represents an application-specific error with additional context.
//
// Code doubles as the stable "error" discriminator string required by the
// coordinator's wire contract (e.g. "parameter_validation_failed"). When
// Details is non-nil its entries are flattened alongside "error" in the
// JSON response instead of nested under a "code"/"message" envelope — see
// ErrorHandler in the api package.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"http_status"`
	Err        error                  `json:"-"`
	Details    map[string]interface{} `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource, used by handlers
// that have no dedicated taxonomy entry (currently just the runner lookup).
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error, used for request decoding and
// query-parameter failures that precede any domain-specific validation.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
