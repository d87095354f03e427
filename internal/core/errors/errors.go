package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ServiceError represents a structured error with additional context
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches errors carrying the same code, so predefined errors work with errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code
}

// WithDetails returns a copy of the error carrying additional context
func (e *ServiceError) WithDetails(details map[string]interface{}) *ServiceError {
	c := *e
	c.Details = details
	return &c
}

// WithError returns a copy of the error wrapping err
func (e *ServiceError) WithError(err error) *ServiceError {
	c := *e
	c.Err = err
	return &c
}

// WriteHTTP writes the error to an HTTP response
func (e *ServiceError) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatusCode())

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   e.Code,
		"message": e.Message,
		"details": e.Details,
	})
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *ServiceError) HTTPStatusCode() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidConfig, CodeValidationFailed, CodeWrongIP, CodeBadRequest:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeConfigError        = "CONFIG_ERROR"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeConflict           = "CONFLICT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeStorageError       = "STORAGE_ERROR"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"

	// CodeWrongIP is raised by the admin editor when a submitted token is not an IP literal.
	CodeWrongIP = "wrongIP"
)

// Predefined errors
var (
	ErrNotFound = &ServiceError{
		Code:    CodeNotFound,
		Message: "Resource not found",
	}

	ErrInvalidConfig = &ServiceError{
		Code:    CodeInvalidConfig,
		Message: "Invalid configuration format",
	}

	ErrUnauthorized = &ServiceError{
		Code:    CodeUnauthorized,
		Message: "Authentication required",
	}

	ErrForbidden = &ServiceError{
		Code:    CodeForbidden,
		Message: "Access denied",
	}

	ErrRateLimitExceeded = &ServiceError{
		Code:    CodeRateLimitExceeded,
		Message: "Rate limit exceeded",
	}

	ErrStorageUnavailable = &ServiceError{
		Code:    CodeStorageUnavailable,
		Message: "Storage temporarily unavailable",
	}

	ErrWrongIP = &ServiceError{
		Code:    CodeWrongIP,
		Message: "Erreur : Les adresses IP ne sont pas valides / Error: the IP addresses are not valid",
	}
)

// Helper functions for creating errors with context
func NewConfigError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:    CodeConfigError,
		Message: message,
		Err:     err,
	}
}

func NewStorageError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:    CodeStorageError,
		Message: message,
		Err:     err,
	}
}

func NewBadRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:    CodeBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewConflictError(message string) *ServiceError {
	return &ServiceError{
		Code:    CodeConflict,
		Message: message,
	}
}

func NewValidationError(field, message string) *ServiceError {
	return &ServiceError{
		Code:    CodeValidationFailed,
		Message: fmt.Sprintf("Validation failed for field '%s': %s", field, message),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// NewWrongIPError aggregates every rejected allow-list token into one error.
func NewWrongIPError(invalid []string) *ServiceError {
	return ErrWrongIP.WithDetails(map[string]interface{}{
		"field":   "list_ip",
		"invalid": invalid,
	})
}
