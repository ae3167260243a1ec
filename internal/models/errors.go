// Package models defines the core data structures used throughout the application.
package models

import (
	"fmt"
	"maps"
	"net/http"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrorCodePathInvalid is returned when a memory path is malformed or unsafe.
	ErrorCodePathInvalid ErrorCode = "PATH_INVALID"
	// ErrorCodeContentInvalid is returned when node content fails validation.
	ErrorCodeContentInvalid ErrorCode = "CONTENT_INVALID"

	// ErrorCodeNotFound is returned when a memory node is not found.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeAlreadyExists is returned when strict-create hits an existing node.
	ErrorCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrorCodeRepositoryUnavailable is returned when git is not initialized or misconfigured.
	ErrorCodeRepositoryUnavailable ErrorCode = "REPOSITORY_UNAVAILABLE"
	// ErrorCodeCommitFailed is returned when a git commit fails.
	ErrorCodeCommitFailed ErrorCode = "COMMIT_FAILED"
	// ErrorCodePushFailed is returned when a push fails after exhausting retries.
	ErrorCodePushFailed ErrorCode = "PUSH_FAILED"

	// ErrorCodeSearchUnavailable is returned when no search backend was detected.
	ErrorCodeSearchUnavailable ErrorCode = "SEARCH_UNAVAILABLE"
	// ErrorCodeSearchTimeout is returned when a search exceeds its time budget.
	ErrorCodeSearchTimeout ErrorCode = "SEARCH_TIMEOUT"
	// ErrorCodeSearchQueryInvalid is returned when a search query fails validation.
	ErrorCodeSearchQueryInvalid ErrorCode = "SEARCH_QUERY_INVALID"

	// ErrorCodeForbidden is returned when a mutation is rejected in read-only mode.
	ErrorCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrorCodeValidationFailed is returned when request data fails validation.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeStorageError is returned when an unexpected filesystem failure occurs.
	ErrorCodeStorageError ErrorCode = "STORAGE_ERROR"
	// ErrorCodeInternal is returned when an unexpected server error occurs.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetails defines the structured error information in a response.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the standard API error response.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is a concrete error type with status code, code, and optional details.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
		details:    make(map[string]any),
	}
}

// WithDetails adds details to the error.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	maps.Copy(e.details, details)
	return e
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// Predefined error constructors for common cases

// PathInvalid creates a 400 error for a malformed or unsafe path.
func PathInvalid(path, reason string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodePathInvalid, fmt.Sprintf("invalid path: %s", reason)).
		WithDetail("path", path).
		WithDetail("reason", reason)
}

// ContentInvalid creates a 400 error for invalid node content.
func ContentInvalid(reason string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeContentInvalid, fmt.Sprintf("invalid content: %s", reason)).
		WithDetail("reason", reason)
}

// NotFound creates a 404 Not Found error for a memory node.
func NotFound(path string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, fmt.Sprintf("memory node not found: %s", path)).
		WithDetail("path", path)
}

// AlreadyExists creates a 409 Conflict error.
func AlreadyExists(path string) *APIError {
	return NewAPIError(http.StatusConflict, ErrorCodeAlreadyExists, fmt.Sprintf("memory node already exists: %s", path)).
		WithDetail("path", path)
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(message string) *APIError {
	return NewAPIError(http.StatusForbidden, ErrorCodeForbidden, message)
}

// RepositoryUnavailable creates a 503 error for a missing or broken repository.
func RepositoryUnavailable(operation string, err error) *APIError {
	return NewAPIError(http.StatusServiceUnavailable, ErrorCodeRepositoryUnavailable, "repository unavailable").
		WithDetail("operation", operation).Wrap(err)
}

// PushFailed creates a 502 error after push retries are exhausted.
func PushFailed(attempts int, err error) *APIError {
	return NewAPIError(http.StatusBadGateway, ErrorCodePushFailed, fmt.Sprintf("push failed after %d attempts", attempts)).
		WithDetail("attempts", attempts).Wrap(err)
}

// SearchUnavailable creates a 503 error when no search backend is available.
func SearchUnavailable() *APIError {
	return NewAPIError(http.StatusServiceUnavailable, ErrorCodeSearchUnavailable, "no search backend available")
}

// SearchTimeout creates a 504 error for a timed-out search.
func SearchTimeout(query string, timeout float64) *APIError {
	return NewAPIError(http.StatusGatewayTimeout, ErrorCodeSearchTimeout, "search timed out").
		WithDetail("query", query).
		WithDetail("timeoutSeconds", timeout)
}

// SearchQueryInvalid creates a 400 error for an invalid search query.
func SearchQueryInvalid(reason string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeSearchQueryInvalid, fmt.Sprintf("invalid search query: %s", reason)).
		WithDetail("reason", reason)
}

// StorageError creates a 500 error for an unexpected filesystem failure.
func StorageError(operation, path string, err error) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeStorageError, "storage operation failed").
		WithDetail("operation", operation).
		WithDetail("path", path).Wrap(err)
}

// Internal returns a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}
