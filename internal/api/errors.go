// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/session"
	"github.com/client-intake/frontend/internal/storage"
	"github.com/labstack/echo/v4"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
		Field:   field,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewBusyError creates a 409 error for a session with a request in flight
func NewBusyError() *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "REQUEST_IN_FLIGHT",
		Message: "a request for this session is already in flight",
	}
}

// NewTooLargeError creates a 413 error for oversized uploads
func NewTooLargeError(cause error) *APIError {
	err := &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "FILE_TOO_LARGE",
		Message: "file exceeds the upload size limit",
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewBadGatewayError creates a 502 error for a failing intake service
func NewBadGatewayError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "UPSTREAM_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// NewRateLimitedError creates a 429 Too Many Requests error
func NewRateLimitedError() *APIError {
	return &APIError{
		Status:  http.StatusTooManyRequests,
		Code:    "RATE_LIMITED",
		Message: "too many requests",
	}
}

// sessionError maps session and flow errors to API errors. text resolves
// validation keys to user-facing messages.
func sessionError(err error, id string, text func(key string, args ...any) string) *APIError {
	var verr *flow.ValidationError
	switch {
	case errors.As(err, &verr):
		return &APIError{
			Status:  http.StatusBadRequest,
			Code:    "VALIDATION_ERROR",
			Message: text(verr.Key),
			Field:   verr.Field,
			Details: verr.Key,
		}
	case errors.Is(err, session.ErrNotFound):
		return NewNotFoundError("session", id)
	case errors.Is(err, flow.ErrBusy):
		return NewBusyError()
	case errors.Is(err, flow.ErrWrongStage),
		errors.Is(err, flow.ErrNoMode),
		errors.Is(err, flow.ErrFilesDisabled),
		errors.Is(err, flow.ErrNotInFlight):
		return NewConflictError(err.Error())
	case errors.Is(err, flow.ErrInvalidDigit),
		errors.Is(err, flow.ErrInvalidMode),
		errors.Is(err, flow.ErrNoSuchSlot),
		errors.Is(err, flow.ErrTooManyFiles),
		errors.Is(err, flow.ErrUnknownEvent),
		errors.Is(err, session.ErrUseSubmit):
		return NewBadRequestError(err.Error(), nil)
	case errors.Is(err, storage.ErrTooLarge):
		return NewTooLargeError(err)
	case errors.Is(err, session.ErrCapacity):
		return NewServiceUnavailableError(err.Error())
	}
	return NewInternalError("session operation failed", err)
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError

	switch e := err.(type) {
	case *APIError:
		apiErr = e
	case *echo.HTTPError:
		apiErr = &APIError{
			Status:  e.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", e.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
		if isDevelopment() {
			apiErr.Details = err.Error()
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}

// isDevelopment reports whether internal error details may be exposed.
func isDevelopment() bool {
	return os.Getenv("INTAKE_ENV") != "production"
}
