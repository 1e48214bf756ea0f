// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/turna/console/internal/client"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

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
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field %s: %s", field, message),
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

// toAPIError maps handler and backend errors onto the response shape.
func toAPIError(err error, dev bool) *APIError {
	var (
		apiErr     *APIError
		backendErr *client.APIError
		validErr   *client.ValidationError
		httpErr    *echo.HTTPError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, client.ErrSessionExpired):
		return &APIError{
			Status:  http.StatusUnauthorized,
			Code:    "SESSION_EXPIRED",
			Message: client.ErrSessionExpired.Error(),
		}
	case errors.As(err, &backendErr):
		code := backendErr.Code
		if code == "" {
			code = "BACKEND_ERROR"
		}
		return &APIError{
			Status:  backendErr.Status,
			Code:    code,
			Message: backendErr.Message,
			Details: backendErr.Details,
		}
	case errors.As(err, &validErr):
		return NewValidationError(validErr.Field, validErr.Message)
	case errors.As(err, &httpErr):
		return &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	}

	out := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "BACKEND_UNREACHABLE",
		Message: "the backend could not be reached",
	}
	if dev {
		out.Details = err.Error()
	}
	return out
}

// NewErrorHandler returns the echo error handler. dev includes the cause of
// unexpected errors in the response.
func NewErrorHandler(dev bool, logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := toAPIError(err, dev)
		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		c.JSON(apiErr.Status, apiErr)
	}
}
