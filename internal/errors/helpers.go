package errors

import (
	"fmt"
	"net/http"
)

// Common error creators for the submission pipeline

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewSubmissionLimitError is returned when a landing page or client exceeded its cap.
func NewSubmissionLimitError(scope string, limit int) *AppError {
	return New(ErrCodeSubmissionLimit, "submission limit reached").
		WithContext("scope", scope).
		WithContext("limit", limit).
		WithUserMessage("Submission limit reached")
}

// NewInvalidPhoneError creates an error for phone input that cannot be normalized
func NewInvalidPhoneError(digits int, minDigits int) *AppError {
	return New(ErrCodeInvalidPhone, fmt.Sprintf("phone number has %d digits, need at least %d", digits, minDigits)).
		WithContext("digits", digits).
		WithUserMessage("Invalid phone number")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewGatewayUnavailableError wraps a transport-level gateway failure. These are retryable
// by whoever owns the retry policy.
func NewGatewayUnavailableError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeGatewayUnavailable, fmt.Sprintf("gateway %s failed", operation)).
		WithContext("operation", operation)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeConfiguration, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewStepFailure scopes an error to one dispatch step.
func NewStepFailure(step string, err error) *AppError {
	return Wrap(err, ErrCodeStepFailure, fmt.Sprintf("%s step failed", step)).
		WithContext("step", step)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidPhone:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeSubmissionLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeGatewayUnavailable:
		return http.StatusBadGateway
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "password" && k != "token" && k != "secret" && k != "value" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}
