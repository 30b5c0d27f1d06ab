package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeConfiguration,
				Message: "no connection available",
			},
			expected: "CONFIGURATION: no connection available",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeDatabaseConnection,
				Message: "failed to connect to database",
				Cause:   errors.New("connection refused"),
			},
			expected: "DATABASE_CONNECTION: failed to connect to database: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternalError, "something went wrong")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "phone").WithContext("value", "abc")

	assert.Same(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "phone", err.Context["field"])
}

func TestAs_FindsWrappedAppError(t *testing.T) {
	inner := NewGatewayUnavailableError("check_exists", errors.New("dial tcp: refused"))
	outer := fmt.Errorf("resolve number: %w", inner)

	appErr, ok := As(outer)
	require.True(t, ok)
	assert.Equal(t, ErrCodeGatewayUnavailable, appErr.Code)
	assert.True(t, IsRetryable(outer))
	assert.True(t, HasCode(outer, ErrCodeGatewayUnavailable))
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"app error", New(ErrCodeInvalidPhone, "short"), ErrCodeInvalidPhone},
		{"wrapped app error", fmt.Errorf("ctx: %w", New(ErrCodeNotFound, "x")), ErrCodeNotFound},
		{"step failure keeps outer code", NewStepFailure("confirmation", New(ErrCodeGatewayUnavailable, "down")), ErrCodeStepFailure},
		{"plain error", errors.New("boom"), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetCode(tt.err))
		})
	}
}

func TestHasCode_Nil(t *testing.T) {
	assert.False(t, HasCode(nil, ErrCodeInternalError))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "Invalid phone number", GetUserMessage(NewInvalidPhoneError(5, 8)))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("raw")))
	assert.Equal(t, "An internal error occurred", GetUserMessage(New(ErrCodeInternalError, "no user msg")))
}
