package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorFormat(t *testing.T) {
	appErr := NewAppError(ErrCodeValidationInvalidMetric, "invalid metric \"pressure\"", nil)
	assert.Equal(t, `validation_invalid_metric: invalid metric "pressure"`, appErr.Error())

	wrapped := NewAppError(ErrCodeInternalStore, "count query failed", errors.New("conn reset"))
	assert.Equal(t, "internal_store_error: count query failed: conn reset", wrapped.Error())
}

func TestAppError_ErrorsAsThroughWrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	appErr := NewAppError(ErrCodeInternalStore, "query failed", sentinel)
	wrapped := fmt.Errorf("evaluator: rule r1: %w", appErr)

	var target *AppError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ErrCodeInternalStore, target.Code)
	assert.True(t, errors.Is(wrapped, sentinel))
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidConditions, http.StatusBadRequest},
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeNotFoundRule, http.StatusNotFound},
		{ErrCodeInternalStore, http.StatusInternalServerError},
		{ErrCodeDeadlineExceeded, http.StatusGatewayTimeout},
		{ErrCodeNotifyFailed, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestNewStoreError_ClassifiesDeadline(t *testing.T) {
	err := NewStoreError("snapshot query failed", fmt.Errorf("pgx: %w", context.DeadlineExceeded))
	assert.Equal(t, ErrCodeDeadlineExceeded, err.Code)
	assert.True(t, IsDeadlineExceeded(err))
	assert.False(t, IsStoreError(err))

	err = NewStoreError("snapshot query failed", errors.New("connection refused"))
	assert.Equal(t, ErrCodeInternalStore, err.Code)
	assert.True(t, IsStoreError(err))
}

func TestClassifiers(t *testing.T) {
	v := fmt.Errorf("wrap: %w", NewValidationError(ErrCodeValidationInvalidDuration, "bad %q", "soon"))
	assert.True(t, IsValidation(v))
	assert.False(t, IsStoreError(v))
	assert.Equal(t, ErrCodeValidationInvalidDuration, ErrorCodeOf(v))

	assert.False(t, IsValidation(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), ErrorCodeOf(nil))
}

func TestAppError_WithDetailsDoesNotMutate(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeValidationInvalidRule, "bad rule", nil, map[string]any{"a": 1})
	merged := base.WithDetails(map[string]any{"b": 2})

	assert.Len(t, base.Details, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, merged.Details)
}
