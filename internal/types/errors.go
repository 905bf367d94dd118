package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. The prefix determines the error class and HTTP status.
const (
	// Validation (400). Malformed rule or condition shape; aborts only the
	// affected rule.
	ErrCodeValidationInvalidConditions ErrorCode = "validation_invalid_conditions"
	ErrCodeValidationInvalidRule       ErrorCode = "validation_invalid_rule"
	ErrCodeValidationInvalidMetric     ErrorCode = "validation_invalid_metric"
	ErrCodeValidationInvalidDuration   ErrorCode = "validation_invalid_duration"
	ErrCodeValidationInvalidDayToken   ErrorCode = "validation_invalid_day_token"
	ErrCodeValidationMissingField      ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidRequest    ErrorCode = "validation_invalid_request"
	ErrCodeValidationInvalidJSON       ErrorCode = "validation_invalid_json"

	// Not Found (404)
	ErrCodeNotFoundRule  ErrorCode = "not_found_rule"
	ErrCodeNotFoundRoute ErrorCode = "not_found_route"

	// Store (500). Query or connection failure; aborts the farm's pass.
	ErrCodeInternalStore      ErrorCode = "internal_store_error"
	ErrCodeInternalCatalog    ErrorCode = "internal_catalog_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"

	// Deadline (504)
	ErrCodeDeadlineExceeded ErrorCode = "deadline_exceeded"

	// Notification (502). Logged and swallowed by the dispatcher.
	ErrCodeNotifyFailed ErrorCode = "notify_failed"

	// Upstream weather providers (502)
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamBadPayload  ErrorCode = "upstream_bad_payload"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case c == ErrCodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case c == ErrCodeNotifyFailed, strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. All domain errors are
// expressed as AppError so callers can classify them with errors.As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// NewValidationError builds a validation-class AppError with a formatted message.
func NewValidationError(code ErrorCode, format string, args ...any) *AppError {
	return NewAppError(code, fmt.Sprintf(format, args...), nil)
}

// NewStoreError classifies a store failure. Context deadline and cancellation
// errors become deadline_exceeded so callers can tell timeouts apart from
// broken connections.
func NewStoreError(message string, err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(ErrCodeDeadlineExceeded, message, err)
	}
	return NewAppError(ErrCodeInternalStore, message, err)
}

// ErrorCodeOf returns the code of the first AppError in err's chain, or ""
// if there is none.
func ErrorCodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsValidation reports whether err is a validation-class AppError.
func IsValidation(err error) bool {
	return strings.HasPrefix(string(ErrorCodeOf(err)), "validation_")
}

// IsStoreError reports whether err is a store failure.
func IsStoreError(err error) bool {
	return ErrorCodeOf(err) == ErrCodeInternalStore
}

// IsDeadlineExceeded reports whether err represents an exceeded deadline,
// either as a classified AppError or a bare context error.
func IsDeadlineExceeded(err error) bool {
	return ErrorCodeOf(err) == ErrCodeDeadlineExceeded || errors.Is(err, context.DeadlineExceeded)
}
