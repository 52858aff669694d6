package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Repositories, clients, and handlers use these
// instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationDate         ErrorCode = "validation_invalid_date"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"

	// Not Found (404)
	ErrCodeNotFoundCultivar ErrorCode = "not_found_cultivar"
	ErrCodeNotFoundReading  ErrorCode = "not_found_reading"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStation     ErrorCode = "upstream_station_unavailable"
	ErrCodeUpstreamArchive     ErrorCode = "upstream_archive_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"

	// Data quality: unparseable or missing values skipped at the row level.
	ErrCodeDataQuality ErrorCode = "data_quality_skipped"

	// Model training (learned projection)
	ErrCodeModelNoTrainingData ErrorCode = "model_no_training_data"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case c == ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. All domain errors are
// expressed as AppError to enable consistent formatting, HTTP status
// mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
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

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
