// Package api implements the read-only query API over the telemetry store.
// It serves the reading record, cultivar thresholds and predictions, the
// reference tables, and the pipeline run history.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"vinewatch/internal/types"
)

// APIResponse is the envelope for successful responses.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse is the envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the structured error information returned to clients.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON writes data wrapped in the standard envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Data: data})
}

// Error writes a structured error response. An *types.AppError in the chain
// determines the status code and client-visible detail; anything else becomes
// an opaque 500 so internal errors never leak.
func Error(w http.ResponseWriter, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(appErr.HTTPStatus())
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:    string(appErr.Code),
				Message: appErr.Message,
				Details: appErr.Details,
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(APIErrorResponse{
		Error: ErrorDetail{
			Code:    string(types.ErrCodeInternalUnexpected),
			Message: "an unexpected error occurred",
		},
	})
}
