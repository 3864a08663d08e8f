// Package api provides the HTTP API server for the Veriflow service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/veriflow-io/veriflow/internal/api/middleware"
	"github.com/veriflow-io/veriflow/internal/model"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for specification.
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"` //nolint: tagliatelle
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://veriflow.io/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	requestID := middleware.GetRequestID(r.Context())

	if problem.RequestID == "" {
		problem.RequestID = requestID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)

		// Fallback to basic error response
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// WriteDomainError maps a domain error onto its HTTP status and writes the
// RFC 7807 response: NotFound 404, Validation 422, Conflict 409,
// ConnectionFailure 502, everything else 500.
func WriteDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var problem *ProblemDetail

	switch {
	case errors.Is(err, model.ErrNotFound):
		problem = NewProblemDetail(http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, model.ErrValidation):
		problem = NewProblemDetail(http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, model.ErrConflict):
		problem = NewProblemDetail(http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, model.ErrConnectionFailure):
		problem = NewProblemDetail(http.StatusBadGateway, "Connection Failure", err.Error())
	default:
		logger.Error("unhandled internal error",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		problem = InternalServerError("An internal error occurred while processing the request")
	}

	WriteErrorResponse(w, r, logger, problem)
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusInternalServerError,
		"Internal Server Error",
		detail,
	)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusBadRequest,
		"Bad Request",
		detail,
	)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusNotFound,
		"Not Found",
		detail,
	)
}

// UnprocessableEntity creates a 422 Unprocessable Entity problem.
func UnprocessableEntity(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusUnprocessableEntity,
		"Validation Failed",
		detail,
	)
}
