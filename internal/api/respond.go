package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/veriflow-io/veriflow/internal/api/middleware"
)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		// Headers are already sent; log only.
		s.logger.Error("Failed to write response",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// decodeJSON reads a JSON request body into dst, enforcing the configured
// request size limit and a JSON content type. A false return means an error
// response has already been written.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger,
			BadRequest("Content-Type must be application/json"))

		return false
	}

	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, NewProblemDetail(
				http.StatusRequestEntityTooLarge,
				"Request Entity Too Large",
				fmt.Sprintf("Request body exceeds %d bytes", s.config.MaxRequestSize),
			))

			return false
		}

		WriteErrorResponse(w, r, s.logger,
			BadRequest("Invalid JSON request body: "+err.Error()))

		return false
	}

	// A request body carries exactly one JSON document.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		WriteErrorResponse(w, r, s.logger,
			BadRequest("Request body must contain a single JSON object"))

		return false
	}

	return true
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}

	return value
}

// queryBool parses an optional boolean query parameter. Nil means absent.
func queryBool(r *http.Request, name string) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}

	return &value
}

// queryTime parses an optional RFC 3339 or date-only query parameter.
func queryTime(r *http.Request, name string) *time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return &parsed
		}
	}

	return nil
}
