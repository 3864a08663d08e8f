// Package middleware provides HTTP middleware components for the Veriflow API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery creates a middleware that recovers from panics and logs them.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func(ctx context.Context) {
				if err := recover(); err != nil {
					requestID := GetRequestID(ctx)

					logger.Error("HTTP request panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", requestID),
						slog.Any("panic", err),
						slog.String("stack_trace", string(debug.Stack())),
					)

					detail := "An unexpected error occurred while processing the request"
					if err := writeProblem(w, r, http.StatusInternalServerError, detail, requestID); err != nil {
						logger.Error("Failed to encode error response",
							slog.Any("error", err),
							slog.String("request_id", requestID),
						)
					}
				}
			}(r.Context())

			next.ServeHTTP(w, r)
		})
	}
}
