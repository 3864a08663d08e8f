// Package middleware provides HTTP middleware components for the Veriflow API.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/veriflow-io/veriflow/internal/storage"
)

// publicEndpoints defines public endpoints that bypass authentication.
// These endpoints are accessible without API keys (e.g., K8s health probes,
// monitoring tools).
//
// Security note: Only health check endpoints should be in this map.
// Never add business logic endpoints to this bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// This should only be called during route setup for health check endpoints.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

type (
	// AuthError represents an authentication error with a specific type.
	AuthError struct {
		Type    error
		Message string
	}

	// keyContextKey is the context key for the authenticated key identity.
	keyContextKey struct{}

	// KeyContext carries the identity of an authenticated API client.
	KeyContext struct {
		KeyID    string
		Name     string
		AuthTime time.Time
	}
)

// Authentication error types for granular error handling.
var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for invalid API key format or not found.
	// Generic error prevents enumeration attacks.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type, enabling standard errors.Is() behavior.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// SetKeyContext stores the authenticated key identity in the request context.
func SetKeyContext(ctx context.Context, keyCtx KeyContext) context.Context {
	return context.WithValue(ctx, keyContextKey{}, keyCtx)
}

// GetKeyContext extracts the authenticated key identity, if any.
func GetKeyContext(ctx context.Context) (KeyContext, bool) {
	keyCtx, ok := ctx.Value(keyContextKey{}).(KeyContext)

	return keyCtx, ok
}

// extractAPIKey extracts the API key from request headers. It checks the
// configured header first (primary), then falls back to
// Authorization: Bearer (secondary).
//
// Security considerations:
// - Rejects keys containing newlines (header injection prevention)
// - Trims whitespace from keys
// - Case-sensitive "Bearer " prefix check.
func extractAPIKey(r *http.Request, headerName string) (string, bool) {
	if apiKey := r.Header.Get(headerName); apiKey != "" {
		return cleanAPIKey(apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return cleanAPIKey(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return "", false
}

// cleanAPIKey validates and cleans an API key value extracted from a header.
func cleanAPIKey(key string) (string, bool) {
	// Reject keys containing newlines (header injection prevention)
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// Timing attack prevention: perform a dummy bcrypt comparison so that requests
// rejected before the store lookup take as long as rejected lookups.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// authenticateRequest performs API key authentication and validation.
// Returns the authenticated API key or an AuthError. Unknown, inactive and
// expired keys all map to the same generic error to prevent enumeration.
func authenticateRequest(
	ctx context.Context,
	store storage.APIKeyStore,
	apiKey string,
	logger *slog.Logger,
) (*storage.APIKey, error) {
	parsedKey, err := storage.ParseAPIKey(apiKey)
	if err != nil {
		performDummyBcryptComparison()

		logger.Error("authentication failed: invalid key format",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(ctx)),
			slog.String("failure_type", "format_validation"),
		)

		return nil, &AuthError{
			Type:    ErrInvalidAPIKey,
			Message: "Invalid or missing API key",
		}
	}

	foundKey, exists := store.FindByKey(ctx, parsedKey)
	if !exists {
		performDummyBcryptComparison()

		logger.Error("authentication failed: key not found",
			slog.String("request_id", GetRequestID(ctx)),
			slog.String("failure_type", "key_not_found"),
		)

		return nil, &AuthError{
			Type:    ErrInvalidAPIKey,
			Message: "Invalid or missing API key",
		}
	}

	if !foundKey.Usable() {
		logger.Error("authentication failed: key not usable",
			slog.String("key_id", foundKey.ID),
			slog.String("request_id", GetRequestID(ctx)),
			slog.String("failure_type", "key_not_usable"),
		)

		return nil, &AuthError{
			Type:    ErrInvalidAPIKey,
			Message: "Invalid or missing API key",
		}
	}

	return foundKey, nil
}

// Authenticate creates an authentication middleware that validates API keys
// and enriches the request context with the client identity.
//
// The middleware:
//   - Extracts API keys from the configured header (primary) or
//     Authorization: Bearer (fallback)
//   - Validates API key format and authenticity
//   - Checks active status and expiration
//   - Enriches request context with KeyContext
//   - Returns RFC 7807 compliant error responses on failure.
func Authenticate(store storage.APIKeyStore, headerName string, logger *slog.Logger) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = "X-API-Key"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Public endpoints (health probes) bypass authentication
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			apiKey, found := extractAPIKey(r, headerName)
			if !found {
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrMissingAPIKey,
					Message: "Missing API key",
				})

				return
			}

			authenticated, err := authenticateRequest(r.Context(), store, apiKey, logger)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			keyCtx := KeyContext{
				KeyID:    authenticated.ID,
				Name:     authenticated.Name,
				AuthTime: time.Now(),
			}
			ctx := SetKeyContext(r.Context(), keyCtx)

			logger.Info("API key authenticated",
				slog.String("key_id", keyCtx.KeyID),
				slog.String("key", storage.MaskKey(apiKey)),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for
// authentication failures.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	requestID := GetRequestID(r.Context())

	// All authentication failures map to 401; there is no partially
	// authenticated state.
	statusCode := http.StatusUnauthorized

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("request_id", requestID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	detail := err.Error()
	if err := writeProblem(w, r, statusCode, detail, requestID); err != nil {
		logger.Error("failed to write response with RFC 7807 error format",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)

		// Fallback to plain text if writeProblem fails
		http.Error(w, detail, statusCode)
	}
}
