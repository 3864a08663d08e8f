// Package middleware provides HTTP middleware components for the Veriflow API.
package middleware

import "net/http"

// SecurityHeaders creates a middleware that sets standard security response
// headers on every response. The API serves JSON only, so framing and caching
// are disabled outright.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}
