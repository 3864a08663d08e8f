// Package api provides the HTTP API server for the Veriflow service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/veriflow-io/veriflow/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedURLParts   = 2

	serviceName    = "veriflow"
	serviceVersion = "v1.0.0"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string            `json:"status"`
		ServiceName string            `json:"serviceName"`
		Version     string            `json:"version"`
		Uptime      string            `json:"uptime,omitempty"`
		Backends    map[string]string `json:"backends,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string           // The URL path for this route (e.g., "GET /ping")
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // Deep health: DB + broker + uptime
		Route{"/", s.handleNotFound},         // Catch-all handler for 404 responses
	)

	// Connections
	mux.HandleFunc("POST /api/v1/connections", s.handleCreateConnection)
	mux.HandleFunc("GET /api/v1/connections", s.handleListConnections)
	mux.HandleFunc("GET /api/v1/connections/{id}", s.handleGetConnection)
	mux.HandleFunc("PUT /api/v1/connections/{id}", s.handleUpdateConnection)
	mux.HandleFunc("DELETE /api/v1/connections/{id}", s.handleDeleteConnection)
	mux.HandleFunc("POST /api/v1/connections/{id}/test", s.handleTestConnection)
	mux.HandleFunc("GET /api/v1/connections/{id}/schemas", s.handleListSchemas)
	mux.HandleFunc("GET /api/v1/connections/{id}/schemas/{schema}/tables", s.handleListTables)
	mux.HandleFunc("GET /api/v1/connections/{id}/schemas/{schema}/tables/{table}/columns", s.handleListColumns)

	// Checks. Literal segments (types, categories, ...) take precedence over
	// the {id} wildcard in Go 1.22 routing.
	mux.HandleFunc("POST /api/v1/checks", s.handleCreateCheck)
	mux.HandleFunc("GET /api/v1/checks", s.handleListChecks)
	mux.HandleFunc("GET /api/v1/checks/types", s.handleCheckTypes)
	mux.HandleFunc("GET /api/v1/checks/categories", s.handleCheckCategories)
	mux.HandleFunc("GET /api/v1/checks/modes", s.handleCheckModes)
	mux.HandleFunc("GET /api/v1/checks/time-scales", s.handleCheckTimeScales)
	mux.HandleFunc("GET /api/v1/checks/{id}", s.handleGetCheck)
	mux.HandleFunc("PATCH /api/v1/checks/{id}", s.handlePatchCheck)
	mux.HandleFunc("DELETE /api/v1/checks/{id}", s.handleDeleteCheck)
	mux.HandleFunc("POST /api/v1/checks/{id}/run", s.handleRunCheck)
	mux.HandleFunc("POST /api/v1/checks/{id}/preview", s.handlePreviewCheck)
	mux.HandleFunc("POST /api/v1/checks/batch/run", s.handleBatchRun)
	mux.HandleFunc("POST /api/v1/checks/validate/preview", s.handleValidatePreview)

	// Jobs
	mux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", s.handleCancelJob)

	// Results
	mux.HandleFunc("GET /api/v1/results", s.handleListResults)
	mux.HandleFunc("GET /api/v1/results/summary", s.handleResultsSummary)

	// Incidents
	mux.HandleFunc("GET /api/v1/incidents", s.handleListIncidents)
	mux.HandleFunc("GET /api/v1/incidents/{id}", s.handleGetIncident)
	mux.HandleFunc("PATCH /api/v1/incidents/{id}", s.handlePatchIncident)

	// Schedules
	mux.HandleFunc("POST /api/v1/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/v1/schedules", s.handleListSchedules)
	mux.HandleFunc("GET /api/v1/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PUT /api/v1/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/v1/schedules/{id}", s.handleDeleteSchedule)

	// Notification channels
	mux.HandleFunc("POST /api/v1/notifications/channels", s.handleCreateChannel)
	mux.HandleFunc("GET /api/v1/notifications/channels", s.handleListChannels)
	mux.HandleFunc("GET /api/v1/notifications/channels/{id}", s.handleGetChannel)
	mux.HandleFunc("PUT /api/v1/notifications/channels/{id}", s.handleUpdateChannel)
	mux.HandleFunc("DELETE /api/v1/notifications/channels/{id}", s.handleDeleteChannel)
	mux.HandleFunc("POST /api/v1/notifications/channels/{id}/test", s.handleTestChannel)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and
// rate limiting. Public routes should only be health check endpoints that must
// be reachable without credentials (K8s probes, monitoring tools).
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip method prefix for public endpoint bypass registration:
		// Go 1.22+ method-based routing uses "GET /path" format, but
		// r.URL.Path is just "/path".
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to Kubernetes readiness probes. It runs every
// registered backend health check with a short timeout; any failure returns
// 503 so traffic is routed away until the backend recovers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	for _, check := range s.deps.Health {
		if err := check.Check(ctx); err != nil {
			s.logger.Error("Readiness check failed",
				slog.String("backend", check.Name),
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)

			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)

			if _, writeErr := w.Write([]byte(check.Name + " unavailable")); writeErr != nil {
				s.logger.Error("Failed to write unavailable response",
					slog.String("request_id", requestID),
					slog.String("error", writeErr.Error()),
				)
			}

			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("ready")); err != nil {
		s.logger.Error("Failed to write ready response",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth returns detailed health status: service uptime plus the state
// of every registered backend. 200 when all backends are reachable, 503
// otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	backends := make(map[string]string, len(s.deps.Health))
	healthy := true

	for _, check := range s.deps.Health {
		if err := check.Check(ctx); err != nil {
			backends[check.Name] = "unreachable: " + err.Error()
			healthy = false
		} else {
			backends[check.Name] = "ok"
		}
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      uptime,
		Backends:    backends,
	}

	status := http.StatusOK
	if !healthy {
		health.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, r, status, health)
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}
