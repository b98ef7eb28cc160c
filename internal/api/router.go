package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Session lifecycle
		r.Post("/auth/connect", s.handleConnect)
		r.Post("/auth/renew", s.handleRenew)
		r.Post("/auth/disconnect", s.handleDisconnect)

		// Read-only state proxies (session token in Authorization header)
		r.Group(func(r chi.Router) {
			r.Use(s.sessionMiddleware)

			r.Get("/lights", s.handleListLights)
			r.Get("/motion", s.handleListMotionZones)
			r.Get("/rooms", s.handleListRooms)
		})

		// Operational visibility
		r.Get("/diagnostics/connections", s.handleDiagnostics)

		// WebSocket (auth via first socket message, validated by the
		// push service)
		r.Get("/ws", s.push.HandleSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
