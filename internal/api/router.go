package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// The three route groups map to the three calling surfaces: /client for
// the protected machine itself, /mobile for the owner's panic app, and
// /admin for fleet operators. Each surface authenticates differently.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// Client surface: the protected device
	r.Route("/client", func(r chi.Router) {
		// Registration happens before the device holds a token, so it
		// cannot be signed; pre-registration gating substitutes.
		r.Post("/register", s.handleClientRegister)

		r.Group(func(r chi.Router) {
			r.Use(s.deviceAuthMiddleware)
			r.Post("/AmIOk", s.handleHeartbeat)
			r.Get("/decrypt", s.handleDecrypt)
		})
	})

	// Mobile surface: the owner's panic app
	r.Route("/mobile", func(r chi.Router) {
		r.Use(s.emergencyAuthMiddleware)
		r.Get("/check", s.handleCheck)
		r.Post("/lock", s.handleLock)
		r.Post("/unlock", s.handleUnlock)
	})

	// Admin surface: fleet operations
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuthMiddleware)
		r.Post("/register", s.handleAdminRegister)
		r.Post("/unlock", s.handleAdminUnlock)
		r.Get("/devices", s.handleAdminDevices)
		r.Get("/audit", s.handleAdminAudit)
	})

	return r
}

// handleHealth returns the server health status, including the database
// when a health function was wired in.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			body["status"] = "degraded"
			body["database"] = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}

	writeJSON(w, http.StatusOK, body)
}
