package api

import (
	"context"
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
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	// Public endpoints
	r.Get("/health", s.handleHealth)
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	// Bearer-header routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware())

		r.Get("/me", s.handleMe)
		r.Get("/devices/{deviceId}/state/last", s.handleLatestState)
		r.Get("/devices/{deviceId}/state", s.handleStateRange)

		r.With(s.requireAdmin).Get("/admin/audit", s.handleListAudit)
	})

	// Live channels (token in query or header)
	r.Group(func(r chi.Router) {
		r.Use(s.streamAuthMiddleware())

		r.Get("/devices/{deviceId}/state/stream", s.handleStateStream)
		r.Get("/devices/{deviceId}/state/ws", s.handleStateWebSocket)
	})

	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	OK          bool `json:"ok"`
	VanillaAuth bool `json:"vanillaAuth"`
	SunTecReady bool `json:"sunTecReady"`
}

// handleHealth reports liveness and whether the telemetry source answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	ready := true
	if err := s.source.HealthCheck(ctx); err != nil {
		s.logger.Debug("telemetry source not ready", "error", err)
		ready = false
	}

	writeJSON(w, http.StatusOK, healthResponse{
		OK:          true,
		VanillaAuth: true,
		SunTecReady: ready,
	})
}
