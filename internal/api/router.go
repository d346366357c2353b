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

	r.Route("/api/v1", func(r chi.Router) {
		// Health and metrics (no auth required for basic monitoring)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Device streams authenticate with the shared device token,
		// validated in the handler.
		r.Get("/ws/device", s.handleDeviceWebSocket)

		// Client WebSocket authenticates via single-use ticket.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/online", s.handleOnlineDevices)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/status", s.handleDeviceStatus)
					r.Post("/commands", s.handleSubmitCommand)
					r.Delete("/commands", s.handleClearCommands)
				})
			})

			r.Post("/telemetry", s.handleIngestTelemetry)
			r.Get("/activity", s.handleListActivity)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	if s.influx != nil {
		checks["influxdb"] = healthString(s.influx.HealthCheck(r.Context()))
	}
	if s.mqtt != nil {
		checks["mqtt"] = healthString(s.mqtt.HealthCheck(r.Context()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"checks":  checks,
	})
}

func healthString(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
