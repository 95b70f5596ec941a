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
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Read-only views (no auth required on the local network)
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/stats", s.handleDeviceStats)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Get("/entities", s.handleListEntities)
		r.Get("/entities/{entity_id}", s.handleGetEntity)

		// WebSocket (ticket validated in handler when auth is enabled)
		r.Get("/ws", s.handleWebSocket)

		// Mutating routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Post("/devices", s.handleCreateDevice)
			r.Delete("/devices/{id}", s.handleDeleteDevice)
			r.Post("/devices/{id}/refresh", s.handleRefreshDevice)

			r.Post("/services/{service}", s.handleCallService)

			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
//
// Status is "ok" when every dependency answers, "degraded" when the
// database fails, MQTT is disconnected, or any device missed its last poll.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	managed, available := s.manager.DeviceCounts()
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": map[string]int{
			"managed":   managed,
			"available": available,
		},
		"websocket_clients": s.hub.ClientCount(),
	}

	degraded := available < managed
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			resp["database"] = err.Error()
			degraded = true
		} else {
			resp["database"] = "ok"
		}
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp["mqtt_connected"] = connected
		degraded = degraded || !connected
	}
	if degraded {
		resp["status"] = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}
