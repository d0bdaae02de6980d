package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dvselas/protect-sync/internal/protect"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(echoRequestID)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/metrics", s.handleMetrics)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/{id}", s.handleGetDevice)
			})

			r.Get("/nvr", s.handleGetNVR)

			r.Get("/events/recent", s.handleRecentEvents)
		})
	})

	return r
}

// handleHealth returns the server health status with per-component
// detail. Degraded components do not fail the endpoint; orchestrators
// should alert on the payload, not the status code.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	devices, events := s.client.Status()
	stale := s.client.Stale()

	status := "ok"
	if stale || devices.State != protect.SubStateConnected || events.State != protect.SubStateConnected {
		status = "degraded"
	}

	components := map[string]any{
		"controller": map[string]any{
			"devices_subscription": devices.State,
			"events_subscription":  events.State,
			"stale":                stale,
		},
	}
	if s.bridge != nil {
		components["mqtt"] = map[string]any{
			"connected": s.bridge.Stats().Connected,
		}
	}
	if s.influx != nil {
		components["influxdb"] = map[string]any{
			"connected": s.influx.IsConnected(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
