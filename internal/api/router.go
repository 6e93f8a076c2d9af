package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 2 * time.Second

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates with a single-use ticket
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Viewers may read; writes need an operator token
			r.Group(func(r chi.Router) {
				r.Use(s.operatorMiddleware)

				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.handleListDevices)
					r.Post("/", s.handleConnectDevice)
					r.Get("/current", s.handleCurrentDevice)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetDevice)
						r.Delete("/", s.handleDisconnectDevice)
						r.Post("/reconnect", s.handleReconnect)
						r.Get("/info", s.handleDeviceInfo)
						r.Get("/xapi", s.handleXAPIGet)
						r.Put("/xapi", s.handleXAPISet)
						r.Post("/commands", s.handleCommand)
						r.Get("/bookings/today", s.handleTodaysBookings)
						r.Get("/bookings/current", s.handleCurrentBooking)
						r.Get("/events", s.handleDeviceEvents)
					})
				})

				r.Get("/bookings/today", s.handleTodaysBookings)
				r.Get("/bookings/current", s.handleCurrentBooking)

				r.Get("/events", s.handleListEvents)
			})
		})
	})

	return r
}

// handleHealth reports liveness plus each registered infrastructure check.
// Any failing check turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.version,
		"sessions": s.registry.Count(),
		"checks":   checks,
	})
}
