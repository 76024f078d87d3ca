// internal/handlers/routes.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/mafia/internal/middleware"
)

// Routes mounts every endpoint. metrics may be nil; limiter may be nil to
// disable REST rate limiting.
func (s *Server) Routes(metrics http.Handler, limiter *middleware.IPRateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": s.hub.Len()})
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	// the socket is long-lived; the REST limiter does not apply to it
	r.Get("/ws", s.RoomWSHandler())

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(middleware.RateLimit(limiter))
		}
		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", s.CreateRoomHandler)
			r.Get("/", s.ListRoomsHandler)
			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", s.GetRoomHandler)
				r.Get("/logs", s.LogsHandler)
				r.Get("/periodData", s.PeriodsHandler)
				r.Patch("/{action}", s.RoomActionHandler)
			})
		})
		r.Put("/profile/pushToken", s.PushTokenHandler)
	})
	return r
}
