package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the inbound endpoint on the router. The rate
// limiter is optional; pass nil to disable it.
func RegisterRoutes(r chi.Router, handler *Handler, rateLimiter func(next http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if rateLimiter != nil {
			r.Use(rateLimiter)
		}
		// POST /inbound - inbound email submission from the mail-parse provider
		r.Post("/inbound", handler.Inbound)
	})
}
