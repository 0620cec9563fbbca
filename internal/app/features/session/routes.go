// internal/app/features/session/routes.go
package session

import (
	"github.com/dalemusser/selfmap/internal/app/system/ratelimit"
	"github.com/go-chi/chi/v5"
)

// Routes returns the /session router. Sign-in attempts are limited per
// client IP when limiter is non-nil.
func Routes(h *Handler, limiter *ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(ratelimit.Middleware(limiter, ratelimit.ClientIP))
		}
		r.Post("/", h.SignIn)
	})
	r.Delete("/", h.SignOut)
	return r
}
