// internal/app/features/activity/routes.go
package activity

import (
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()
	r.Use(sm.RequireSignedIn)
	r.Get("/", h.List)
	r.Delete("/", h.Clear)
	return r
}
