// internal/app/features/maps/routes.go
package maps

import (
	"net/http"

	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for /api/maps. markers, when non-nil, is
// mounted at /{mapID}/markers.
func Routes(h *Handler, sm *auth.SessionManager, markers http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(sm.RequireSignedIn)

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{mapID}", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Patch("/", h.Rename)
		r.Delete("/", h.Delete)
		r.Post("/share", h.Share)
		if markers != nil {
			r.Mount("/markers", markers)
		}
	})
	return r
}
