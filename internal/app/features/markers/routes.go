// internal/app/features/markers/routes.go
package markers

import (
	"github.com/go-chi/chi/v5"
)

// Routes returns the marker router. It is mounted below /api/maps/{mapID}
// and relies on that router's sign-in requirement.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/", h.Clear)
	r.Route("/{markerID}", func(r chi.Router) {
		r.Patch("/", h.UpdateMeta)
		r.Delete("/", h.Delete)
		r.Put("/note", h.UpdateNote)
		r.Post("/comments", h.Comment)
	})
	return r
}
