// internal/app/features/live/routes.go
package live

import (
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the /live router. Browsers cannot set headers on a
// WebSocket handshake, so authentication comes from the session cookie or
// an access_token query parameter (see auth.SessionManager).
func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()
	r.Use(sm.RequireSignedIn)
	r.Get("/maps", h.MapList)
	r.Get("/maps/{mapID}", h.MapMarkers)
	r.Get("/activities", h.Activities)
	return r
}
