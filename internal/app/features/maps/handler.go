// internal/app/features/maps/handler.go
package maps

import (
	"net/http"

	errorsfeature "github.com/dalemusser/selfmap/internal/app/features/errors"
	"github.com/dalemusser/selfmap/internal/app/features/shared/respond"
	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	markerstore "github.com/dalemusser/selfmap/internal/app/store/markers"
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves the map endpoints.
type Handler struct {
	Maps    *mapstore.Store
	Markers *markerstore.Store
	BaseURL string
	Log     *zap.Logger
}

// NewHandler constructs a maps Handler. baseURL is the origin used in share
// links.
func NewHandler(maps *mapstore.Store, markers *markerstore.Store, baseURL string, logger *zap.Logger) *Handler {
	return &Handler{Maps: maps, Markers: markers, BaseURL: baseURL, Log: logger}
}

type titleRequest struct {
	Title string `json:"title"`
}

type mapResponse struct {
	Map    models.Map    `json:"map"`
	Center models.LatLng `json:"center"`
	Owner  bool          `json:"owner"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	errorsfeature.Write(w, r, h.Log, err)
}

// List handles GET /api/maps: the caller's maps, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	list, err := h.Maps.ListByOwner(r.Context(), u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"maps": list})
}

// Create handles POST /api/maps.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	var req titleRequest
	if err := respond.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.Maps.Create(r.Context(), u.ID, req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, m)
}

// Show handles GET /api/maps/{mapID}. Any signed-in user may open a map
// through its share link.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	mapID := chi.URLParam(r, "mapID")
	m, err := h.Maps.Get(r.Context(), mapID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	markers, err := h.Markers.List(r.Context(), mapID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapResponse{
		Map:    m,
		Center: markerstore.DefaultCenter(markers),
		Owner:  m.OwnerUID == u.ID,
	})
}

// Rename handles PATCH /api/maps/{mapID}.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	var req titleRequest
	if err := respond.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.Maps.Rename(r.Context(), u.ID, chi.URLParam(r, "mapID"), req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

// Delete handles DELETE /api/maps/{mapID}?confirm=true.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := respond.Confirmed(r); err != nil {
		h.fail(w, r, err)
		return
	}
	u, _ := auth.CurrentUser(r)
	res, err := h.Maps.Delete(r.Context(), u.ID, chi.URLParam(r, "mapID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"markersDeleted": res.Deleted})
}

// Share handles POST /api/maps/{mapID}/share. The browser copies the URL;
// the server only builds it.
func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")
	if _, err := h.Maps.Get(r.Context(), mapID); err != nil {
		h.fail(w, r, err)
		return
	}
	url, err := h.Maps.Share(r.Context(), h.BaseURL, mapID, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"url": url})
}
