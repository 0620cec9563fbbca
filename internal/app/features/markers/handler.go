// internal/app/features/markers/handler.go
package markers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	errorsfeature "github.com/dalemusser/selfmap/internal/app/features/errors"
	"github.com/dalemusser/selfmap/internal/app/features/shared/respond"
	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	markerstore "github.com/dalemusser/selfmap/internal/app/store/markers"
	userstore "github.com/dalemusser/selfmap/internal/app/store/users"
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/dalemusser/selfmap/internal/app/system/geoloc"
	"github.com/dalemusser/selfmap/internal/app/system/limits"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves /api/maps/{mapID}/markers.
type Handler struct {
	Maps    *mapstore.Store
	Markers *markerstore.Store
	Users   *userstore.Store
	Log     *zap.Logger
}

func NewHandler(maps *mapstore.Store, markers *markerstore.Store, users *userstore.Store, logger *zap.Logger) *Handler {
	return &Handler{Maps: maps, Markers: markers, Users: users, Log: logger}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	errorsfeature.Write(w, r, h.Log, err)
}

func redactAll(ms []models.Marker, viewer string) []models.Marker {
	out := make([]models.Marker, len(ms))
	for i, m := range ms {
		out[i] = m.Redacted(viewer)
	}
	return out
}

// List handles GET: markers oldest first, notes redacted for non-creators.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	mapID := chi.URLParam(r, "mapID")
	if _, err := h.Maps.Get(r.Context(), mapID); err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.Markers.List(r.Context(), mapID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"markers": redactAll(list, u.ID),
		"center":  markerstore.DefaultCenter(list),
	})
}

// Create handles POST with a multipart body: lat, lng and photo.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	mapID := chi.URLParam(r, "mapID")

	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxPhotoUpload)
	if err := r.ParseMultipartForm(limits.MaxPhotoUpload); err != nil {
		h.fail(w, r, apperr.Validation("expected a multipart upload with lat, lng and photo"))
		return
	}
	photo, err := readPhoto(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.Maps.Get(r.Context(), mapID); err != nil {
		h.fail(w, r, err)
		return
	}

	m, err := h.Markers.Create(r.Context(), u.ID, mapID, geoloc.FromRequest(r), photo)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, m.Redacted(u.ID))
}

func readPhoto(r *http.Request) ([]byte, error) {
	f, _, err := r.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, apperr.Validation("photo is required")
	}
	if err != nil {
		return nil, apperr.Validation("unreadable photo: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrDecode, err)
	}
	return data, nil
}

// Clear handles DELETE ?confirm=true: removes every marker of the map.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := respond.Confirmed(r); err != nil {
		h.fail(w, r, err)
		return
	}
	u, _ := auth.CurrentUser(r)
	res, err := h.Markers.ClearAll(r.Context(), u.ID, chi.URLParam(r, "mapID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"deleted": res.Deleted, "batches": res.Commits})
}

type metaRequest struct {
	Title   string `json:"title"`
	Address string `json:"address"`
}

// UpdateMeta handles PATCH /{markerID}.
func (h *Handler) UpdateMeta(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	var req metaRequest
	if err := respond.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	mapID, markerID := chi.URLParam(r, "mapID"), chi.URLParam(r, "markerID")
	if err := h.Markers.UpdateMeta(r.Context(), u.ID, mapID, markerID, req.Title, req.Address); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeMarker(w, r, u.ID, mapID, markerID)
}

type noteRequest struct {
	Note string `json:"note"`
}

// UpdateNote handles PUT /{markerID}/note.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	var req noteRequest
	if err := respond.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	mapID, markerID := chi.URLParam(r, "mapID"), chi.URLParam(r, "markerID")
	if err := h.Markers.UpdateNote(r.Context(), u.ID, mapID, markerID, req.Note); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeMarker(w, r, u.ID, mapID, markerID)
}

type commentRequest struct {
	Text string `json:"text"`
}

// Comment handles POST /{markerID}/comments. The caller's earlier comment,
// if any, is replaced.
func (h *Handler) Comment(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	var req commentRequest
	if err := respond.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	comments, err := h.Markers.AddOrReplaceComment(r.Context(),
		chi.URLParam(r, "mapID"), chi.URLParam(r, "markerID"),
		u.ID, h.authorName(r, u), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// authorName prefers the stored profile name, which the user may have
// changed since signing in.
func (h *Handler) authorName(r *http.Request, u *auth.SessionUser) string {
	if h.Users != nil {
		if p, err := h.Users.Get(r.Context(), u.ID); err == nil {
			return p.DisplayName()
		}
	}
	return u.Name
}

// Delete handles DELETE /{markerID}?confirm=true.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := respond.Confirmed(r); err != nil {
		h.fail(w, r, err)
		return
	}
	u, _ := auth.CurrentUser(r)
	if err := h.Markers.Delete(r.Context(), u.ID, chi.URLParam(r, "mapID"), chi.URLParam(r, "markerID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeMarker(w http.ResponseWriter, r *http.Request, viewer, mapID, markerID string) {
	m, err := h.Markers.Get(r.Context(), mapID, markerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, m.Redacted(viewer))
}
