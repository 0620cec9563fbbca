// internal/app/features/activity/handler.go
package activity

import (
	"net/http"
	"strconv"

	errorsfeature "github.com/dalemusser/selfmap/internal/app/features/errors"
	"github.com/dalemusser/selfmap/internal/app/features/shared/respond"
	activitystore "github.com/dalemusser/selfmap/internal/app/store/activity"
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"go.uber.org/zap"
)

// Handler serves the caller's activity history.
type Handler struct {
	Activity *activitystore.Store
	Log      *zap.Logger
}

func NewHandler(store *activitystore.Store, logger *zap.Logger) *Handler {
	return &Handler{Activity: store, Log: logger}
}

// List handles GET /api/activities?limit=N (at most RecentLimit).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > activitystore.RecentLimit {
		limit = activitystore.RecentLimit
	}
	list, err := h.Activity.Recent(r.Context(), u.ID, limit)
	if err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"activities": list})
}

// Clear handles DELETE /api/activities?confirm=true.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := respond.Confirmed(r); err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	u, _ := auth.CurrentUser(r)
	res, err := h.Activity.Clear(r.Context(), u.ID)
	if err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"deleted": res.Deleted})
}
