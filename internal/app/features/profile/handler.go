// internal/app/features/profile/handler.go
package profile

import (
	"net/http"

	errorsfeature "github.com/dalemusser/selfmap/internal/app/features/errors"
	"github.com/dalemusser/selfmap/internal/app/features/shared/respond"
	userstore "github.com/dalemusser/selfmap/internal/app/store/users"
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"go.uber.org/zap"
)

// Handler serves /api/me.
type Handler struct {
	Users      *userstore.Store
	SessionMgr *auth.SessionManager
	Log        *zap.Logger
}

func NewHandler(users *userstore.Store, sm *auth.SessionManager, logger *zap.Logger) *Handler {
	return &Handler{Users: users, SessionMgr: sm, Log: logger}
}

// Show handles GET /api/me, creating the profile on first use.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	p, err := h.Users.Ensure(r.Context(), u.ID, u.Name, u.Email)
	if err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, p)
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename handles PATCH /api/me. A blank name stores the default.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	var req renameRequest
	if err := respond.Decode(r, &req); err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	if _, err := h.Users.Ensure(r.Context(), u.ID, u.Name, u.Email); err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	name, err := h.Users.Rename(r.Context(), u.ID, req.Name)
	if err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"name": name})
}

// Delete handles DELETE /api/me?confirm=true. The profile is removed and
// the session ends; maps the user owned are kept.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := respond.Confirmed(r); err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	u, _ := auth.CurrentUser(r)
	if err := h.Users.Delete(r.Context(), u.ID); err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	if err := h.SessionMgr.SignOut(w, r); err != nil {
		h.Log.Warn("sign-out after account delete failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	h.Log.Info("profile deleted", zap.String("user_id", u.ID))
	w.WriteHeader(http.StatusNoContent)
}
