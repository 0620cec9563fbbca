// internal/app/features/session/handler.go
package session

import (
	"net/http"

	errorsfeature "github.com/dalemusser/selfmap/internal/app/features/errors"
	"github.com/dalemusser/selfmap/internal/app/features/shared/respond"
	userstore "github.com/dalemusser/selfmap/internal/app/store/users"
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"go.uber.org/zap"
)

// Handler exchanges a provider ID token for a cookie session.
type Handler struct {
	Users      *userstore.Store
	SessionMgr *auth.SessionManager
	Log        *zap.Logger
}

func NewHandler(users *userstore.Store, sm *auth.SessionManager, logger *zap.Logger) *Handler {
	return &Handler{Users: users, SessionMgr: sm, Log: logger}
}

type signInRequest struct {
	IDToken string `json:"idToken"`
}

// SignIn handles POST /session {"idToken": "..."}.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	v := h.SessionMgr.Verifier()
	if v == nil {
		errorsfeature.WriteCode(w, http.StatusServiceUnavailable, "unavailable", "token sign-in is not configured")
		return
	}
	var req signInRequest
	if err := respond.Decode(r, &req); err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	u, err := v.Verify(req.IDToken)
	if err != nil {
		h.Log.Info("sign-in rejected", zap.Error(err))
		errorsfeature.WriteCode(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	p, err := h.Users.Ensure(r.Context(), u.ID, u.Name, u.Email)
	if err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	u.Name = p.DisplayName()
	if err := h.SessionMgr.SignIn(w, r, u); err != nil {
		h.Log.Error("session save failed", zap.String("user_id", u.ID), zap.Error(err))
		errorsfeature.WriteCode(w, http.StatusInternalServerError, "internal", "could not start session")
		return
	}
	h.Log.Info("signed in", zap.String("user_id", u.ID))
	respond.JSON(w, http.StatusOK, p)
}

// SignOut handles DELETE /session.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.SessionMgr.SignOut(w, r); err != nil {
		h.Log.Error("sign-out: save session", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}
