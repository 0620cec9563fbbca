package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session keys                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	DefaultSessionName = "selfmap-session"

	isAuthKey = "is_authenticated"
	userIDKey = "user_id"
	userName  = "user_name"
	userEmail = "user_email"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Current-User helper                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionUser is the acting user injected into r.Context(). Repositories
// receive it explicitly; nothing reads it from a global.
type SessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// CurrentUser returns the user and whether one is signed in.
func CurrentUser(r *http.Request) (*SessionUser, bool) {
	return FromContext(r.Context())
}

// FromContext returns the user stored by WithUser.
func FromContext(ctx context.Context) (*SessionUser, bool) {
	u, ok := ctx.Value(currentUserKey).(*SessionUser)
	return u, ok && u != nil
}

// WithUser returns ctx carrying u.
func WithUser(ctx context.Context, u *SessionUser) context.Context {
	return context.WithValue(ctx, currentUserKey, u)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Session manager                                                            |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionManager owns the cookie store and, optionally, the verifier for
// provider-issued bearer tokens.
type SessionManager struct {
	store    *sessions.CookieStore
	name     string
	verifier *TokenVerifier
	log      *zap.Logger
}

// NewSessionManager builds a cookie session store. An empty key is replaced
// with a random one, which invalidates sessions on restart; that is only
// acceptable in development and is logged.
//
// secure=true marks cookies Secure with SameSite=None; use false for
// http://localhost.
func NewSessionManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, logger *zap.Logger) (*SessionManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := []byte(sessionKey)
	switch {
	case sessionKey == "":
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, errors.New("session key is empty and no random key could be generated")
		}
		logger.Warn("session key not configured; using an ephemeral random key")
	case len(sessionKey) < 32:
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}
	if name == "" {
		name = DefaultSessionName
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		store.Options.SameSite = http.SameSiteNoneMode
	}

	logger.Info("session store initialized",
		zap.String("name", name),
		zap.Bool("secure", secure),
		zap.String("domain", domain))

	return &SessionManager{store: store, name: name, log: logger}, nil
}

// SetVerifier enables bearer-token authentication.
func (sm *SessionManager) SetVerifier(v *TokenVerifier) {
	sm.verifier = v
}

// Verifier returns the token verifier, or nil.
func (sm *SessionManager) Verifier() *TokenVerifier {
	return sm.verifier
}

// SignIn stores u in the session cookie.
func (sm *SessionManager) SignIn(w http.ResponseWriter, r *http.Request, u SessionUser) error {
	sess, _ := sm.store.Get(r, sm.name)
	sess.Values[isAuthKey] = true
	sess.Values[userIDKey] = u.ID
	sess.Values[userName] = u.Name
	sess.Values[userEmail] = u.Email
	return sess.Save(r, w)
}

// SignOut expires the session cookie.
func (sm *SessionManager) SignOut(w http.ResponseWriter, r *http.Request) error {
	sess, _ := sm.store.Get(r, sm.name)
	sess.Values = map[any]any{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// LoadSessionUser injects the signed-in user into the request context. The
// session cookie is checked first, then an "Authorization: Bearer" header
// and finally an access_token query parameter (browsers cannot set headers
// on WebSocket upgrades).
func (sm *SessionManager) LoadSessionUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := sm.userFromSession(r); u != nil {
			r = r.WithContext(WithUser(r.Context(), u))
		} else if u := sm.userFromToken(r); u != nil {
			r = r.WithContext(WithUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}

func (sm *SessionManager) userFromSession(r *http.Request) *SessionUser {
	sess, err := sm.store.Get(r, sm.name)
	if err != nil {
		return nil
	}
	if isAuth, _ := sess.Values[isAuthKey].(bool); !isAuth {
		return nil
	}
	u := &SessionUser{
		ID:    getString(sess, userIDKey),
		Name:  getString(sess, userName),
		Email: getString(sess, userEmail),
	}
	if u.ID == "" {
		return nil
	}
	return u
}

func (sm *SessionManager) userFromToken(r *http.Request) *SessionUser {
	if sm.verifier == nil {
		return nil
	}
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	} else {
		raw = r.URL.Query().Get("access_token")
	}
	if raw == "" {
		return nil
	}
	u, err := sm.verifier.Verify(raw)
	if err != nil {
		sm.log.Debug("bearer token rejected", zap.Error(err))
		return nil
	}
	return &u
}

// RequireSignedIn answers 401 with a JSON error body when no user is
// present.
func (sm *SessionManager) RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "unauthorized", "message": "sign in required"},
		})
	})
}

// getString safely extracts a string from a session value.
func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

// String renders the user for logs.
func (u SessionUser) String() string {
	return fmt.Sprintf("%s <%s>", u.ID, u.Email)
}
