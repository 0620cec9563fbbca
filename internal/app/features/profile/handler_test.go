package profile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"github.com/dalemusser/selfmap/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(t *testing.T, env *testutil.Env, u testutil.TestUser) http.Handler {
	t.Helper()
	sm, err := auth.NewSessionManager("", "", "", time.Hour, false, zap.NewNop())
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Use(testutil.AsUser(u))
	r.Mount("/api/me", Routes(NewHandler(env.Users, sm, zap.NewNop()), sm))
	return r
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestShow_CreatesProfileOnFirstVisit(t *testing.T) {
	env := testutil.NewEnv(t)
	u := testutil.TestUser{ID: "u1", Name: "Ada", Email: " Ada@Example.COM "}

	rec := do(newRouter(t, env, u), httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p models.Profile
	testutil.DecodeJSON(t, rec, &p)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, "ada@example.com", p.Email)
}

func TestRename(t *testing.T) {
	env := testutil.NewEnv(t)
	u := testutil.Owner()
	h := newRouter(t, env, u)

	tests := []struct {
		in, want string
	}{
		{"  Grace  ", "Grace"},
		{"   ", models.DefaultUserName},
	}
	for _, tt := range tests {
		rec := do(h, testutil.JSONRequest(t, http.MethodPatch, "/api/me", map[string]string{"name": tt.in}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body map[string]string
		testutil.DecodeJSON(t, rec, &body)
		assert.Equal(t, tt.want, body["name"])
	}

	env.Drain(t)
	acts, err := env.Activity.Recent(context.Background(), u.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, acts)
	assert.Equal(t, models.ActivityRenameUser, acts[0].Type)
}

func TestDelete_RemovesProfileAndEndsSession(t *testing.T) {
	env := testutil.NewEnv(t)
	u := testutil.Owner()
	h := newRouter(t, env, u)
	m := env.CreateMap(t, u, "kept")

	require.Equal(t, http.StatusOK, do(h, httptest.NewRequest(http.MethodGet, "/api/me", nil)).Code)

	rec := do(h, httptest.NewRequest(http.MethodDelete, "/api/me", nil))
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)

	rec = do(h, httptest.NewRequest(http.MethodDelete, "/api/me?confirm=true", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Less(t, cookies[0].MaxAge, 0)

	_, err := env.Users.Get(context.Background(), u.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	// Maps are not cascaded.
	_, err = env.Maps.Get(context.Background(), m.ID)
	assert.NoError(t, err)
}
