package maps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"github.com/dalemusser/selfmap/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const baseURL = "https://selfmap.test/"

func newRouter(t *testing.T, env *testutil.Env, u testutil.TestUser) http.Handler {
	t.Helper()
	sm, err := auth.NewSessionManager("", "", "", time.Hour, false, zap.NewNop())
	require.NoError(t, err)
	h := NewHandler(env.Maps, env.Markers, baseURL, zap.NewNop())

	r := chi.NewRouter()
	r.Use(testutil.AsUser(u))
	r.Mount("/api/maps", Routes(h, sm, nil))
	return r
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndList(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.Owner()
	h := newRouter(t, env, owner)

	rec := do(h, testutil.JSONRequest(t, http.MethodPost, "/api/maps", map[string]string{"title": "  Trip <2024> & co "}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Map
	testutil.DecodeJSON(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, owner.ID, created.OwnerUID)
	assert.Equal(t, "Trip <2024> & co", created.Title)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/maps", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Maps []models.Map `json:"maps"`
	}
	testutil.DecodeJSON(t, rec, &body)
	require.Len(t, body.Maps, 1)
	assert.Equal(t, created.ID, body.Maps[0].ID)
}

func TestCreate_RejectsBadInput(t *testing.T) {
	env := testutil.NewEnv(t)
	h := newRouter(t, env, testutil.Owner())

	tests := []struct {
		name string
		body any
	}{
		{"blank title", map[string]string{"title": "   "}},
		{"unknown field", map[string]string{"name": "Trip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, testutil.JSONRequest(t, http.MethodPost, "/api/maps", tt.body))
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, "validation", testutil.ErrorCode(t, rec))
		})
	}
	assert.Zero(t, env.DS.Count(mapstore.Collection))
}

func TestRequiresSignIn(t *testing.T) {
	env := testutil.NewEnv(t)
	h := newRouter(t, env, testutil.TestUser{})

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/maps", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShow_SharedWithVisitor(t *testing.T) {
	env := testutil.NewEnv(t)
	owner, visitor := testutil.Owner(), testutil.Visitor()
	m := env.CreateMap(t, owner, "Trip")

	rec := do(newRouter(t, env, visitor), httptest.NewRequest(http.MethodGet, "/api/maps/"+m.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body mapResponse
	testutil.DecodeJSON(t, rec, &body)
	assert.Equal(t, m.ID, body.Map.ID)
	assert.False(t, body.Owner)
	assert.Equal(t, models.LatLng{Lat: 25.033, Lng: 121.5654}, body.Center)

	env.CreateMarker(t, visitor, m.ID, 35.68, 139.76)
	rec = do(newRouter(t, env, owner), httptest.NewRequest(http.MethodGet, "/api/maps/"+m.ID, nil))
	testutil.DecodeJSON(t, rec, &body)
	assert.True(t, body.Owner)
	assert.Equal(t, models.LatLng{Lat: 35.68, Lng: 139.76}, body.Center)
}

func TestShow_UnknownMap(t *testing.T) {
	env := testutil.NewEnv(t)
	rec := do(newRouter(t, env, testutil.Owner()), httptest.NewRequest(http.MethodGet, "/api/maps/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", testutil.ErrorCode(t, rec))
}

func TestRename_OwnerOnly(t *testing.T) {
	env := testutil.NewEnv(t)
	owner, visitor := testutil.Owner(), testutil.Visitor()
	m := env.CreateMap(t, owner, "Trip")

	rec := do(newRouter(t, env, visitor), testutil.JSONRequest(t, http.MethodPatch, "/api/maps/"+m.ID, map[string]string{"title": "Mine now"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(newRouter(t, env, owner), testutil.JSONRequest(t, http.MethodPatch, "/api/maps/"+m.ID, map[string]string{"title": "Kyoto"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var renamed models.Map
	testutil.DecodeJSON(t, rec, &renamed)
	assert.Equal(t, "Kyoto", renamed.Title)

	got, err := env.Maps.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kyoto", got.Title)
}

func TestDelete(t *testing.T) {
	env := testutil.NewEnv(t)
	owner, visitor := testutil.Owner(), testutil.Visitor()
	m := env.CreateMap(t, owner, "Trip")
	env.CreateMarker(t, owner, m.ID, 1, 1)
	env.CreateMarker(t, visitor, m.ID, 2, 2)
	path := "/api/maps/" + m.ID

	rec := do(newRouter(t, env, owner), httptest.NewRequest(http.MethodDelete, path, nil))
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Equal(t, "confirmation_required", testutil.ErrorCode(t, rec))

	rec = do(newRouter(t, env, visitor), httptest.NewRequest(http.MethodDelete, path+"?confirm=true", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 2, env.DS.Count(mapstore.MarkersCollection(m.ID)))

	rec = do(newRouter(t, env, owner), httptest.NewRequest(http.MethodDelete, path+"?confirm=true", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]int
	testutil.DecodeJSON(t, rec, &body)
	assert.Equal(t, 2, body["markersDeleted"])

	rec = do(newRouter(t, env, owner), httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShare(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.Owner()
	m := env.CreateMap(t, owner, "Trip")

	rec := do(newRouter(t, env, testutil.Visitor()), httptest.NewRequest(http.MethodPost, "/api/maps/"+m.ID+"/share", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	testutil.DecodeJSON(t, rec, &body)
	assert.Equal(t, "https://selfmap.test/map/"+m.ID, body["url"])

	rec = do(newRouter(t, env, owner), httptest.NewRequest(http.MethodPost, "/api/maps/missing/share", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
