package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validConfig() AppConfig {
	return AppConfig{
		StoreBackend:     BackendMemory,
		MongoURI:         "mongodb://localhost:27017",
		MongoDatabase:    "selfmap",
		PollInterval:     time.Second,
		SessionKey:       strings.Repeat("k", 32),
		SessionMaxAge:    time.Hour,
		AuthTokenSecret:  "secret",
		BaseURL:          "https://selfmap.test",
		GeocodeBaseURL:   "http://127.0.0.1:1",
		GeocodeUserAgent: "selfmap-test",
		ImageMaxWidth:    1024,
		ImageMaxHeight:   1024,
		ImageQuality:     70,
		ActivityLog:      "all",
		SweepInterval:    time.Minute,
	}
}

func TestValidateConfig(t *testing.T) {
	core := &config.CoreConfig{Env: "dev"}

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{name: "memory ok", mutate: func(*AppConfig) {}},
		{name: "mongo ok", mutate: func(c *AppConfig) { c.StoreBackend = BackendMongo }},
		{name: "firestore ok", mutate: func(c *AppConfig) {
			c.StoreBackend = BackendFirestore
			c.FirestoreProject = "demo"
		}},
		{name: "unknown backend", mutate: func(c *AppConfig) { c.StoreBackend = "sqlite" }, wantErr: "unknown store_backend"},
		{name: "bad mongo uri", mutate: func(c *AppConfig) {
			c.StoreBackend = BackendMongo
			c.MongoURI = ""
		}, wantErr: "invalid MongoDB URI"},
		{name: "firestore without project", mutate: func(c *AppConfig) { c.StoreBackend = BackendFirestore }, wantErr: "firestore_project"},
		{name: "quality zero", mutate: func(c *AppConfig) { c.ImageQuality = 0 }, wantErr: "image_quality"},
		{name: "quality too high", mutate: func(c *AppConfig) { c.ImageQuality = 101 }, wantErr: "image_quality"},
		{name: "zero width", mutate: func(c *AppConfig) { c.ImageMaxWidth = 0 }, wantErr: "image bounds"},
		{name: "negative height", mutate: func(c *AppConfig) { c.ImageMaxHeight = -1 }, wantErr: "image bounds"},
		{name: "unknown activity mode", mutate: func(c *AppConfig) { c.ActivityLog = "verbose" }, wantErr: "activity_log"},
		{name: "negative rps", mutate: func(c *AppConfig) { c.GeocodeRPS = -1 }, wantErr: "geocode_rps"},
		{name: "negative timeout", mutate: func(c *AppConfig) { c.Timeouts.Batch = -time.Second }, wantErr: "timeout_batch"},
		{name: "zero sweep interval", mutate: func(c *AppConfig) { c.SweepInterval = 0 }, wantErr: "sweep_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(core, cfg, zap.NewNop())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// startMemory runs the lifecycle against the memory backend.
func startMemory(t *testing.T) (http.Handler, AppConfig) {
	t.Helper()
	ctx := context.Background()
	core := &config.CoreConfig{Env: "dev"}
	cfg := validConfig()
	logger := zap.NewNop()

	deps, err := ConnectDB(ctx, core, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(ctx, core, cfg, deps, logger))
	require.NoError(t, Startup(ctx, core, cfg, deps, logger))
	t.Cleanup(func() {
		assert.NoError(t, Shutdown(context.Background(), core, cfg, deps, logger))
	})

	h, err := BuildHandler(core, cfg, deps, logger)
	require.NoError(t, err)
	return h, cfg
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuildHandler_Probes(t *testing.T) {
	h, _ := startMemory(t)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "selfmap_subscriptions_active")
}

func TestBuildHandler_JSONErrors(t *testing.T) {
	h, _ := startMemory(t)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_found"`)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/maps", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unauthorized"`)
}

func TestBuildHandler_BearerTokenReachesAPI(t *testing.T) {
	h, cfg := startMemory(t)

	v, err := auth.NewTokenVerifier(cfg.AuthTokenSecret, cfg.AuthTokenIssuer)
	require.NoError(t, err)
	token, err := v.Sign(auth.SessionUser{ID: "u1", Name: "Ada", Email: "ada@test.com"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/maps", strings.NewReader(`{"title":"Trip"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := serve(h, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/maps", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Trip"`)
}
