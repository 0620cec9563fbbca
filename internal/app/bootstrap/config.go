// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dalemusser/selfmap/internal/app/system/activitylog"
	"github.com/dalemusser/selfmap/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for selfmap.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, store_backend, etc.
//   - Environment variables: SELFMAP_MONGO_URI, SELFMAP_STORE_BACKEND, etc.
//   - Command-line flags: --mongo_uri, --store_backend, etc.
var appConfigKeys = []config.AppKey{
	{Name: "store_backend", Default: BackendMongo, Desc: "Document store: 'mongo', 'firestore' or 'memory'"},
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "selfmap", Desc: "MongoDB database name"},
	{Name: "firestore_project", Default: "", Desc: "Google Cloud project id (firestore backend)"},
	{Name: "poll_interval", Default: "2s", Desc: "Subscription poll period when change streams are unavailable"},

	// Live change fan-out
	{Name: "redis_addr", Default: "", Desc: "Redis address for cross-instance change fan-out (blank disables)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},

	// Sessions
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "selfmap-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie lifetime"},

	// Identity provider tokens
	{Name: "auth_token_secret", Default: "", Desc: "HMAC secret for provider ID tokens (blank disables sign-in)"},
	{Name: "auth_token_issuer", Default: "", Desc: "Expected token issuer (blank skips the check)"},

	{Name: "base_url", Default: "http://localhost:3000", Desc: "Origin used for share links"},

	// Reverse geocoding
	{Name: "geocode_base_url", Default: "https://nominatim.openstreetmap.org", Desc: "Reverse geocoder base URL"},
	{Name: "geocode_user_agent", Default: "selfmap/1.0", Desc: "User-Agent sent to the geocoder"},
	{Name: "geocode_rps", Default: "1", Desc: "Geocoder request ceiling per second (0 = unlimited)"},

	// Photos
	{Name: "image_max_width", Default: 1024, Desc: "Maximum stored photo width"},
	{Name: "image_max_height", Default: 1024, Desc: "Maximum stored photo height"},
	{Name: "image_quality", Default: 70, Desc: "JPEG quality 1..100"},

	{Name: "activity_log", Default: "all", Desc: "Activity history: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "sweep_interval", Default: "1m", Desc: "Period of the interrupted-delete sweeper"},

	// Operation timeouts (0 keeps the built-in default)
	{Name: "timeout_short", Default: "0s", Desc: "Single-document operations"},
	{Name: "timeout_medium", Default: "0s", Desc: "List queries and reverse geocoding"},
	{Name: "timeout_long", Default: "0s", Desc: "Map deletion"},
	{Name: "timeout_batch", Default: "0s", Desc: "Chunked batch deletes"},
	{Name: "timeout_geolocation", Default: "0s", Desc: "Waiting for a position fix"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig reads .env and config files,
// environment variables (WAFFLE_* for core, SELFMAP_* for app) and flags,
// merging with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "SELFMAP", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	rps, err := strconv.ParseFloat(appValues.String("geocode_rps"), 64)
	if err != nil {
		return nil, AppConfig{}, fmt.Errorf("geocode_rps: %w", err)
	}

	appCfg := AppConfig{
		StoreBackend:     appValues.String("store_backend"),
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		FirestoreProject: appValues.String("firestore_project"),
		PollInterval:     appValues.Duration("poll_interval", 2*time.Second),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionMaxAge: appValues.Duration("session_max_age", 30*24*time.Hour),

		AuthTokenSecret: appValues.String("auth_token_secret"),
		AuthTokenIssuer: appValues.String("auth_token_issuer"),

		BaseURL: appValues.String("base_url"),

		GeocodeBaseURL:   appValues.String("geocode_base_url"),
		GeocodeUserAgent: appValues.String("geocode_user_agent"),
		GeocodeRPS:       rps,

		ImageMaxWidth:  appValues.Int("image_max_width"),
		ImageMaxHeight: appValues.Int("image_max_height"),
		ImageQuality:   appValues.Int("image_quality"),

		ActivityLog:   appValues.String("activity_log"),
		SweepInterval: appValues.Duration("sweep_interval", time.Minute),

		Timeouts: timeouts.Config{
			Short:       appValues.Duration("timeout_short", 0),
			Medium:      appValues.Duration("timeout_medium", 0),
			Long:        appValues.Duration("timeout_long", 0),
			Batch:       appValues.Duration("timeout_batch", 0),
			Geolocation: appValues.Duration("timeout_geolocation", 0),
		},
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation so that
// misconfiguration aborts startup before any backend is dialed.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	switch appCfg.StoreBackend {
	case BackendMongo:
		if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
			logger.Error("invalid MongoDB URI", zap.Error(err))
			return fmt.Errorf("invalid MongoDB URI: %w", err)
		}
		if appCfg.MongoDatabase == "" {
			return errors.New("mongo_database is required")
		}
	case BackendFirestore:
		if appCfg.FirestoreProject == "" {
			return errors.New("store_backend=firestore requires firestore_project")
		}
	case BackendMemory:
		if coreCfg != nil && coreCfg.Env == "prod" {
			logger.Warn("memory store backend in prod: all data is lost on restart")
		}
	default:
		return fmt.Errorf("unknown store_backend %q (want mongo, firestore or memory)", appCfg.StoreBackend)
	}

	if appCfg.ImageQuality < 1 || appCfg.ImageQuality > 100 {
		return fmt.Errorf("image_quality must be within 1..100, got %d", appCfg.ImageQuality)
	}
	if appCfg.ImageMaxWidth <= 0 || appCfg.ImageMaxHeight <= 0 {
		return fmt.Errorf("image bounds must be positive, got %dx%d", appCfg.ImageMaxWidth, appCfg.ImageMaxHeight)
	}
	if _, err := activitylog.ParseMode(appCfg.ActivityLog); err != nil {
		return err
	}
	if appCfg.GeocodeRPS < 0 {
		return fmt.Errorf("geocode_rps must not be negative, got %v", appCfg.GeocodeRPS)
	}
	for name, d := range map[string]time.Duration{
		"timeout_short":       appCfg.Timeouts.Short,
		"timeout_medium":      appCfg.Timeouts.Medium,
		"timeout_long":        appCfg.Timeouts.Long,
		"timeout_batch":       appCfg.Timeouts.Batch,
		"timeout_geolocation": appCfg.Timeouts.Geolocation,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if appCfg.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", appCfg.SweepInterval)
	}
	return nil
}
