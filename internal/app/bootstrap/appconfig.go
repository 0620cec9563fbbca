// internal/app/bootstrap/appconfig.go
package bootstrap

import (
	"time"

	"github.com/dalemusser/selfmap/internal/app/system/timeouts"
)

// Store backends selectable with store_backend.
const (
	BackendMongo     = "mongo"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables (SELFMAP_*), configuration
// files, or command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig
// covers ports, TLS, log level and CORS; everything below is selfmap's own.
type AppConfig struct {
	// Document store
	StoreBackend     string // mongo, firestore or memory
	MongoURI         string
	MongoDatabase    string
	FirestoreProject string
	PollInterval     time.Duration // subscription re-query period without change streams

	// Cross-instance change fan-out (blank disables)
	RedisAddr     string
	RedisPassword string

	// Session management
	SessionKey    string
	SessionName   string
	SessionDomain string
	SessionMaxAge time.Duration

	// Provider ID token verification (blank secret disables /session sign-in)
	AuthTokenSecret string
	AuthTokenIssuer string

	// Origin used in share links
	BaseURL string

	// Reverse geocoding
	GeocodeBaseURL   string
	GeocodeUserAgent string
	GeocodeRPS       float64

	// Photo encoding
	ImageMaxWidth  int
	ImageMaxHeight int
	ImageQuality   int

	// Activity history: all, db, log or off
	ActivityLog string

	// Background deletion sweeper period
	SweepInterval time.Duration

	// Operation deadlines; zero keeps the timeouts package default.
	Timeouts timeouts.Config
}
