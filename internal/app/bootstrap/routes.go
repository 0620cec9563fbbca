// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	activityfeature "github.com/dalemusser/selfmap/internal/app/features/activity"
	errorsfeature "github.com/dalemusser/selfmap/internal/app/features/errors"
	healthfeature "github.com/dalemusser/selfmap/internal/app/features/health"
	livefeature "github.com/dalemusser/selfmap/internal/app/features/live"
	mapsfeature "github.com/dalemusser/selfmap/internal/app/features/maps"
	markersfeature "github.com/dalemusser/selfmap/internal/app/features/markers"
	profilefeature "github.com/dalemusser/selfmap/internal/app/features/profile"
	sessionfeature "github.com/dalemusser/selfmap/internal/app/features/session"
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/dalemusser/selfmap/internal/app/system/metrics"
	"github.com/dalemusser/selfmap/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Sign-in attempts allowed per client IP per window.
const (
	signInLimit  = 10
	signInWindow = time.Minute
)

// BuildHandler constructs the root HTTP handler.
//
// WAFFLE calls this after configuration, DB connections, schema setup and
// Startup have completed. Every route speaks JSON, including 404 and 405.
//
// Routes:
//
//	/health, /metrics          probes
//	/session                   sign in with a provider token, sign out
//	/api/me                    profile
//	/api/maps[/{mapID}]        maps, with markers nested below
//	/api/activities            recent activity
//	/live/...                  WebSocket snapshots
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}
	if appCfg.AuthTokenSecret != "" {
		verifier, err := auth.NewTokenVerifier(appCfg.AuthTokenSecret, appCfg.AuthTokenIssuer)
		if err != nil {
			return nil, err
		}
		sessionMgr.SetVerifier(verifier)
	} else {
		logger.Warn("auth_token_secret not set; token sign-in is disabled")
	}

	r := chi.NewRouter()
	r.NotFound(errorsfeature.NotFound)
	r.MethodNotAllowed(errorsfeature.MethodNotAllowed)

	// Loads the signed-in user (cookie or bearer token) into the context.
	r.Use(sessionMgr.LoadSessionUser)

	healthHandler := healthfeature.NewHandler(deps.Store, deps.Backend, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	r.Handle("/metrics", metrics.Handler())

	sessionHandler := sessionfeature.NewHandler(deps.Users, sessionMgr, logger)
	r.Mount("/session", sessionfeature.Routes(sessionHandler, deps.SignInLimiter))

	profileHandler := profilefeature.NewHandler(deps.Users, sessionMgr, logger)
	r.Mount("/api/me", profilefeature.Routes(profileHandler, sessionMgr))

	markersHandler := markersfeature.NewHandler(deps.Maps, deps.Markers, deps.Users, logger)
	mapsHandler := mapsfeature.NewHandler(deps.Maps, deps.Markers, appCfg.BaseURL, logger)
	r.Mount("/api/maps", mapsfeature.Routes(mapsHandler, sessionMgr, markersfeature.Routes(markersHandler)))

	activityHandler := activityfeature.NewHandler(deps.Activity, logger)
	r.Mount("/api/activities", activityfeature.Routes(activityHandler, sessionMgr))

	liveHandler := livefeature.NewHandler(deps.Maps, deps.Markers, deps.Activity, logger)
	r.Mount("/live", livefeature.Routes(liveHandler, sessionMgr))

	return r, nil
}
