// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"
	"errors"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown stops background work, lets pending activity appends land and
// then closes the backends.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Sweeper != nil {
		deps.Sweeper.Stop()
	}
	if err := deps.ActivityLog.Wait(ctx); err != nil {
		logger.Warn("activity appends still pending at shutdown", zap.Error(err))
	}
	return closeDeps(ctx, deps, logger)
}

// closeDeps releases whatever ConnectDB managed to open. Nil fields are
// skipped.
func closeDeps(ctx context.Context, deps DBDeps, logger *zap.Logger) error {
	var errs []error

	if deps.Store != nil {
		if err := deps.Store.Close(ctx); err != nil {
			logger.Error("document store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if deps.SignInLimiter != nil {
		deps.SignInLimiter.Close()
	}
	if deps.Hub != nil {
		_ = deps.Hub.Close()
	}
	if deps.Redis != nil {
		if err := deps.Redis.Close(); err != nil {
			logger.Error("redis close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	// The firestore store owns its client; close it directly only when the
	// store was never built.
	if deps.FirestoreClient != nil && deps.Store == nil {
		if err := deps.FirestoreClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
