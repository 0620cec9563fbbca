// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	activitystore "github.com/dalemusser/selfmap/internal/app/store/activity"
	"github.com/dalemusser/selfmap/internal/app/store/docstore/firestorestore"
	"github.com/dalemusser/selfmap/internal/app/store/docstore/memstore"
	"github.com/dalemusser/selfmap/internal/app/store/docstore/mongostore"
	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	markerstore "github.com/dalemusser/selfmap/internal/app/store/markers"
	userstore "github.com/dalemusser/selfmap/internal/app/store/users"
	"github.com/dalemusser/selfmap/internal/app/system/activitylog"
	"github.com/dalemusser/selfmap/internal/app/system/geocode"
	"github.com/dalemusser/selfmap/internal/app/system/imageenc"
	"github.com/dalemusser/selfmap/internal/app/system/indexes"
	"github.com/dalemusser/selfmap/internal/app/system/livesync"
	"github.com/dalemusser/selfmap/internal/app/system/ratelimit"
	"github.com/dalemusser/selfmap/internal/app/system/timeouts"
	"github.com/dalemusser/selfmap/internal/app/system/validators"
	"github.com/dalemusser/selfmap/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB dials the configured document store (and Redis, when set) and
// builds the repositories. Partially opened clients are released on error.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	timeouts.Configure(appCfg.Timeouts)

	deps := DBDeps{Backend: appCfg.StoreBackend}
	ok := false
	defer func() {
		if !ok {
			closeDeps(context.Background(), deps, logger)
		}
	}()

	if appCfg.RedisAddr != "" {
		deps.Redis = redis.NewClient(&redis.Options{Addr: appCfg.RedisAddr, Password: appCfg.RedisPassword})
		pctx, cancel := context.WithTimeout(ctx, timeouts.Ping())
		err := deps.Redis.Ping(pctx).Err()
		cancel()
		if err != nil {
			return deps, fmt.Errorf("redis ping %s: %w", appCfg.RedisAddr, err)
		}
		logger.Info("redis change relay enabled", zap.String("addr", appCfg.RedisAddr))
	}

	switch appCfg.StoreBackend {
	case BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(appCfg.MongoURI))
		if err != nil {
			return deps, fmt.Errorf("mongo connect: %w", err)
		}
		deps.MongoClient = client
		pctx, cancel := context.WithTimeout(ctx, timeouts.Ping())
		err = client.Ping(pctx, readpref.Primary())
		cancel()
		if err != nil {
			return deps, fmt.Errorf("mongo ping: %w", err)
		}
		deps.MongoDatabase = client.Database(appCfg.MongoDatabase)
		deps.Hub = livesync.NewHub(deps.Redis, logger)
		deps.Store = mongostore.New(deps.MongoDatabase, mongostore.Options{
			Hub:          deps.Hub,
			Logger:       logger,
			PollInterval: appCfg.PollInterval,
		})

	case BackendFirestore:
		client, err := firestorestore.Connect(ctx, appCfg.FirestoreProject)
		if err != nil {
			return deps, fmt.Errorf("firestore connect: %w", err)
		}
		deps.FirestoreClient = client
		// Firestore snapshot listeners already span instances.
		deps.Store = firestorestore.New(client, logger)

	case BackendMemory:
		deps.Hub = livesync.NewHub(deps.Redis, logger)
		deps.Store = memstore.New(memstore.WithHub(deps.Hub))

	default:
		return deps, fmt.Errorf("unknown store_backend %q", appCfg.StoreBackend)
	}

	mode, err := activitylog.ParseMode(appCfg.ActivityLog)
	if err != nil {
		return deps, err
	}
	deps.Activity = activitystore.New(deps.Store, logger)
	deps.ActivityLog = activitylog.New(deps.Activity, logger, mode)

	enc := &imageenc.Encoder{
		MaxWidth:  appCfg.ImageMaxWidth,
		MaxHeight: appCfg.ImageMaxHeight,
		Quality:   appCfg.ImageQuality,
	}
	geo := geocode.New(geocode.Config{
		BaseURL:   appCfg.GeocodeBaseURL,
		UserAgent: appCfg.GeocodeUserAgent,
		RPS:       appCfg.GeocodeRPS,
		HTTP:      &http.Client{Timeout: timeouts.Medium()},
	}, logger)

	deps.Maps = mapstore.New(deps.Store, deps.ActivityLog, logger)
	deps.Markers = markerstore.New(deps.Store, enc, geo, deps.ActivityLog, logger)
	deps.Users = userstore.New(deps.Store, deps.ActivityLog, logger)
	deps.SignInLimiter = ratelimit.New(signInLimit, signInWindow)
	deps.Sweeper = workers.NewDeletionSweeper(deps.Maps, logger, appCfg.SweepInterval)

	logger.Info("document store connected", zap.String("backend", appCfg.StoreBackend))
	ok = true
	return deps, nil
}

// EnsureSchema creates Mongo collections, validators and indexes. The other
// backends are schemaless and rely on validation on read.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.MongoDatabase == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()

	if err := validators.EnsureAll(sctx, deps.MongoDatabase); err != nil {
		logger.Error("schema validators failed", zap.Error(err))
		return err
	}
	if err := indexes.EnsureAll(sctx, deps.MongoDatabase); err != nil {
		logger.Error("index setup failed", zap.Error(err))
		return err
	}
	logger.Info("mongo schema ensured", zap.String("database", deps.MongoDatabase.Name()))
	return nil
}
