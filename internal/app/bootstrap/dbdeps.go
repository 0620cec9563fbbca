// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"cloud.google.com/go/firestore"
	activitystore "github.com/dalemusser/selfmap/internal/app/store/activity"
	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	markerstore "github.com/dalemusser/selfmap/internal/app/store/markers"
	userstore "github.com/dalemusser/selfmap/internal/app/store/users"
	"github.com/dalemusser/selfmap/internal/app/system/activitylog"
	"github.com/dalemusser/selfmap/internal/app/system/livesync"
	"github.com/dalemusser/selfmap/internal/app/system/ratelimit"
	"github.com/dalemusser/selfmap/internal/app/system/workers"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds the backend clients and the repositories built on them.
// Exactly one of MongoClient / FirestoreClient is set unless the memory
// backend is selected.
type DBDeps struct {
	Backend string
	Store   docstore.Store

	MongoClient     *mongo.Client
	MongoDatabase   *mongo.Database
	FirestoreClient *firestore.Client
	Redis           *redis.Client
	Hub             *livesync.Hub

	Activity    *activitystore.Store
	ActivityLog *activitylog.Logger
	Maps        *mapstore.Store
	Markers     *markerstore.Store
	Users       *userstore.Store

	// Throttles POST /session per client IP.
	SignInLimiter *ratelimit.Limiter

	// Started by Startup, stopped by Shutdown.
	Sweeper *workers.DeletionSweeper
}
