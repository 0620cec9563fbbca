// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/docstore/mongostore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup when the store backend is MongoDB. Each
ensure* function is idempotent. Errors are aggregated so startup fails with
the complete list.

Every collection is queried by _parent first (the owning document path), so
each index leads with it.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	if err := ensureMaps(ctx, db); err != nil {
		problems = append(problems, "maps: "+err.Error())
	}
	if err := ensureMarkers(ctx, db); err != nil {
		problems = append(problems, "markers: "+err.Error())
	}
	if err := ensureActivities(ctx, db); err != nil {
		problems = append(problems, "activities: "+err.Error())
	}
	if err := ensureUsers(ctx, db); err != nil {
		problems = append(problems, "users: "+err.Error())
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type existingIndex struct {
	Name string `bson:"name"`
	Key  bson.D `bson:"key"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

// ensureIndexSet creates each model unless an index with the same key
// pattern already exists under any name.
func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	existing := map[string]string{} // key signature -> name
	// Listing fails on a collection that does not exist yet; create everything.
	if cur, err := coll.Indexes().List(ctx); err == nil {
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var idx existingIndex
			if err := cur.Decode(&idx); err != nil {
				zap.L().Warn("failed to decode existing index",
					zap.String("collection", coll.Name()), zap.Error(err))
				continue
			}
			existing[keySig(idx.Key)] = idx.Name
		}
	}

	var errs []string
	for _, m := range models {
		sig := keySig(m.Keys.(bson.D))
		name := ""
		if m.Options != nil && m.Options.Name != nil {
			name = *m.Options.Name
		}
		if have, ok := existing[sig]; ok {
			zap.L().Info("reusing existing index",
				zap.String("collection", coll.Name()),
				zap.String("name", have),
				zap.String("keys", sig))
			continue
		}

		start := time.Now()
		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), name, err))
			continue
		}
		zap.L().Info("created index",
			zap.String("collection", coll.Name()),
			zap.String("name", name),
			zap.String("keys", sig),
			zap.String("took", time.Since(start).String()))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// maps: the live list sorts newest first and hides maps being deleted;
// the sweeper looks up maps with deleting=true.
func ensureMaps(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("maps"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: mongostore.ParentField, Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("idx_maps_parent_created"),
		},
		{
			Keys:    bson.D{{Key: mongostore.ParentField, Value: 1}, {Key: "ownerUid", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("idx_maps_owner_created"),
		},
		{
			Keys:    bson.D{{Key: mongostore.ParentField, Value: 1}, {Key: "deleting", Value: 1}},
			Options: options.Index().SetName("idx_maps_deleting").SetSparse(true),
		},
	})
}

// markers: one map's markers in creation order.
func ensureMarkers(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("markers"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: mongostore.ParentField, Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_markers_parent_created"),
		},
	})
}

// activities: one user's feed, newest first.
func ensureActivities(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("activities"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: mongostore.ParentField, Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("idx_activities_parent_created"),
		},
	})
}

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("users"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("idx_users_email").SetSparse(true),
		},
	})
}
