// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/selfmap/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates the collections and attaches JSON-Schema validators that
// mirror the read-side checks in the repositories. Deployments without
// collMod support are logged and skipped.
//
// Validation level is "moderate": documents written before a schema change
// are not rejected on unrelated updates.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure("maps", mapsSchema())
	ensure("markers", markersSchema())
	ensure("activities", activitiesSchema())
	ensure("users", usersSchema())

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// ensureCollection reports created==true only when it made the collection.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	names, listErr := db.ListCollectionNames(ctx, bson.M{"name": name})
	if listErr == nil && len(names) > 0 {
		zap.L().Info("collection exists", zap.String("collection", name))
		return false, nil
	}
	if err := db.CreateCollection(ctx, name); err != nil {
		if isNamespaceExistsErr(err) {
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

func commandErr(err error, code int32, phrases ...string) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == code {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func isNamespaceExistsErr(err error) bool {
	return commandErr(err, 48, "already exists", "namespace exists")
}

func isNoSuchCommand(err error) bool {
	return commandErr(err, 59, "no such command")
}

func isNotImplemented(err error) bool {
	return commandErr(err, 115, "not implemented", "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

var number = bson.A{"double", "int", "long", "decimal"}

func mapsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"title", "ownerUid", "createdAt"},
			"properties": bson.M{
				"title":     bson.M{"bsonType": "string"},
				"ownerUid":  bson.M{"bsonType": "string", "minLength": 1},
				"createdAt": bson.M{"bsonType": "date"},
				"deleting":  bson.M{"bsonType": "bool"},
			},
		},
	}
}

func markersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"lat", "lng", "createdAt"},
			"properties": bson.M{
				"lat":         bson.M{"bsonType": number, "minimum": -90, "maximum": 90},
				"lng":         bson.M{"bsonType": number, "minimum": -180, "maximum": 180},
				"createdAt":   bson.M{"bsonType": "date"},
				"title":       bson.M{"bsonType": "string"},
				"note":        bson.M{"bsonType": "string"},
				"address":     bson.M{"bsonType": "string"},
				"photoBase64": bson.M{"bsonType": "string"},
				"createdBy":   bson.M{"bsonType": bson.A{"string", "null"}},
				"comments": bson.M{
					"bsonType": "array",
					"items": bson.M{
						"bsonType": "object",
						"required": bson.A{"text", "authorUid"},
						"properties": bson.M{
							"text":       bson.M{"bsonType": "string", "minLength": 1},
							"authorUid":  bson.M{"bsonType": "string"},
							"authorName": bson.M{"bsonType": "string"},
							"createdAt":  bson.M{"bsonType": "date"},
						},
					},
				},
			},
		},
	}
}

func activitiesSchema() bson.M {
	types := bson.A{}
	for _, t := range models.ActivityTypes {
		types = append(types, t)
	}
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"type", "message", "createdAt"},
			"properties": bson.M{
				"type":      bson.M{"enum": types},
				"message":   bson.M{"bsonType": "string"},
				"createdAt": bson.M{"bsonType": "date"},
				"detail":    bson.M{"bsonType": "object"},
			},
		},
	}
}

func usersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name"},
			"properties": bson.M{
				"name":      bson.M{"bsonType": "string", "minLength": 1},
				"email":     bson.M{"bsonType": bson.A{"string", "null"}},
				"createdAt": bson.M{"bsonType": "date"},
			},
		},
	}
}
