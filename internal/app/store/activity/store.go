// internal/app/store/activity/store.go
package activity

import (
	"context"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"go.uber.org/zap"
)

// RecentLimit bounds the feed shown to a user.
const RecentLimit = 30

// Collection is the per-user activity collection path.
func Collection(uid string) string {
	return docstore.Join("users", uid, "activities")
}

// Store reads and writes users/{uid}/activities. Entries are append-only.
type Store struct {
	ds  docstore.Store
	log *zap.Logger
}

// New creates an activity Store.
func New(ds docstore.Store, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{ds: ds, log: log}
}

// Create appends one entry with a server timestamp and returns its id.
func (s *Store) Create(ctx context.Context, uid string, a models.Activity) (string, error) {
	if uid == "" {
		return "", apperr.Validation("activity requires a user")
	}
	f := docstore.Fields{
		"type":      a.Type,
		"message":   a.Message,
		"createdAt": docstore.ServerTimestamp,
	}
	if len(a.Detail) > 0 {
		f["detail"] = a.Detail
	}
	id, err := s.ds.Add(ctx, Collection(uid), f)
	return id, apperr.Write("activity.create", err)
}

func recentQuery(uid string, limit int) docstore.Query {
	return docstore.Query{
		Collection: Collection(uid),
		OrderBy:    "createdAt",
		Direction:  docstore.Desc,
		Limit:      limit,
	}
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, uid string, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = RecentLimit
	}
	docs, err := s.ds.Query(ctx, recentQuery(uid, limit))
	if err != nil {
		return nil, apperr.Read("activity.recent", err)
	}
	return s.decode(docs), nil
}

// Subscribe delivers the newest RecentLimit entries on every change.
func (s *Store) Subscribe(ctx context.Context, uid string, fn func([]models.Activity)) (*docstore.Subscription, error) {
	sub, err := s.ds.Subscribe(ctx, recentQuery(uid, RecentLimit), func(docs []docstore.Document) {
		fn(s.decode(docs))
	})
	return sub, apperr.Read("activity.subscribe", err)
}

// Clear deletes every entry of the user in batches of docstore.MaxBatchSize.
func (s *Store) Clear(ctx context.Context, uid string) (docstore.DeleteResult, error) {
	res, err := docstore.DeleteAll(ctx, s.ds, docstore.Query{Collection: Collection(uid)})
	return res, apperr.Write("activity.clear", err)
}

func (s *Store) decode(docs []docstore.Document) []models.Activity {
	out := make([]models.Activity, 0, len(docs))
	for _, d := range docs {
		var raw models.ActivityDoc
		if err := d.DataTo(&raw); err != nil {
			s.log.Warn("undecodable activity", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		a, err := raw.ToActivity(d.ID)
		if err != nil {
			s.log.Warn("dropping invalid activity", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out
}
