// internal/app/store/maps/mapstore.go
package mapstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/app/system/activitylog"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"go.uber.org/zap"
)

// Collection is the root collection of maps.
const Collection = "maps"

// Path returns the document path of a map.
func Path(mapID string) string {
	return docstore.Join(Collection, mapID)
}

// MarkersCollection returns the marker subcollection of a map.
func MarkersCollection(mapID string) string {
	return docstore.Join(Collection, mapID, "markers")
}

// Clipboard receives share URLs.
type Clipboard interface {
	Copy(ctx context.Context, text string) error
}

// ClipboardFunc adapts a function to Clipboard.
type ClipboardFunc func(ctx context.Context, text string) error

func (f ClipboardFunc) Copy(ctx context.Context, text string) error { return f(ctx, text) }

// Store owns map documents and the cascading delete of their markers.
type Store struct {
	ds       docstore.Store
	activity *activitylog.Logger
	log      *zap.Logger
}

func New(ds docstore.Store, activity *activitylog.Logger, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{ds: ds, activity: activity, log: log}
}

func cleanTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", apperr.Validation("map title is required")
	}
	return t, nil
}

// Create stores a new map owned by owner. The title is trimmed and must not
// be empty; nothing is written otherwise.
func (s *Store) Create(ctx context.Context, owner, title string) (models.Map, error) {
	if owner == "" {
		return models.Map{}, apperr.Validation("owner is required")
	}
	t, err := cleanTitle(title)
	if err != nil {
		return models.Map{}, err
	}

	id, err := s.ds.Add(ctx, Collection, docstore.Fields{
		"title":     t,
		"ownerUid":  owner,
		"createdAt": docstore.ServerTimestamp,
	})
	if err != nil {
		return models.Map{}, apperr.Write("maps.create", err)
	}

	m, err := s.load(ctx, id)
	if err != nil {
		return models.Map{}, err
	}
	s.activity.MapCreated(ctx, owner, m)
	return m, nil
}

// load reads a map including one that is being deleted.
func (s *Store) load(ctx context.Context, mapID string) (models.Map, error) {
	if mapID == "" {
		return models.Map{}, apperr.Validation("map id is required")
	}
	doc, err := s.ds.Get(ctx, Path(mapID))
	if err != nil {
		return models.Map{}, apperr.Read("maps.get", err)
	}
	m, err := decode(doc)
	if err != nil {
		return models.Map{}, apperr.Read("maps.get", err)
	}
	return m, nil
}

func decode(doc docstore.Document) (models.Map, error) {
	var raw models.MapDoc
	if err := doc.DataTo(&raw); err != nil {
		return models.Map{}, fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
	}
	return raw.ToMap(doc.ID)
}

// Get loads a map. Maps pending deletion are reported as not found.
func (s *Store) Get(ctx context.Context, mapID string) (models.Map, error) {
	m, err := s.load(ctx, mapID)
	if err != nil {
		return models.Map{}, err
	}
	if m.Deleting {
		return models.Map{}, apperr.Read("maps.get", apperr.ErrNotFound)
	}
	return m, nil
}

// Owned loads a map and checks that actor owns it.
func (s *Store) Owned(ctx context.Context, actor, mapID string) (models.Map, error) {
	m, err := s.Get(ctx, mapID)
	if err != nil {
		return models.Map{}, err
	}
	if actor == "" || m.OwnerUID != actor {
		return models.Map{}, fmt.Errorf("%w: map %s belongs to another user", apperr.ErrForbidden, mapID)
	}
	return m, nil
}

// Rename replaces the title. A map removed before the write yields
// apperr.ErrNotFound; the call is not retried.
func (s *Store) Rename(ctx context.Context, actor, mapID, title string) (models.Map, error) {
	t, err := cleanTitle(title)
	if err != nil {
		return models.Map{}, err
	}
	m, err := s.Owned(ctx, actor, mapID)
	if err != nil {
		return models.Map{}, err
	}
	if err := s.ds.Update(ctx, Path(mapID), docstore.Fields{"title": t}); err != nil {
		return models.Map{}, apperr.Write("maps.rename", err)
	}
	m.Title = t
	s.activity.MapRenamed(ctx, actor, mapID, t)
	return m, nil
}

// Delete removes a map and all of its markers.
//
// The map is first flagged as deleting, which hides it from listings, then
// its markers are removed in batches and finally the map document itself.
// If any step fails the flag stays set and the sweeper (or another call to
// Delete) finishes the job.
func (s *Store) Delete(ctx context.Context, actor, mapID string) (docstore.DeleteResult, error) {
	m, err := s.load(ctx, mapID)
	if err != nil {
		return docstore.DeleteResult{}, err
	}
	if actor == "" || m.OwnerUID != actor {
		return docstore.DeleteResult{}, fmt.Errorf("%w: map %s belongs to another user", apperr.ErrForbidden, mapID)
	}

	if !m.Deleting {
		if err := s.ds.Update(ctx, Path(mapID), docstore.Fields{"deleting": true}); err != nil {
			return docstore.DeleteResult{}, apperr.Write("maps.delete", err)
		}
	}

	res, err := s.Purge(ctx, mapID)
	if err != nil {
		return res, err
	}
	s.activity.MapDeleted(ctx, actor, m)
	return res, nil
}

// Purge deletes the markers of a map and then the map document. It is
// idempotent and is what the sweeper calls for maps left in deleting state.
func (s *Store) Purge(ctx context.Context, mapID string) (docstore.DeleteResult, error) {
	res, err := docstore.DeleteAll(ctx, s.ds, docstore.Query{Collection: MarkersCollection(mapID)})
	if err != nil {
		s.log.Warn("map delete interrupted",
			zap.String("map_id", mapID),
			zap.Int("count", res.Deleted),
			zap.Error(err))
		return res, apperr.Write("maps.delete", err)
	}
	if err := s.ds.Delete(ctx, Path(mapID)); err != nil {
		return res, apperr.Write("maps.delete", err)
	}
	s.log.Info("map deleted",
		zap.String("map_id", mapID),
		zap.Int("count", res.Deleted),
		zap.Int("commits", res.Commits))
	return res, nil
}

// ShareURL is the link that opens a map: {origin}/map/{mapID}.
func ShareURL(origin, mapID string) string {
	return strings.TrimRight(origin, "/") + "/map/" + mapID
}

// Share returns the map's link and hands it to clip when one is given. A
// clipboard failure still returns the URL together with apperr.ErrClipboard.
func (s *Store) Share(ctx context.Context, origin, mapID string, clip Clipboard) (string, error) {
	if mapID == "" {
		return "", apperr.Validation("map id is required")
	}
	u := ShareURL(origin, mapID)
	if clip == nil {
		return u, nil
	}
	if err := clip.Copy(ctx, u); err != nil {
		s.log.Warn("clipboard copy failed", zap.String("map_id", mapID), zap.Error(err))
		return u, fmt.Errorf("%w: %v", apperr.ErrClipboard, err)
	}
	return u, nil
}

func ownerQuery(owner string) docstore.Query {
	return docstore.Query{
		Collection: Collection,
		Where:      []docstore.Filter{{Field: "ownerUid", Value: owner}},
		OrderBy:    "createdAt",
		Direction:  docstore.Desc,
	}
}

// ListByOwner returns owner's maps, newest first.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]models.Map, error) {
	if owner == "" {
		return nil, apperr.Validation("owner is required")
	}
	docs, err := s.ds.Query(ctx, ownerQuery(owner))
	if err != nil {
		return nil, apperr.Read("maps.list", err)
	}
	return s.project(docs), nil
}

// Subscribe delivers owner's maps, newest first, now and after every
// change. The caller must Unsubscribe exactly once.
func (s *Store) Subscribe(ctx context.Context, owner string, fn func([]models.Map)) (*docstore.Subscription, error) {
	if owner == "" {
		return nil, apperr.Validation("owner is required")
	}
	sub, err := s.ds.Subscribe(ctx, ownerQuery(owner), func(docs []docstore.Document) {
		fn(s.project(docs))
	})
	return sub, apperr.Read("maps.subscribe", err)
}

// ListPendingDeletes returns up to limit maps left in deleting state.
func (s *Store) ListPendingDeletes(ctx context.Context, limit int) ([]string, error) {
	docs, err := s.ds.Query(ctx, docstore.Query{
		Collection: Collection,
		Where:      []docstore.Filter{{Field: "deleting", Value: true}},
		Limit:      limit,
	})
	if err != nil {
		return nil, apperr.Read("maps.pending", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// project decodes a snapshot, dropping maps that are being deleted and
// documents that fail validation.
func (s *Store) project(docs []docstore.Document) []models.Map {
	out := make([]models.Map, 0, len(docs))
	for _, d := range docs {
		m, err := decode(d)
		if err != nil {
			s.log.Warn("dropping invalid map", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		if m.Deleting {
			continue
		}
		out = append(out, m)
	}
	return out
}
