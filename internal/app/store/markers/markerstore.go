// internal/app/store/markers/markerstore.go
package markerstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	"github.com/dalemusser/selfmap/internal/app/system/activitylog"
	"github.com/dalemusser/selfmap/internal/app/system/geoloc"
	"github.com/dalemusser/selfmap/internal/app/system/imageenc"
	"github.com/dalemusser/selfmap/internal/app/system/metrics"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"go.uber.org/zap"
)

// FallbackCenter is used by DefaultCenter for maps without markers.
var FallbackCenter = models.LatLng{Lat: 25.033, Lng: 121.5654}

// Encoder turns uploaded bytes into an embeddable photo.
type Encoder interface {
	Encode(data []byte) (imageenc.Result, error)
}

// Geocoder resolves an address. It never fails; an unknown address is "".
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) string
}

// Collection returns the marker subcollection of a map.
func Collection(mapID string) string {
	return mapstore.MarkersCollection(mapID)
}

// Path returns the document path of a marker.
func Path(mapID, markerID string) string {
	return docstore.Join(Collection(mapID), markerID)
}

// Store owns the markers of every map.
type Store struct {
	ds       docstore.Store
	enc      Encoder
	geo      Geocoder
	activity *activitylog.Logger
	log      *zap.Logger
	now      func() time.Time
}

// New creates a marker Store. geo may be nil, in which case addresses stay
// empty.
func New(ds docstore.Store, enc Encoder, geo Geocoder, activity *activitylog.Logger, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if enc == nil {
		enc = imageenc.New()
	}
	return &Store{ds: ds, enc: enc, geo: geo, activity: activity, log: log, now: time.Now}
}

func checkIDs(mapID, markerID string) error {
	if mapID == "" || markerID == "" {
		return apperr.Validation("map and marker ids are required")
	}
	return nil
}

// Create adds a marker at the position reported by loc.
//
// The position is resolved first (bounded by timeouts.Geolocation); a
// failure aborts before anything is written. The photo is then encoded and
// the address looked up on a best-effort basis. actor may be empty, which
// stores a null creator.
func (s *Store) Create(ctx context.Context, actor, mapID string, loc geoloc.Locator, photo []byte) (models.Marker, error) {
	if mapID == "" {
		return models.Marker{}, apperr.Validation("map id is required")
	}
	pos, err := geoloc.Resolve(ctx, loc)
	if err != nil {
		return models.Marker{}, err
	}

	var photoURI string
	if len(photo) > 0 {
		res, err := s.enc.Encode(photo)
		if err != nil {
			return models.Marker{}, err
		}
		photoURI = res.DataURI
	}

	var address string
	if s.geo != nil {
		address = s.geo.ReverseGeocode(ctx, pos.Lat, pos.Lng)
	}

	var createdBy any
	if actor != "" {
		createdBy = actor
	}
	id, err := s.ds.Add(ctx, Collection(mapID), docstore.Fields{
		"lat":         pos.Lat,
		"lng":         pos.Lng,
		"photoBase64": photoURI,
		"address":     address,
		"createdAt":   docstore.ServerTimestamp,
		"title":       models.DefaultMarkerTitle,
		"note":        "",
		"createdBy":   createdBy,
		"comments":    []models.Comment{},
	})
	if err != nil {
		return models.Marker{}, apperr.Write("markers.create", err)
	}
	metrics.MarkersCreated.Inc()

	m, err := s.Get(ctx, mapID, id)
	if err != nil {
		return models.Marker{}, err
	}
	s.activity.MarkerCreated(ctx, actor, m)
	return m, nil
}

func decode(mapID string, doc docstore.Document) (models.Marker, error) {
	var raw models.MarkerDoc
	if err := doc.DataTo(&raw); err != nil {
		return models.Marker{}, fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
	}
	return raw.ToMarker(mapID, doc.ID)
}

// Get loads one marker.
func (s *Store) Get(ctx context.Context, mapID, markerID string) (models.Marker, error) {
	if err := checkIDs(mapID, markerID); err != nil {
		return models.Marker{}, err
	}
	doc, err := s.ds.Get(ctx, Path(mapID, markerID))
	if err != nil {
		return models.Marker{}, apperr.Read("markers.get", err)
	}
	m, err := decode(mapID, doc)
	if err != nil {
		return models.Marker{}, apperr.Read("markers.get", err)
	}
	return m, nil
}

// mutate runs fn atomically against the current marker. Errors returned by
// fn are passed through as they are, an undecodable stored marker is a
// remote read failure, and store failures are wrapped as remote writes.
func (s *Store) mutate(ctx context.Context, op, mapID, markerID string, fn func(models.Marker) (docstore.Fields, error)) error {
	var denied error
	err := s.ds.UpdateFunc(ctx, Path(mapID, markerID), func(cur docstore.Document) (docstore.Fields, error) {
		denied = nil
		m, err := decode(mapID, cur)
		if err != nil {
			denied = apperr.Read(op, err)
			return nil, err
		}
		f, err := fn(m)
		if err != nil {
			denied = err
		}
		return f, err
	})
	if denied != nil {
		return denied
	}
	return apperr.Write(op, err)
}

func editable(actor string, m models.Marker) error {
	if !m.EditableBy(actor) {
		return fmt.Errorf("%w: marker %s was created by another user", apperr.ErrForbidden, m.ID)
	}
	return nil
}

// UpdateMeta sets the title and address. A blank title is stored as
// models.DefaultMarkerTitle.
func (s *Store) UpdateMeta(ctx context.Context, actor, mapID, markerID, title, address string) error {
	if err := checkIDs(mapID, markerID); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultMarkerTitle
	}
	address = strings.TrimSpace(address)

	err := s.mutate(ctx, "markers.update_meta", mapID, markerID, func(m models.Marker) (docstore.Fields, error) {
		if err := editable(actor, m); err != nil {
			return nil, err
		}
		return docstore.Fields{"title": title, "address": address}, nil
	})
	if err != nil {
		return err
	}
	s.activity.MarkerMetaEdited(ctx, actor, mapID, markerID, title)
	return nil
}

// UpdateNote replaces the note. Visibility of the note is a rendering rule
// (models.Marker.Redacted); the stored field is not access controlled.
func (s *Store) UpdateNote(ctx context.Context, actor, mapID, markerID, note string) error {
	if err := checkIDs(mapID, markerID); err != nil {
		return err
	}
	note = strings.TrimSpace(note)

	err := s.mutate(ctx, "markers.update_note", mapID, markerID, func(m models.Marker) (docstore.Fields, error) {
		if err := editable(actor, m); err != nil {
			return nil, err
		}
		return docstore.Fields{"note": note}, nil
	})
	if err != nil {
		return err
	}
	s.activity.MarkerNoteEdited(ctx, actor, mapID, markerID)
	return nil
}

// AddOrReplaceComment stores text as authorUID's only comment on the
// marker, replacing any earlier one. The merge runs inside the store's
// atomic read-modify-write so that concurrent commenters never drop each
// other's entries. Blank text is rejected before any write.
func (s *Store) AddOrReplaceComment(ctx context.Context, mapID, markerID, authorUID, authorName, text string) ([]models.Comment, error) {
	if err := checkIDs(mapID, markerID); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("comment text is required")
	}
	if authorUID == "" {
		return nil, apperr.Validation("comment author is required")
	}
	authorName = strings.TrimSpace(authorName)
	if authorName == "" {
		authorName = models.DefaultUserName
	}
	c := models.Comment{
		Text:       text,
		AuthorName: authorName,
		AuthorUID:  authorUID,
		CreatedAt:  s.now().UTC().Truncate(time.Millisecond),
	}

	var merged []models.Comment
	err := s.mutate(ctx, "markers.comment", mapID, markerID, func(m models.Marker) (docstore.Fields, error) {
		merged = models.MergeComment(m.Comments, c)
		return docstore.Fields{"comments": merged}, nil
	})
	if err != nil {
		return nil, err
	}
	s.activity.MarkerCommented(ctx, authorUID, mapID, markerID)
	return merged, nil
}

// Delete removes one marker. The creator and the map owner may delete it;
// ownerless legacy markers follow models.Marker.EditableBy. Store failures
// wrap apperr.ErrDelete.
func (s *Store) Delete(ctx context.Context, actor, mapID, markerID string) error {
	m, err := s.Get(ctx, mapID, markerID)
	if err != nil {
		return err
	}
	if !m.EditableBy(actor) {
		owner, err := s.mapOwner(ctx, mapID)
		if err != nil {
			return err
		}
		if owner != actor {
			return fmt.Errorf("%w: marker %s may only be deleted by its creator or the map owner", apperr.ErrForbidden, markerID)
		}
	}
	if err := s.ds.Delete(ctx, Path(mapID, markerID)); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrDelete, apperr.Write("markers.delete", err))
	}
	s.activity.MarkerDeleted(ctx, actor, mapID, markerID)
	return nil
}

func (s *Store) mapOwner(ctx context.Context, mapID string) (string, error) {
	doc, err := s.ds.Get(ctx, mapstore.Path(mapID))
	if err != nil {
		return "", apperr.Read("maps.get", err)
	}
	var raw models.MapDoc
	if err := doc.DataTo(&raw); err != nil {
		return "", apperr.Read("maps.get", err)
	}
	if raw.OwnerUID == nil {
		return "", nil
	}
	return *raw.OwnerUID, nil
}

// ClearAll deletes every marker of a map owned by actor, MaxBatchSize per
// committed batch. It is not atomic across batches: on error the returned
// result counts what was removed and calling ClearAll again removes the
// rest. The map document is kept.
func (s *Store) ClearAll(ctx context.Context, actor, mapID string) (docstore.DeleteResult, error) {
	if mapID == "" {
		return docstore.DeleteResult{}, apperr.Validation("map id is required")
	}
	owner, err := s.mapOwner(ctx, mapID)
	if err != nil {
		return docstore.DeleteResult{}, err
	}
	if actor == "" || owner != actor {
		return docstore.DeleteResult{}, fmt.Errorf("%w: only the map owner may clear its markers", apperr.ErrForbidden)
	}

	res, err := docstore.DeleteAll(ctx, s.ds, docstore.Query{Collection: Collection(mapID)})
	if res.Deleted > 0 {
		s.activity.MarkersCleared(ctx, actor, mapID, res.Deleted)
	}
	if err != nil {
		s.log.Warn("clear markers interrupted",
			zap.String("map_id", mapID),
			zap.Int("count", res.Deleted),
			zap.Error(err))
		return res, apperr.Write("markers.clear", err)
	}
	return res, nil
}

func listQuery(mapID string) docstore.Query {
	return docstore.Query{
		Collection: Collection(mapID),
		OrderBy:    "createdAt",
		Direction:  docstore.Asc,
	}
}

// List returns a map's markers, oldest first.
func (s *Store) List(ctx context.Context, mapID string) ([]models.Marker, error) {
	if mapID == "" {
		return nil, apperr.Validation("map id is required")
	}
	docs, err := s.ds.Query(ctx, listQuery(mapID))
	if err != nil {
		return nil, apperr.Read("markers.list", err)
	}
	return s.project(mapID, docs), nil
}

// Subscribe delivers a map's markers, oldest first, now and after every
// change. The caller must Unsubscribe exactly once.
func (s *Store) Subscribe(ctx context.Context, mapID string, fn func([]models.Marker)) (*docstore.Subscription, error) {
	if mapID == "" {
		return nil, apperr.Validation("map id is required")
	}
	sub, err := s.ds.Subscribe(ctx, listQuery(mapID), func(docs []docstore.Document) {
		fn(s.project(mapID, docs))
	})
	return sub, apperr.Read("markers.subscribe", err)
}

func (s *Store) project(mapID string, docs []docstore.Document) []models.Marker {
	out := make([]models.Marker, 0, len(docs))
	for _, d := range docs {
		m, err := decode(mapID, d)
		if err != nil {
			s.log.Warn("dropping invalid marker", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out
}

// DefaultCenter is where a map view opens: the most recent marker (the last
// in creation order), else FallbackCenter.
func DefaultCenter(markers []models.Marker) models.LatLng {
	if len(markers) == 0 {
		return FallbackCenter
	}
	return markers[len(markers)-1].Position()
}

