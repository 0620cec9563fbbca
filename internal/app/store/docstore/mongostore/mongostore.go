// Package mongostore implements docstore.Store on MongoDB.
//
// Each document lives in the collection named by the last segment of its
// collection path ("maps/{id}/markers" is stored in "markers"). The full
// document path is the _id, the parent document path is kept in _parent so
// queries can scope to one subcollection, and _rev changes on every write
// for compare-and-swap updates.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/app/system/livesync"
	"github.com/dalemusser/selfmap/internal/app/system/txn"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Reserved field names.
const (
	IDField     = "_id"
	ParentField = "_parent"
	RevField    = "_rev"
)

// ErrContention is returned by UpdateFunc when concurrent writers keep
// winning the race for the same document.
var ErrContention = errors.New("update contention: too many concurrent writers")

const maxCASAttempts = 32

// Options configure a Store. Zero values select defaults.
type Options struct {
	Hub          *livesync.Hub // change fan-out; a local hub is created when nil
	Logger       *zap.Logger
	PollInterval time.Duration // subscription re-query period without change streams
	Now          func() time.Time
}

// Store is a docstore.Store over one MongoDB database.
type Store struct {
	db      *mongo.Database
	hub     *livesync.Hub
	ownsHub bool
	log     *zap.Logger
	clock   *docstore.Clock
	poll    time.Duration
}

// New wraps db. The caller keeps ownership of the client.
func New(db *mongo.Database, opts Options) *Store {
	s := &Store{
		db:    db,
		hub:   opts.Hub,
		log:   opts.Logger,
		clock: docstore.NewClock(opts.Now),
		poll:  opts.PollInterval,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.hub == nil {
		s.hub = livesync.NewHub(nil, s.log)
		s.ownsHub = true
	}
	if s.poll <= 0 {
		s.poll = 2 * time.Second
	}
	return s
}

// Database returns the underlying database.
func (s *Store) Database() *mongo.Database {
	return s.db
}

func (s *Store) coll(collection string) (*mongo.Collection, string) {
	parent, name := docstore.Parent(collection)
	return s.db.Collection(name), parent
}

func newRev() string {
	return primitive.NewObjectID().Hex()
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if !docstore.IsDocument(path) {
		return docstore.Document{}, fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	col, _ := docstore.Split(path)
	c, _ := s.coll(col)

	raw, err := c.FindOne(ctx, bson.M{IDField: path}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, err
	}
	return toDocument(raw), nil
}

func (s *Store) Add(ctx context.Context, collection string, f docstore.Fields) (string, error) {
	if !docstore.IsCollection(collection) {
		return "", fmt.Errorf("%w: %q", docstore.ErrBadPath, collection)
	}
	id := primitive.NewObjectID().Hex()
	path := docstore.Join(collection, id)
	c, parent := s.coll(collection)

	if _, err := c.InsertOne(ctx, s.document(path, parent, f)); err != nil {
		return "", err
	}
	s.hub.Publish(ctx, collection)
	return id, nil
}

func (s *Store) Set(ctx context.Context, path string, f docstore.Fields) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	col, _ := docstore.Split(path)
	c, parent := s.coll(col)

	_, err := c.ReplaceOne(ctx, bson.M{IDField: path}, s.document(path, parent, f), options.Replace().SetUpsert(true))
	if err != nil {
		return err
	}
	s.hub.Publish(ctx, col)
	return nil
}

func (s *Store) Update(ctx context.Context, path string, f docstore.Fields) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	col, _ := docstore.Split(path)
	c, _ := s.coll(col)

	res, err := c.UpdateOne(ctx, bson.M{IDField: path}, bson.M{"$set": s.setFields(f)})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	s.hub.Publish(ctx, col)
	return nil
}

// UpdateFunc reads the document, applies fn and writes only if _rev is
// unchanged, retrying from the read when another writer got there first.
func (s *Store) UpdateFunc(ctx context.Context, path string, fn docstore.Mutation) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	col, _ := docstore.Split(path)
	c, _ := s.coll(col)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		raw, err := c.FindOne(ctx, bson.M{IDField: path}).Raw()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return docstore.ErrNotFound
		}
		if err != nil {
			return err
		}
		doc := toDocument(raw)

		f, err := fn(doc)
		if err != nil {
			return err
		}
		res, err := c.UpdateOne(ctx, casFilter(path, doc.Version), bson.M{"$set": s.setFields(f)})
		if err != nil {
			return err
		}
		if res.MatchedCount == 1 {
			s.hub.Publish(ctx, col)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Millisecond):
		}
	}
	return ErrContention
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	col, _ := docstore.Split(path)
	c, _ := s.coll(col)

	if _, err := c.DeleteOne(ctx, bson.M{IDField: path}); err != nil {
		return err
	}
	s.hub.Publish(ctx, col)
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if !docstore.IsCollection(q.Collection) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrBadPath, q.Collection)
	}
	c, parent := s.coll(q.Collection)

	filter := bson.D{{Key: ParentField, Value: parent}}
	for _, w := range q.Where {
		filter = append(filter, bson.E{Key: w.Field, Value: w.Value})
	}
	dir := 1
	if q.Direction == docstore.Desc {
		dir = -1
	}
	sort := bson.D{}
	if q.OrderBy != "" {
		// Match Firestore: documents without the order-by field are excluded.
		filter = append(filter, bson.E{Key: q.OrderBy, Value: bson.M{"$exists": true}})
		sort = append(sort, bson.E{Key: q.OrderBy, Value: dir})
	}
	sort = append(sort, bson.E{Key: IDField, Value: dir})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []docstore.Document
	for cur.Next(ctx) {
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)
		out = append(out, toDocument(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Batch() docstore.Batch {
	return &batch{s: s}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close releases the store's own hub. The client is closed by its owner.
func (s *Store) Close(ctx context.Context) error {
	if s.ownsHub {
		return s.hub.Close()
	}
	return nil
}

func (s *Store) document(path, parent string, f docstore.Fields) bson.D {
	resolved := f.Resolve(s.clock.Now())
	d := bson.D{
		{Key: IDField, Value: path},
		{Key: ParentField, Value: parent},
		{Key: RevField, Value: newRev()},
	}
	for _, k := range resolved.Keys() {
		d = append(d, bson.E{Key: k, Value: resolved[k]})
	}
	return d
}

func (s *Store) setFields(f docstore.Fields) bson.M {
	set := bson.M(f.Resolve(s.clock.Now()))
	delete(set, IDField)
	delete(set, ParentField)
	set[RevField] = newRev()
	return set
}

// casFilter matches path only while its revision is still rev. Documents
// written outside this store carry no _rev (rev == ""); they match while the
// field is still missing or null.
func casFilter(path, rev string) bson.M {
	if rev == "" {
		return bson.M{IDField: path, RevField: bson.M{"$in": bson.A{nil, ""}}}
	}
	return bson.M{IDField: path, RevField: rev}
}

func toDocument(raw bson.Raw) docstore.Document {
	path, _ := raw.Lookup(IDField).StringValueOK()
	rev, _ := raw.Lookup(RevField).StringValueOK()
	return docstore.NewDocument(path, rev, func(v any) error {
		return bson.Unmarshal(raw, v)
	})
}

type batch struct {
	s     *Store
	paths []string
}

func (b *batch) Delete(path string) {
	b.paths = append(b.paths, path)
}

func (b *batch) Len() int {
	return len(b.paths)
}

// Commit issues one DeleteMany per collection, inside a transaction when the
// deployment supports it.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.paths) > docstore.MaxBatchSize {
		return docstore.ErrBatchTooLarge
	}
	byColl := map[string][]string{}
	var order []string
	for _, p := range b.paths {
		if !docstore.IsDocument(p) {
			return fmt.Errorf("%w: %q", docstore.ErrBadPath, p)
		}
		col, _ := docstore.Split(p)
		if _, seen := byColl[col]; !seen {
			order = append(order, col)
		}
		byColl[col] = append(byColl[col], p)
	}
	if len(order) == 0 {
		return nil
	}

	s := b.s
	err := txn.Run(ctx, s.db.Client(), s.log, func(ctx context.Context) error {
		for _, col := range order {
			c, _ := s.coll(col)
			if _, err := c.DeleteMany(ctx, bson.M{IDField: bson.M{"$in": byColl[col]}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, col := range order {
		s.hub.Publish(ctx, col)
	}
	return nil
}
