// Package memstore is an in-process docstore.Store. It backs the "memory"
// store_backend and the repository tests, and exposes commit counters and
// fault hooks for those tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/app/system/livesync"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// Stats counts mutations applied to the store.
type Stats struct {
	Writes       int // single-document writes (add, set, update, delete)
	BatchCommits int // committed batches
}

type entry struct {
	raw bson.Raw
	m   bson.M
	rev int64
}

// Store keeps documents in memory, encoded as BSON so that reads decode
// through the same struct tags as the Mongo backend.
type Store struct {
	mu    sync.Mutex
	colls map[string]map[string]*entry
	rev   int64
	stats Stats

	clock   *docstore.Clock
	hub     *livesync.Hub
	ownsHub bool

	commitHook func(n int) error
	writeHook  func(op, path string) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the timestamp source used for ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = docstore.NewClock(now) }
}

// WithHub shares a change hub with other stores or processes.
func WithHub(h *livesync.Hub) Option {
	return func(s *Store) { s.hub = h }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		colls: map[string]map[string]*entry{},
		clock: docstore.NewClock(nil),
	}
	for _, o := range opts {
		o(s)
	}
	if s.hub == nil {
		s.hub = livesync.NewHub(nil, nil)
		s.ownsHub = true
	}
	return s
}

// SetCommitHook installs fn, called with the 1-based index of every batch
// commit. A non-nil error fails that commit without applying it.
func (s *Store) SetCommitHook(fn func(n int) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// SetWriteHook installs fn, called before every single-document write. A
// non-nil error fails the write.
func (s *Store) SetWriteHook(fn func(op, path string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHook = fn
}

// Stats returns the mutation counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Count returns the number of documents in collection.
func (s *Store) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.colls[collection])
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if !docstore.IsDocument(path) {
		return docstore.Document{}, fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, id := docstore.Split(path)
	e, ok := s.colls[col][id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return toDocument(path, e), nil
}

func (s *Store) Add(ctx context.Context, collection string, f docstore.Fields) (string, error) {
	if !docstore.IsCollection(collection) {
		return "", fmt.Errorf("%w: %q", docstore.ErrBadPath, collection)
	}
	id := uuid.NewString()
	if err := s.Set(ctx, docstore.Join(collection, id), f); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, path string, f docstore.Fields) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	col, id := docstore.Split(path)

	s.mu.Lock()
	if err := s.hook("set", path); err != nil {
		s.mu.Unlock()
		return err
	}
	e, err := s.encode(bson.M(f.Resolve(s.clock.Now())))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.colls[col] == nil {
		s.colls[col] = map[string]*entry{}
	}
	s.colls[col][id] = e
	s.stats.Writes++
	s.mu.Unlock()

	s.hub.Publish(ctx, col)
	return nil
}

func (s *Store) Update(ctx context.Context, path string, f docstore.Fields) error {
	return s.UpdateFunc(ctx, path, func(docstore.Document) (docstore.Fields, error) {
		return f, nil
	})
}

// UpdateFunc runs fn under the store lock; fn must not call back into the
// store.
func (s *Store) UpdateFunc(ctx context.Context, path string, fn docstore.Mutation) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	col, id := docstore.Split(path)

	s.mu.Lock()
	if err := s.hook("update", path); err != nil {
		s.mu.Unlock()
		return err
	}
	cur, ok := s.colls[col][id]
	if !ok {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	f, err := fn(toDocument(path, cur))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	merged := bson.M{}
	for k, v := range cur.m {
		merged[k] = v
	}
	for k, v := range f.Resolve(s.clock.Now()) {
		merged[k] = v
	}
	e, err := s.encode(merged)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.colls[col][id] = e
	s.stats.Writes++
	s.mu.Unlock()

	s.hub.Publish(ctx, col)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	col, id := docstore.Split(path)

	s.mu.Lock()
	if err := s.hook("delete", path); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.colls[col], id)
	s.stats.Writes++
	s.mu.Unlock()

	s.hub.Publish(ctx, col)
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if !docstore.IsCollection(q.Collection) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrBadPath, q.Collection)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	type hit struct {
		id string
		e  *entry
	}
	var hits []hit
	for id, e := range s.colls[q.Collection] {
		if !matches(e.m, q) {
			continue
		}
		hits = append(hits, hit{id: id, e: e})
	}
	s.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compare(hits[i].e.m[q.OrderBy], hits[j].e.m[q.OrderBy])
			if c != 0 {
				if q.Direction == docstore.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		if q.Direction == docstore.Desc {
			return hits[i].id > hits[j].id
		}
		return hits[i].id < hits[j].id
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	out := make([]docstore.Document, 0, len(hits))
	for _, h := range hits {
		out = append(out, toDocument(docstore.Join(q.Collection, h.id), h.e))
	}
	return out, nil
}

// Subscribe delivers asynchronously, starting with the current result.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn func([]docstore.Document)) (*docstore.Subscription, error) {
	if !docstore.IsCollection(q.Collection) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrBadPath, q.Collection)
	}
	sub, sctx := docstore.NewSubscription(ctx, fn)
	w := s.hub.Watch(q.Collection)

	go func() {
		defer s.hub.Unwatch(w)
		for {
			docs, err := s.Query(sctx, q)
			if err != nil {
				if sctx.Err() == nil {
					sub.Fail(err)
				}
				return
			}
			sub.Deliver(docs)

			select {
			case <-sctx.Done():
				return
			case <-w.C:
			}
		}
	}()
	return sub, nil
}

func (s *Store) Batch() docstore.Batch {
	return &batch{s: s}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close(ctx context.Context) error {
	if s.ownsHub {
		return s.hub.Close()
	}
	return nil
}

func (s *Store) hook(op, path string) error {
	if s.writeHook == nil {
		return nil
	}
	return s.writeHook(op, path)
}

func (s *Store) encode(m bson.M) (*entry, error) {
	raw, err := bson.Marshal(m)
	if err != nil {
		return nil, err
	}
	var norm bson.M
	if err := bson.Unmarshal(raw, &norm); err != nil {
		return nil, err
	}
	s.rev++
	return &entry{raw: raw, m: norm, rev: s.rev}, nil
}

func toDocument(path string, e *entry) docstore.Document {
	raw := e.raw
	return docstore.NewDocument(path, strconv.FormatInt(e.rev, 10), func(v any) error {
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

// Commit applies all deletes under one lock acquisition.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.paths) > docstore.MaxBatchSize {
		return docstore.ErrBatchTooLarge
	}
	for _, p := range b.paths {
		if !docstore.IsDocument(p) {
			return fmt.Errorf("%w: %q", docstore.ErrBadPath, p)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := b.s
	s.mu.Lock()
	if s.commitHook != nil {
		if err := s.commitHook(s.stats.BatchCommits + 1); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	touched := map[string]struct{}{}
	for _, p := range b.paths {
		col, id := docstore.Split(p)
		delete(s.colls[col], id)
		touched[col] = struct{}{}
	}
	s.stats.BatchCommits++
	s.mu.Unlock()

	for col := range touched {
		s.hub.Publish(ctx, col)
	}
	return nil
}
