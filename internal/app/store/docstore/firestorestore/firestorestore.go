// Package firestorestore implements docstore.Store on Cloud Firestore.
// Collection and document paths map one to one onto Firestore paths.
package firestorestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxTxnAttempts = 25

// Store is a docstore.Store over a Firestore client.
type Store struct {
	client *firestore.Client
	log    *zap.Logger
}

// Connect opens a client for projectID. FIRESTORE_EMULATOR_HOST is honored
// by the client library.
func Connect(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	return firestore.NewClient(ctx, projectID, opts...)
}

// New wraps client. Close closes the client.
func New(client *firestore.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, log: log}
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func toData(f docstore.Fields) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		if docstore.IsServerTimestamp(v) {
			out[k] = firestore.ServerTimestamp
			continue
		}
		out[k] = v
	}
	return out
}

func toUpdates(f docstore.Fields) []firestore.Update {
	data := toData(f)
	ups := make([]firestore.Update, 0, len(data))
	for _, k := range f.Keys() {
		ups = append(ups, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: data[k]})
	}
	return ups
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if !docstore.IsDocument(path) {
		return docstore.Document{}, fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	snap, err := s.client.Doc(path).Get(ctx)
	if notFound(err) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, err
	}
	return fromSnapshot(path, snap), nil
}

func (s *Store) Add(ctx context.Context, collection string, f docstore.Fields) (string, error) {
	if !docstore.IsCollection(collection) {
		return "", fmt.Errorf("%w: %q", docstore.ErrBadPath, collection)
	}
	ref, _, err := s.client.Collection(collection).Add(ctx, toData(f))
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (s *Store) Set(ctx context.Context, path string, f docstore.Fields) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	_, err := s.client.Doc(path).Set(ctx, toData(f))
	return err
}

func (s *Store) Update(ctx context.Context, path string, f docstore.Fields) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	_, err := s.client.Doc(path).Update(ctx, toUpdates(f))
	if notFound(err) {
		return docstore.ErrNotFound
	}
	return err
}

// UpdateFunc runs fn inside a Firestore transaction, which retries on
// contention.
func (s *Store) UpdateFunc(ctx context.Context, path string, fn docstore.Mutation) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	ref := s.client.Doc(path)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		f, err := fn(fromSnapshot(path, snap))
		if err != nil {
			return err
		}
		return tx.Update(ref, toUpdates(f))
	}, firestore.MaxAttempts(maxTxnAttempts))
	if notFound(err) {
		return docstore.ErrNotFound
	}
	return err
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if !docstore.IsDocument(path) {
		return fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	_, err := s.client.Doc(path).Delete(ctx)
	return err
}

func (s *Store) query(q docstore.Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	for _, w := range q.Where {
		fq = fq.Where(w.Field, "==", w.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Direction == docstore.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	} else if q.Direction == docstore.Desc {
		fq = fq.OrderBy(firestore.DocumentID, firestore.Desc)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if !docstore.IsCollection(q.Collection) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrBadPath, q.Collection)
	}
	snaps, err := s.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return fromSnapshots(q.Collection, snaps), nil
}

// Subscribe relays query snapshot listener updates.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn func([]docstore.Document)) (*docstore.Subscription, error) {
	if !docstore.IsCollection(q.Collection) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrBadPath, q.Collection)
	}
	sub, sctx := docstore.NewSubscription(ctx, fn)
	it := s.query(q).Snapshots(sctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if sctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				s.log.Warn("snapshot listener failed",
					zap.String("collection", q.Collection), zap.Error(err))
				sub.Fail(err)
				return
			}
			snaps, err := snap.Documents.GetAll()
			if err != nil {
				sub.Fail(err)
				return
			}
			sub.Deliver(fromSnapshots(q.Collection, snaps))
		}
	}()
	return sub, nil
}

func (s *Store) Batch() docstore.Batch {
	return &batch{s: s}
}

// Ping reads at most one document; an empty database is healthy.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Collection("maps").Limit(1).Documents(ctx).Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}

func fromSnapshot(path string, snap *firestore.DocumentSnapshot) docstore.Document {
	return docstore.NewDocument(path, snap.UpdateTime.String(), snap.DataTo)
}

func fromSnapshots(collection string, snaps []*firestore.DocumentSnapshot) []docstore.Document {
	out := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, fromSnapshot(docstore.Join(collection, snap.Ref.ID), snap))
	}
	return out
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

// Commit writes the deletes as one atomic Firestore batch.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.paths) > docstore.MaxBatchSize {
		return docstore.ErrBatchTooLarge
	}
	if len(b.paths) == 0 {
		return nil
	}
	wb := b.s.client.Batch()
	for _, p := range b.paths {
		if !docstore.IsDocument(p) {
			return fmt.Errorf("%w: %q", docstore.ErrBadPath, p)
		}
		wb.Delete(b.s.client.Doc(p))
	}
	_, err := wb.Commit(ctx)
	return err
}
