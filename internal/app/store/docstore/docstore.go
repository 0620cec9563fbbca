// Package docstore defines the document-database capability the repositories
// are written against: single-document reads and writes, ordered equality
// queries, live subscriptions and chunked batch deletes.
//
// Paths follow the Firestore convention. A collection path has an odd number
// of segments ("maps", "maps/{mapID}/markers") and a document path an even
// number ("maps/{mapID}", "maps/{mapID}/markers/{markerID}").
//
// Implementations live in the mongostore, firestorestore and memstore
// subpackages.
package docstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
)

// MaxBatchSize is the per-batch mutation limit of the backing store.
const MaxBatchSize = 500

var (
	// ErrNotFound is returned by Get, Update and UpdateFunc for missing documents.
	ErrNotFound = apperr.ErrNotFound

	// ErrBatchTooLarge is returned by Commit when a batch holds more than
	// MaxBatchSize mutations.
	ErrBatchTooLarge = errors.New("batch exceeds 500 mutations")

	// ErrBadPath is returned for malformed collection or document paths.
	ErrBadPath = errors.New("malformed document path")
)

// Fields is a set of top-level field values to write.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is a field value the store replaces with its own clock at
// write time.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Resolve returns a copy of f with every ServerTimestamp replaced by ts.
func (f Fields) Resolve(ts time.Time) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if IsServerTimestamp(v) {
			out[k] = ts
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Direction  Direction
	Limit      int // 0 means unbounded
}

// Document is a read-only view of a stored document.
type Document struct {
	ID      string
	Path    string
	Version string // changes whenever the stored content changes
	decode  func(v any) error
}

// NewDocument builds a Document. decode populates a tagged struct.
func NewDocument(path, version string, decode func(v any) error) Document {
	_, id := Split(path)
	return Document{ID: id, Path: path, Version: version, decode: decode}
}

// DataTo decodes the document into v, a pointer to a tagged struct.
func (d Document) DataTo(v any) error {
	if d.decode == nil {
		return ErrNotFound
	}
	return d.decode(v)
}

// Mutation computes the fields to write from the current document.
type Mutation func(current Document) (Fields, error)

// Store is the capability over a document database.
type Store interface {
	// Get reads one document.
	Get(ctx context.Context, path string) (Document, error)
	// Add creates a document with a store-assigned id and returns that id.
	Add(ctx context.Context, collection string, f Fields) (string, error)
	// Set creates or overwrites a document.
	Set(ctx context.Context, path string, f Fields) error
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, path string, f Fields) error
	// UpdateFunc atomically reads a document, computes fields and writes them.
	// A concurrent write between the read and the write is never lost.
	UpdateFunc(ctx context.Context, path string, fn Mutation) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error
	// Query runs an ordered query.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe delivers the full ordered result of q now and after every
	// change until the subscription ends.
	Subscribe(ctx context.Context, q Query, fn func([]Document)) (*Subscription, error)
	// Batch starts a batch of deletes.
	Batch() Batch
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close(ctx context.Context) error
}

// Batch groups up to MaxBatchSize deletes committed together.
type Batch interface {
	Delete(path string)
	Len() int
	Commit(ctx context.Context) error
}
