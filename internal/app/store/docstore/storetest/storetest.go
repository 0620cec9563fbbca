// Package storetest is a behavioral suite every docstore.Store backend must
// pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Root collection names passed to the
// tests are unique per call so backends may share a database.
type Factory func(t *testing.T) docstore.Store

type item struct {
	Name  string    `bson:"name" firestore:"name"`
	Rank  int64     `bson:"rank" firestore:"rank"`
	Owner string    `bson:"owner,omitempty" firestore:"owner,omitempty"`
	At    time.Time `bson:"at,omitempty" firestore:"at,omitempty"`
}

var seq int
var seqMu sync.Mutex

func uniqueRoot(prefix string) string {
	seqMu.Lock()
	defer seqMu.Unlock()
	seq++
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), seq)
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SetGet", func(t *testing.T) { testSetGet(t, newStore(t)) })
	t.Run("AddAssignsID", func(t *testing.T) { testAdd(t, newStore(t)) })
	t.Run("UpdateMerges", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("UpdateFuncSerializes", func(t *testing.T) { testUpdateFunc(t, newStore(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("QueryOrderFilterLimit", func(t *testing.T) { testQuery(t, newStore(t)) })
	t.Run("ServerTimestamp", func(t *testing.T) { testServerTimestamp(t, newStore(t)) })
	t.Run("BatchDelete", func(t *testing.T) { testBatch(t, newStore(t)) })
	t.Run("DeleteAllChunks", func(t *testing.T) { testDeleteAll(t, newStore(t)) })
	t.Run("SubscribeDelivers", func(t *testing.T) { testSubscribe(t, newStore(t)) })
	t.Run("SubscribeStops", func(t *testing.T) { testSubscribeStop(t, newStore(t)) })
	t.Run("BadPaths", func(t *testing.T) { testBadPaths(t, newStore(t)) })
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return c
}

func testSetGet(t *testing.T, s docstore.Store) {
	c := ctx(t)
	root := uniqueRoot("setget")
	path := docstore.Join(root, "a")

	_, err := s.Get(c, path)
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, s.Set(c, path, docstore.Fields{"name": "alpha", "rank": int64(1)}))
	doc, err := s.Get(c, path)
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ID)
	assert.Equal(t, path, doc.Path)
	assert.NotEmpty(t, doc.Version)

	var got item
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, item{Name: "alpha", Rank: 1}, got)

	// Set replaces the whole document.
	require.NoError(t, s.Set(c, path, docstore.Fields{"name": "beta", "rank": int64(2)}))
	doc2, err := s.Get(c, path)
	require.NoError(t, err)
	assert.NotEqual(t, doc.Version, doc2.Version)
}

func testAdd(t *testing.T, s docstore.Store) {
	c := ctx(t)
	root := uniqueRoot("add")
	coll := docstore.Join(root, "p", "children")

	id1, err := s.Add(c, coll, docstore.Fields{"name": "one", "rank": int64(1)})
	require.NoError(t, err)
	id2, err := s.Add(c, coll, docstore.Fields{"name": "two", "rank": int64(2)})
	require.NoError(t, err)
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	doc, err := s.Get(c, docstore.Join(coll, id1))
	require.NoError(t, err)
	var got item
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, "one", got.Name)
}

func testUpdate(t *testing.T, s docstore.Store) {
	c := ctx(t)
	path := docstore.Join(uniqueRoot("update"), "a")
	require.NoError(t, s.Set(c, path, docstore.Fields{"name": "alpha", "rank": int64(1)}))
	require.NoError(t, s.Update(c, path, docstore.Fields{"rank": int64(7)}))

	doc, err := s.Get(c, path)
	require.NoError(t, err)
	var got item
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, item{Name: "alpha", Rank: 7}, got)
}

func testUpdateMissing(t *testing.T, s docstore.Store) {
	c := ctx(t)
	path := docstore.Join(uniqueRoot("missing"), "nope")
	err := s.Update(c, path, docstore.Fields{"rank": int64(1)})
	require.ErrorIs(t, err, docstore.ErrNotFound)

	err = s.UpdateFunc(c, path, func(docstore.Document) (docstore.Fields, error) {
		return docstore.Fields{"rank": int64(1)}, nil
	})
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func testUpdateFunc(t *testing.T, s docstore.Store) {
	c := ctx(t)
	path := docstore.Join(uniqueRoot("counter"), "a")
	require.NoError(t, s.Set(c, path, docstore.Fields{"name": "n", "rank": int64(0)}))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.UpdateFunc(c, path, func(cur docstore.Document) (docstore.Fields, error) {
				var it item
				if err := cur.DataTo(&it); err != nil {
					return nil, err
				}
				return docstore.Fields{"rank": it.Rank + 1}, nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := s.Get(c, path)
	require.NoError(t, err)
	var got item
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, int64(workers), got.Rank, "no increment may be lost")

	// A mutation error aborts without writing.
	boom := errors.New("boom")
	err = s.UpdateFunc(c, path, func(docstore.Document) (docstore.Fields, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func testDelete(t *testing.T, s docstore.Store) {
	c := ctx(t)
	path := docstore.Join(uniqueRoot("delete"), "a")
	require.NoError(t, s.Set(c, path, docstore.Fields{"name": "x"}))
	require.NoError(t, s.Delete(c, path))
	_, err := s.Get(c, path)
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.NoError(t, s.Delete(c, path))
}

func testQuery(t *testing.T, s docstore.Store) {
	c := ctx(t)
	root := uniqueRoot("query")
	for i, owner := range []string{"u1", "u2", "u1", "u1", "u2"} {
		path := docstore.Join(root, fmt.Sprintf("d%d", i))
		require.NoError(t, s.Set(c, path, docstore.Fields{
			"name":  fmt.Sprintf("n%d", i),
			"rank":  int64(10 - i),
			"owner": owner,
		}))
	}
	// Lacks the order-by field; excluded from ordered queries.
	require.NoError(t, s.Set(c, docstore.Join(root, "unranked"), docstore.Fields{"name": "u", "owner": "u1"}))

	names := func(docs []docstore.Document) []string {
		var out []string
		for _, d := range docs {
			var it item
			require.NoError(t, d.DataTo(&it))
			out = append(out, it.Name)
		}
		return out
	}

	asc, err := s.Query(c, docstore.Query{Collection: root, OrderBy: "rank"})
	require.NoError(t, err)
	assert.Equal(t, []string{"n4", "n3", "n2", "n1", "n0"}, names(asc))

	desc, err := s.Query(c, docstore.Query{Collection: root, OrderBy: "rank", Direction: docstore.Desc, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"n0", "n1"}, names(desc))

	u1, err := s.Query(c, docstore.Query{
		Collection: root,
		Where:      []docstore.Filter{{Field: "owner", Value: "u1"}},
		OrderBy:    "rank",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n3", "n2", "n0"}, names(u1))

	all, err := s.Query(c, docstore.Query{Collection: root})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	empty, err := s.Query(c, docstore.Query{Collection: uniqueRoot("empty")})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testServerTimestamp(t *testing.T, s docstore.Store) {
	c := ctx(t)
	root := uniqueRoot("ts")
	before := time.Now().Add(-time.Minute)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Add(c, root, docstore.Fields{"name": fmt.Sprint(i), "at": docstore.ServerTimestamp})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	doc, err := s.Get(c, docstore.Join(root, ids[0]))
	require.NoError(t, err)
	var it item
	require.NoError(t, doc.DataTo(&it))
	assert.True(t, it.At.After(before), "server timestamp should be resolved to the store clock")

	docs, err := s.Query(c, docstore.Query{Collection: root, OrderBy: "at"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	var prev time.Time
	for _, d := range docs {
		var x item
		require.NoError(t, d.DataTo(&x))
		assert.False(t, x.At.Before(prev))
		prev = x.At
	}
}

func testBatch(t *testing.T, s docstore.Store) {
	c := ctx(t)
	root := uniqueRoot("batch")
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Set(c, docstore.Join(root, fmt.Sprint(i)), docstore.Fields{"name": "x"}))
	}
	b := s.Batch()
	b.Delete(docstore.Join(root, "0"))
	b.Delete(docstore.Join(root, "1"))
	assert.Equal(t, 2, b.Len())
	require.NoError(t, b.Commit(c))

	left, err := s.Query(c, docstore.Query{Collection: root})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "2", left[0].ID)

	big := s.Batch()
	for i := 0; i <= docstore.MaxBatchSize; i++ {
		big.Delete(docstore.Join(root, fmt.Sprint(i)))
	}
	require.ErrorIs(t, big.Commit(c), docstore.ErrBatchTooLarge)
}

func testDeleteAll(t *testing.T, s docstore.Store) {
	c := ctx(t)
	root := uniqueRoot("deleteall")
	const n = docstore.MaxBatchSize + 20
	for i := 0; i < n; i++ {
		require.NoError(t, s.Set(c, docstore.Join(root, fmt.Sprintf("m%04d", i)), docstore.Fields{"rank": int64(i)}))
	}

	res, err := docstore.DeleteAll(c, s, docstore.Query{Collection: root})
	require.NoError(t, err)
	assert.Equal(t, n, res.Deleted)
	assert.Equal(t, 2, res.Commits)

	left, err := s.Query(c, docstore.Query{Collection: root})
	require.NoError(t, err)
	assert.Empty(t, left)

	res, err = docstore.DeleteAll(c, s, docstore.Query{Collection: root})
	require.NoError(t, err)
	assert.Equal(t, docstore.DeleteResult{}, res)
}

// collector records snapshots delivered to a subscription.
type collector struct {
	mu    sync.Mutex
	snaps [][]string
	wake  chan struct{}
}

func newCollector() *collector {
	return &collector{wake: make(chan struct{}, 64)}
}

func (c *collector) fn(docs []docstore.Document) {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	c.mu.Lock()
	c.snaps = append(c.snaps, ids)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *collector) last() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) == 0 {
		return nil
	}
	return c.snaps[len(c.snaps)-1]
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

// waitFor blocks until the latest snapshot equals want.
func (c *collector) waitFor(t *testing.T, want []string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		got := c.last()
		if (len(want) == 0 && c.count() > 0 && len(got) == 0) || (len(want) > 0 && assert.ObjectsAreEqual(want, got)) {
			return
		}
		select {
		case <-c.wake:
		case <-deadline:
			t.Fatalf("timeout waiting for snapshot %v, last %v", want, got)
		}
	}
}

func testSubscribe(t *testing.T, s docstore.Store) {
	c := ctx(t)
	root := uniqueRoot("sub")
	require.NoError(t, s.Set(c, docstore.Join(root, "a"), docstore.Fields{"rank": int64(1)}))

	col := newCollector()
	sub, err := s.Subscribe(c, docstore.Query{Collection: root, OrderBy: "rank"}, col.fn)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	col.waitFor(t, []string{"a"})

	require.NoError(t, s.Set(c, docstore.Join(root, "b"), docstore.Fields{"rank": int64(2)}))
	col.waitFor(t, []string{"a", "b"})

	require.NoError(t, s.Update(c, docstore.Join(root, "a"), docstore.Fields{"rank": int64(3)}))
	col.waitFor(t, []string{"b", "a"})

	require.NoError(t, s.Delete(c, docstore.Join(root, "b")))
	col.waitFor(t, []string{"a"})

	// Writes to another collection never reach this listener.
	n := col.count()
	require.NoError(t, s.Set(c, docstore.Join(uniqueRoot("other"), "z"), docstore.Fields{"rank": int64(1)}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, col.count())
}

func testSubscribeStop(t *testing.T, s docstore.Store) {
	c := ctx(t)
	root := uniqueRoot("substop")

	col := newCollector()
	sub, err := s.Subscribe(c, docstore.Query{Collection: root, OrderBy: "rank"}, col.fn)
	require.NoError(t, err)
	col.waitFor(t, nil)

	sub.Unsubscribe()
	sub.Unsubscribe()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	assert.False(t, sub.Active())

	n := col.count()
	require.NoError(t, s.Set(c, docstore.Join(root, "late"), docstore.Fields{"rank": int64(1)}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, col.count(), "no delivery after unsubscribe")
}

func testBadPaths(t *testing.T, s docstore.Store) {
	c := ctx(t)
	_, err := s.Get(c, "maps")
	assert.ErrorIs(t, err, docstore.ErrBadPath)
	_, err = s.Add(c, "maps/x", docstore.Fields{})
	assert.ErrorIs(t, err, docstore.ErrBadPath)
	_, err = s.Query(c, docstore.Query{Collection: "maps/x"})
	assert.ErrorIs(t, err, docstore.ErrBadPath)
}
