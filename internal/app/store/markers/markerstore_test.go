package markerstore_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/activity"
	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/app/store/docstore/memstore"
	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	markerstore "github.com/dalemusser/selfmap/internal/app/store/markers"
	"github.com/dalemusser/selfmap/internal/app/system/activitylog"
	"github.com/dalemusser/selfmap/internal/app/system/geoloc"
	"github.com/dalemusser/selfmap/internal/app/system/imageenc"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeocoder struct {
	mu    sync.Mutex
	addr  string
	calls int
}

func (g *fakeGeocoder) ReverseGeocode(context.Context, float64, float64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.addr
}

type fixture struct {
	ds      *memstore.Store
	maps    *mapstore.Store
	markers *markerstore.Store
	geo     *fakeGeocoder
	acts    *activity.Store
	log     *activitylog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ds := memstore.New()
	t.Cleanup(func() { ds.Close(context.Background()) })
	acts := activity.New(ds, nil)
	log := activitylog.New(acts, nil, activitylog.ModeDB)
	geo := &fakeGeocoder{addr: "Taipei 101, Xinyi District"}
	return &fixture{
		ds:      ds,
		maps:    mapstore.New(ds, log, nil),
		markers: markerstore.New(ds, imageenc.New(), geo, log, nil),
		geo:     geo,
		acts:    acts,
		log:     log,
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (f *fixture) newMap(t *testing.T, owner string) models.Map {
	t.Helper()
	m, err := f.maps.Create(context.Background(), owner, "Trip")
	require.NoError(t, err)
	return m
}

func (f *fixture) seed(t *testing.T, mapID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, f.ds.Set(ctx, markerstore.Path(mapID, fmt.Sprintf("k%04d", i)), docstore.Fields{
			"lat": 1.0, "lng": 2.0, "createdAt": docstore.ServerTimestamp, "title": "seed",
		}))
	}
}

var here = geoloc.Fixed{Lat: 25.03, Lng: 121.56}

func TestStore_TripScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.maps.Create(ctx, "U", "Trip")
	require.NoError(t, err)
	list, err := f.maps.ListByOwner(ctx, "U")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Trip", list[0].Title)

	mk, err := f.markers.Create(ctx, "U", m.ID, here, pngBytes(t, 2000, 2000))
	require.NoError(t, err)
	assert.Equal(t, 25.03, mk.Lat)
	assert.Equal(t, 121.56, mk.Lng)
	assert.Equal(t, models.DefaultMarkerTitle, mk.Title)
	assert.Equal(t, "Taipei 101, Xinyi District", mk.Address)
	assert.Empty(t, mk.Note)
	assert.Empty(t, mk.Comments)
	require.NotNil(t, mk.CreatedBy)
	assert.Equal(t, "U", *mk.CreatedBy)

	raw, err := imageenc.DecodeDataURI(mk.PhotoBase64)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 1024)
	assert.LessOrEqual(t, cfg.Height, 1024)

	_, err = f.markers.AddOrReplaceComment(ctx, m.ID, mk.ID, "A", "Amy", "nice!")
	require.NoError(t, err)
	_, err = f.markers.AddOrReplaceComment(ctx, m.ID, mk.ID, "A", "Amy", "great!")
	require.NoError(t, err)

	got, err := f.markers.Get(ctx, m.ID, mk.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, "great!", got.Comments[0].Text)
	assert.Equal(t, "A", got.Comments[0].AuthorUID)

	res, err := f.markers.ClearAll(ctx, "U", m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	markers, err := f.markers.List(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, markers)
	_, err = f.maps.Get(ctx, m.ID)
	assert.NoError(t, err, "map document must survive clearAll")
}

func TestStore_CreateGeolocationFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	m := f.newMap(t, "U")
	before := f.ds.Stats().Writes

	_, err := f.markers.Create(context.Background(), "U", m.ID, geoloc.Denied, pngBytes(t, 10, 10))
	assert.ErrorIs(t, err, apperr.ErrGeolocation)
	assert.Equal(t, before, f.ds.Stats().Writes)
	assert.Equal(t, 0, f.ds.Count(markerstore.Collection(m.ID)))
	assert.Equal(t, 0, f.geo.calls)
}

func TestStore_CreateDecodeFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	m := f.newMap(t, "U")

	_, err := f.markers.Create(context.Background(), "U", m.ID, here, []byte("not an image"))
	assert.ErrorIs(t, err, apperr.ErrDecode)
	assert.Equal(t, 0, f.ds.Count(markerstore.Collection(m.ID)))
}

func TestStore_CreateWithoutUserOrAddress(t *testing.T) {
	f := newFixture(t)
	f.geo.addr = ""
	m := f.newMap(t, "U")

	mk, err := f.markers.Create(context.Background(), "", m.ID, here, nil)
	require.NoError(t, err)
	assert.Nil(t, mk.CreatedBy)
	assert.Empty(t, mk.Address)
	assert.Empty(t, mk.PhotoBase64)
}

func TestStore_ListOldestFirstAndDefaultCenter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")

	assert.Equal(t, markerstore.FallbackCenter, markerstore.DefaultCenter(nil))

	for i, pos := range []geoloc.Fixed{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}, {Lat: 3, Lng: 3}} {
		_, err := f.markers.Create(ctx, "U", m.ID, pos, nil)
		require.NoError(t, err, "marker %d", i)
	}
	list, err := f.markers.List(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 1.0, list[0].Lat)
	assert.Equal(t, 3.0, list[2].Lat)
	assert.Equal(t, models.LatLng{Lat: 3, Lng: 3}, markerstore.DefaultCenter(list))
}

func TestStore_UpdateMetaAndNotePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	mk, err := f.markers.Create(ctx, "A", m.ID, here, nil)
	require.NoError(t, err)

	require.NoError(t, f.markers.UpdateMeta(ctx, "A", m.ID, mk.ID, "   ", "Somewhere"))
	got, err := f.markers.Get(ctx, m.ID, mk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMarkerTitle, got.Title)
	assert.Equal(t, "Somewhere", got.Address)

	require.NoError(t, f.markers.UpdateNote(ctx, "A", m.ID, mk.ID, "secret spot"))
	got, err = f.markers.Get(ctx, m.ID, mk.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret spot", got.Note)
	assert.Empty(t, got.Redacted("B").Note)

	err = f.markers.UpdateMeta(ctx, "B", m.ID, mk.ID, "mine now", "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.False(t, errors.Is(err, apperr.ErrRemoteWrite))
	assert.ErrorIs(t, f.markers.UpdateNote(ctx, "B", m.ID, mk.ID, "x"), apperr.ErrForbidden)

	assert.ErrorIs(t, f.markers.UpdateNote(ctx, "A", m.ID, "missing", "x"), apperr.ErrNotFound)
}

func TestStore_TextStoredAsTrimmedInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	mk, err := f.markers.Create(ctx, "A", m.ID, here, nil)
	require.NoError(t, err)

	require.NoError(t, f.markers.UpdateMeta(ctx, "A", m.ID, mk.ID, " <Home> ", "a<b>c"))
	require.NoError(t, f.markers.UpdateNote(ctx, "A", m.ID, mk.ID, "gate code <1234> &amp; bell"))
	comments, err := f.markers.AddOrReplaceComment(ctx, m.ID, mk.ID, "B", "<Bo>", " <3 ")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "<3", comments[0].Text)
	assert.Equal(t, "<Bo>", comments[0].AuthorName)

	got, err := f.markers.Get(ctx, m.ID, mk.ID)
	require.NoError(t, err)
	assert.Equal(t, "<Home>", got.Title)
	assert.Equal(t, "a<b>c", got.Address)
	assert.Equal(t, "gate code <1234> &amp; bell", got.Note)
}

func TestStore_EditInvalidStoredMarkerIsReadError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	require.NoError(t, f.ds.Set(ctx, markerstore.Path(m.ID, "broken"), docstore.Fields{
		"lng": 2.0, "createdAt": docstore.ServerTimestamp,
	}))
	writes := f.ds.Stats().Writes

	_, commentErr := f.markers.AddOrReplaceComment(ctx, m.ID, "broken", "U", "U", "hi")
	checks := map[string]error{
		"note":    f.markers.UpdateNote(ctx, "U", m.ID, "broken", "x"),
		"meta":    f.markers.UpdateMeta(ctx, "U", m.ID, "broken", "t", ""),
		"comment": commentErr,
	}
	for name, err := range checks {
		assert.ErrorIs(t, err, apperr.ErrInvalidDocument, name)
		assert.ErrorIs(t, err, apperr.ErrRemoteRead, name)
		assert.False(t, errors.Is(err, apperr.ErrRemoteWrite), name)
	}
	assert.Equal(t, writes, f.ds.Stats().Writes)
}

func TestStore_LegacyMarkerEditableByAnyone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	f.seed(t, m.ID, 1)

	require.NoError(t, f.markers.UpdateMeta(ctx, "B", m.ID, "k0000", "claimed", ""))
	got, err := f.markers.Get(ctx, m.ID, "k0000")
	require.NoError(t, err)
	assert.Nil(t, got.CreatedBy)
	assert.Equal(t, "claimed", got.Title)
	assert.NotNil(t, got.Comments)
}

func TestStore_CommentAtMostOnePerAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	mk, err := f.markers.Create(ctx, "U", m.ID, here, nil)
	require.NoError(t, err)

	_, err = f.markers.AddOrReplaceComment(ctx, m.ID, mk.ID, "A", "Amy", "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	seq := []struct{ uid, text string }{
		{"A", "one"}, {"B", "two"}, {"A", "three"}, {"C", "four"}, {"B", "five"}, {"A", "six"},
	}
	for _, s := range seq {
		_, err := f.markers.AddOrReplaceComment(ctx, m.ID, mk.ID, s.uid, s.uid, s.text)
		require.NoError(t, err)
	}
	got, err := f.markers.Get(ctx, m.ID, mk.ID)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, c := range got.Comments {
		counts[c.AuthorUID]++
	}
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, counts)
	require.Len(t, got.Comments, 3)
	assert.Equal(t, []string{"four", "five", "six"},
		[]string{got.Comments[0].Text, got.Comments[1].Text, got.Comments[2].Text})
}

func TestStore_ConcurrentCommentsAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	mk, err := f.markers.Create(ctx, "U", m.ID, here, nil)
	require.NoError(t, err)

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.markers.AddOrReplaceComment(ctx, m.ID, mk.ID, fmt.Sprintf("u%d", i), "viewer", "hi")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.markers.Get(ctx, m.ID, mk.ID)
	require.NoError(t, err)
	assert.Len(t, got.Comments, n)
}

func TestStore_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	byA, err := f.markers.Create(ctx, "A", m.ID, here, nil)
	require.NoError(t, err)
	byA2, err := f.markers.Create(ctx, "A", m.ID, here, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.markers.Delete(ctx, "B", m.ID, byA.ID), apperr.ErrForbidden)
	require.NoError(t, f.markers.Delete(ctx, "A", m.ID, byA.ID))
	require.NoError(t, f.markers.Delete(ctx, "U", m.ID, byA2.ID), "map owner may delete")
	assert.ErrorIs(t, f.markers.Delete(ctx, "A", m.ID, byA.ID), apperr.ErrNotFound)
}

func TestStore_DeleteFailureWrapsErrDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	mk, err := f.markers.Create(ctx, "U", m.ID, here, nil)
	require.NoError(t, err)

	f.ds.SetWriteHook(func(op, _ string) error {
		if op == "delete" {
			return errors.New("permission denied")
		}
		return nil
	})
	err = f.markers.Delete(ctx, "U", m.ID, mk.ID)
	assert.ErrorIs(t, err, apperr.ErrDelete)
	assert.ErrorIs(t, err, apperr.ErrRemoteWrite)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestStore_ClearAllBatchBoundaries(t *testing.T) {
	for _, tc := range []struct {
		markers int
		commits int
	}{
		{0, 0},
		{1, 1},
		{500, 1},
		{501, 2},
		{1000, 2},
		{1001, 3},
	} {
		t.Run(fmt.Sprint(tc.markers), func(t *testing.T) {
			f := newFixture(t)
			m := f.newMap(t, "U")
			f.seed(t, m.ID, tc.markers)
			before := f.ds.Stats().BatchCommits

			res, err := f.markers.ClearAll(context.Background(), "U", m.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.commits, f.ds.Stats().BatchCommits-before)
			assert.Equal(t, tc.commits, res.Commits)
			assert.Equal(t, tc.markers, res.Deleted)
			assert.Equal(t, 0, f.ds.Count(markerstore.Collection(m.ID)))
		})
	}
}

func TestStore_ClearAllEmptyIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	require.NoError(t, f.log.Wait(ctx))
	before := f.ds.Stats()

	for i := 0; i < 2; i++ {
		res, err := f.markers.ClearAll(ctx, "U", m.ID)
		require.NoError(t, err)
		assert.Zero(t, res.Deleted)
	}
	require.NoError(t, f.log.Wait(ctx))
	assert.Equal(t, before, f.ds.Stats())
}

func TestStore_ClearAllPartialFailureThenResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")
	f.seed(t, m.ID, 1200)

	boom := errors.New("deadline exceeded")
	f.ds.SetCommitHook(func(n int) error {
		if n == 2 {
			return boom
		}
		return nil
	})
	res, err := f.markers.ClearAll(ctx, "U", m.ID)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 500, res.Deleted)
	assert.Equal(t, 700, f.ds.Count(markerstore.Collection(m.ID)))

	f.ds.SetCommitHook(nil)
	res, err = f.markers.ClearAll(ctx, "U", m.ID)
	require.NoError(t, err)
	assert.Equal(t, 700, res.Deleted)
	assert.Equal(t, 0, f.ds.Count(markerstore.Collection(m.ID)))
}

func TestStore_ClearAllOwnerOnly(t *testing.T) {
	f := newFixture(t)
	m := f.newMap(t, "U")
	f.seed(t, m.ID, 3)

	_, err := f.markers.ClearAll(context.Background(), "B", m.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, 3, f.ds.Count(markerstore.Collection(m.ID)))
}

func TestStore_SubscribeSeesEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.newMap(t, "U")

	snaps := make(chan []models.Marker, 16)
	sub, err := f.markers.Subscribe(ctx, m.ID, func(ms []models.Marker) { snaps <- ms })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	next := func() []models.Marker {
		select {
		case s := <-snaps:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot")
			return nil
		}
	}
	assert.Empty(t, next())

	mk, err := f.markers.Create(ctx, "U", m.ID, here, nil)
	require.NoError(t, err)
	require.Len(t, next(), 1)

	require.NoError(t, f.markers.UpdateMeta(ctx, "U", m.ID, mk.ID, "Summit", ""))
	got := next()
	require.Len(t, got, 1)
	assert.Equal(t, "Summit", got[0].Title)
}
