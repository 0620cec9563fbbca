package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	activitystore "github.com/dalemusser/selfmap/internal/app/store/activity"
	"github.com/dalemusser/selfmap/internal/app/store/docstore/memstore"
	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	markerstore "github.com/dalemusser/selfmap/internal/app/store/markers"
	userstore "github.com/dalemusser/selfmap/internal/app/store/users"
	"github.com/dalemusser/selfmap/internal/app/system/activitylog"
	"github.com/dalemusser/selfmap/internal/app/system/geoloc"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"go.uber.org/zap"
)

// StaticGeocoder answers every lookup with Address.
type StaticGeocoder struct{ Address string }

func (g StaticGeocoder) ReverseGeocode(context.Context, float64, float64) string { return g.Address }

// Env is an in-memory backend with every repository wired the way the
// server wires them.
type Env struct {
	DS       *memstore.Store
	Activity *activitystore.Store
	Log      *activitylog.Logger
	Maps     *mapstore.Store
	Markers  *markerstore.Store
	Users    *userstore.Store
	Logger   *zap.Logger
}

// NewEnv builds an Env. Activity entries go to the store only.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	ds := memstore.New()
	logger := zap.NewNop()
	acts := activitystore.New(ds, logger)
	alog := activitylog.New(acts, logger, activitylog.ModeDB)
	env := &Env{
		DS:       ds,
		Activity: acts,
		Log:      alog,
		Maps:     mapstore.New(ds, alog, logger),
		Markers:  markerstore.New(ds, nil, StaticGeocoder{Address: "Taipei 101"}, alog, logger),
		Users:    userstore.New(ds, alog, logger),
		Logger:   logger,
	}
	t.Cleanup(func() {
		_ = alog.Wait(context.Background())
		_ = ds.Close(context.Background())
	})
	return env
}

// Drain waits for pending activity appends.
func (e *Env) Drain(t *testing.T) {
	t.Helper()
	if err := e.Log.Wait(context.Background()); err != nil {
		t.Fatalf("drain activity: %v", err)
	}
}

// CreateMap creates a map owned by u.
func (e *Env) CreateMap(t *testing.T, u TestUser, title string) models.Map {
	t.Helper()
	m, err := e.Maps.Create(context.Background(), u.ID, title)
	if err != nil {
		t.Fatalf("create map: %v", err)
	}
	return m
}

// CreateMarker adds a marker by u at (lat, lng) with a small photo.
func (e *Env) CreateMarker(t *testing.T, u TestUser, mapID string, lat, lng float64) models.Marker {
	t.Helper()
	m, err := e.Markers.Create(context.Background(), u.ID, mapID, geoloc.Fixed{Lat: lat, Lng: lng}, PNG(t, 8, 8))
	if err != nil {
		t.Fatalf("create marker: %v", err)
	}
	return m
}

// PNG returns a w x h solid image encoded as PNG.
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
