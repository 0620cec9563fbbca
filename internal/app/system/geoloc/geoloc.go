// Package geoloc obtains the position a new marker is placed at. The
// position comes from the user's device; Resolve bounds the wait and maps
// every failure to apperr.ErrGeolocation.
package geoloc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/selfmap/internal/app/system/timeouts"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
)

// ErrDenied is returned when no position was provided.
var ErrDenied = fmt.Errorf("%w: position unavailable or permission denied", apperr.ErrGeolocation)

// ErrTimeout is returned when the fix did not arrive within the deadline.
var ErrTimeout = fmt.Errorf("%w: timed out waiting for position", apperr.ErrGeolocation)

// Locator produces a device position.
type Locator interface {
	Locate(ctx context.Context) (models.LatLng, error)
}

// Func adapts a function to Locator.
type Func func(ctx context.Context) (models.LatLng, error)

func (f Func) Locate(ctx context.Context) (models.LatLng, error) { return f(ctx) }

// Fixed is a position already known, such as one posted by the browser.
type Fixed models.LatLng

func (p Fixed) Locate(context.Context) (models.LatLng, error) {
	return models.LatLng(p), nil
}

// Denied is a Locator that always fails.
var Denied Locator = Func(func(context.Context) (models.LatLng, error) {
	return models.LatLng{}, ErrDenied
})

// Resolve waits up to timeouts.Geolocation for l and validates the result.
func Resolve(ctx context.Context, l Locator) (models.LatLng, error) {
	if l == nil {
		return models.LatLng{}, ErrDenied
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.Geolocation())
	defer cancel()

	type fix struct {
		pos models.LatLng
		err error
	}
	ch := make(chan fix, 1)
	go func() {
		pos, err := l.Locate(ctx)
		ch <- fix{pos, err}
	}()

	select {
	case <-ctx.Done():
		return models.LatLng{}, ErrTimeout
	case f := <-ch:
		switch {
		case f.err == nil:
		case errors.Is(f.err, apperr.ErrGeolocation):
			return models.LatLng{}, f.err
		case errors.Is(f.err, context.DeadlineExceeded):
			return models.LatLng{}, ErrTimeout
		default:
			return models.LatLng{}, fmt.Errorf("%w: %v", apperr.ErrGeolocation, f.err)
		}
		if !f.pos.Valid() {
			return models.LatLng{}, fmt.Errorf("%w: coordinates out of range", apperr.ErrGeolocation)
		}
		return f.pos, nil
	}
}

// FromRequest reads the "lat" and "lng" form values. Missing or
// unparsable values yield Denied.
func FromRequest(r *http.Request) Locator {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(r.FormValue("lat")), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(r.FormValue("lng")), 64)
	if errLat != nil || errLng != nil {
		return Denied
	}
	return Fixed{Lat: lat, Lng: lng}
}
