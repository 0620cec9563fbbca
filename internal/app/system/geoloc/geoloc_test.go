package geoloc

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/selfmap/internal/app/system/timeouts"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		loc     Locator
		want    models.LatLng
		wantErr bool
	}{
		{"fixed", Fixed{Lat: 25.03, Lng: 121.56}, models.LatLng{Lat: 25.03, Lng: 121.56}, false},
		{"nil locator", nil, models.LatLng{}, true},
		{"denied", Denied, models.LatLng{}, true},
		{"out of range", Fixed{Lat: 91, Lng: 0}, models.LatLng{}, true},
		{"device error", Func(func(context.Context) (models.LatLng, error) {
			return models.LatLng{}, errors.New("gps off")
		}), models.LatLng{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(context.Background(), tt.loc)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrGeolocation) {
					t.Fatalf("err = %v, want ErrGeolocation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolve_Timeout(t *testing.T) {
	timeouts.Configure(timeouts.Config{Geolocation: 20 * time.Millisecond})
	t.Cleanup(timeouts.Reset)

	slow := Func(func(ctx context.Context) (models.LatLng, error) {
		select {
		case <-time.After(time.Second):
			return models.LatLng{Lat: 1, Lng: 1}, nil
		case <-ctx.Done():
			return models.LatLng{}, ctx.Err()
		}
	})
	_, err := Resolve(context.Background(), slow)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestFromRequest(t *testing.T) {
	form := url.Values{"lat": {"25.033"}, "lng": {" 121.5654 "}}
	r := httptest.NewRequest("POST", "/", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	pos, err := Resolve(context.Background(), FromRequest(r))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pos.Lat != 25.033 || pos.Lng != 121.5654 {
		t.Errorf("pos = %+v", pos)
	}

	missing := httptest.NewRequest("POST", "/", nil)
	if _, err := Resolve(context.Background(), FromRequest(missing)); !errors.Is(err, ErrDenied) {
		t.Errorf("err = %v, want ErrDenied", err)
	}
}
