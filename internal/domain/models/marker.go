// internal/domain/models/marker.go
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
)

// DefaultMarkerTitle is stored when a marker is created or edited with a
// blank title.
const DefaultMarkerTitle = "untitled"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the pair is a finite coordinate on the globe.
func (c LatLng) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Comment is one viewer's remark on a marker. A marker holds at most one
// comment per AuthorUID.
type Comment struct {
	Text       string    `bson:"text" firestore:"text" json:"text"`
	AuthorName string    `bson:"authorName" firestore:"authorName" json:"authorName"`
	AuthorUID  string    `bson:"authorUid" firestore:"authorUid" json:"authorUid"`
	CreatedAt  time.Time `bson:"createdAt" firestore:"createdAt" json:"createdAt"`
}

// Marker is a GPS-tagged photo pinned to a map.
//
// NOTE:
//   - CreatedBy is nil for markers written before the field existed.
//   - Note is private to the creator; that rule is applied when rendering
//     (see Redacted), the stored document is not access controlled.
type Marker struct {
	ID          string    `bson:"-" firestore:"-" json:"id"`
	MapID       string    `bson:"-" firestore:"-" json:"mapId"`
	Lat         float64   `bson:"lat" firestore:"lat" json:"lat"`
	Lng         float64   `bson:"lng" firestore:"lng" json:"lng"`
	PhotoBase64 string    `bson:"photoBase64" firestore:"photoBase64" json:"photoBase64"`
	Address     string    `bson:"address" firestore:"address" json:"address"`
	CreatedAt   time.Time `bson:"createdAt" firestore:"createdAt" json:"createdAt"`
	Title       string    `bson:"title" firestore:"title" json:"title"`
	Note        string    `bson:"note" firestore:"note" json:"note,omitempty"`
	CreatedBy   *string   `bson:"createdBy" firestore:"createdBy" json:"createdBy"`
	Comments    []Comment `bson:"comments" firestore:"comments" json:"comments"`
}

// Position returns the marker's coordinates.
func (m Marker) Position() LatLng {
	return LatLng{Lat: m.Lat, Lng: m.Lng}
}

// EditableBy reports whether uid may change the marker's title, address or
// note.
func (m Marker) EditableBy(uid string) bool {
	if uid == "" {
		return false
	}
	// TODO(backfill): ownerless markers predate createdBy; once a migration
	// stamps them with the map owner this allowance goes away.
	if m.CreatedBy == nil {
		return true
	}
	return *m.CreatedBy == uid
}

// Redacted returns a copy safe to show to viewer: the note is cleared unless
// the viewer created the marker.
func (m Marker) Redacted(viewer string) Marker {
	out := m
	if m.CreatedBy == nil || *m.CreatedBy != viewer {
		out.Note = ""
	}
	out.Comments = append([]Comment(nil), m.Comments...)
	return out
}

// MergeComment drops any earlier comment by c.AuthorUID and appends c.
// The input slice is not modified.
func MergeComment(comments []Comment, c Comment) []Comment {
	out := make([]Comment, 0, len(comments)+1)
	for _, existing := range comments {
		if existing.AuthorUID == c.AuthorUID {
			continue
		}
		out = append(out, existing)
	}
	return append(out, c)
}

// MarkerDoc is the stored marker shape used for validation on read.
type MarkerDoc struct {
	Lat         *float64   `bson:"lat" firestore:"lat"`
	Lng         *float64   `bson:"lng" firestore:"lng"`
	PhotoBase64 string     `bson:"photoBase64" firestore:"photoBase64"`
	Address     string     `bson:"address" firestore:"address"`
	CreatedAt   *time.Time `bson:"createdAt" firestore:"createdAt"`
	Title       string     `bson:"title" firestore:"title"`
	Note        string     `bson:"note" firestore:"note"`
	CreatedBy   *string    `bson:"createdBy" firestore:"createdBy"`
	Comments    []Comment  `bson:"comments" firestore:"comments"`
}

// ToMarker validates the stored document and converts it. Coordinates and
// the creation time are required; everything else falls back to zero values.
func (d MarkerDoc) ToMarker(mapID, id string) (Marker, error) {
	if d.Lat == nil || d.Lng == nil {
		return Marker{}, fmt.Errorf("%w: marker %s: missing coordinates", apperr.ErrInvalidDocument, id)
	}
	if d.CreatedAt == nil {
		return Marker{}, fmt.Errorf("%w: marker %s: missing createdAt", apperr.ErrInvalidDocument, id)
	}
	m := Marker{
		ID:          id,
		MapID:       mapID,
		Lat:         *d.Lat,
		Lng:         *d.Lng,
		PhotoBase64: d.PhotoBase64,
		Address:     d.Address,
		CreatedAt:   d.CreatedAt.UTC(),
		Title:       d.Title,
		Note:        d.Note,
		CreatedBy:   d.CreatedBy,
		Comments:    d.Comments,
	}
	if m.CreatedBy != nil && *m.CreatedBy == "" {
		m.CreatedBy = nil
	}
	if m.Comments == nil {
		m.Comments = []Comment{}
	}
	return m, nil
}
