// internal/domain/models/mapdoc.go
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
)

// DefaultMapTitle is shown for maps whose stored title is blank.
const DefaultMapTitle = "(untitled)"

// Map is a named, owner-scoped collection of markers.
//
// NOTE:
//   - Markers are a subcollection (maps/{id}/markers), never embedded.
//   - Deleting is only set while a cascading delete is in progress; maps in
//     that state are hidden from listings and resumed by the sweeper.
type Map struct {
	ID        string    `bson:"-" firestore:"-" json:"id"`
	Title     string    `bson:"title" firestore:"title" json:"title"`
	OwnerUID  string    `bson:"ownerUid" firestore:"ownerUid" json:"ownerUid"`
	CreatedAt time.Time `bson:"createdAt" firestore:"createdAt" json:"createdAt"`
	Deleting  bool      `bson:"deleting,omitempty" firestore:"deleting,omitempty" json:"-"`
}

// DisplayTitle returns the title or DefaultMapTitle when it is blank.
func (m Map) DisplayTitle() string {
	if t := strings.TrimSpace(m.Title); t != "" {
		return t
	}
	return DefaultMapTitle
}

// MapDoc is the stored shape of a map with required fields as pointers so
// that missing fields can be told apart from zero values.
type MapDoc struct {
	Title     *string    `bson:"title" firestore:"title"`
	OwnerUID  *string    `bson:"ownerUid" firestore:"ownerUid"`
	CreatedAt *time.Time `bson:"createdAt" firestore:"createdAt"`
	Deleting  bool       `bson:"deleting,omitempty" firestore:"deleting,omitempty"`
}

// ToMap validates the stored document and converts it.
// Title may be absent (legacy documents); owner and creation time may not.
func (d MapDoc) ToMap(id string) (Map, error) {
	if d.OwnerUID == nil || *d.OwnerUID == "" {
		return Map{}, fmt.Errorf("%w: map %s: missing ownerUid", apperr.ErrInvalidDocument, id)
	}
	if d.CreatedAt == nil {
		return Map{}, fmt.Errorf("%w: map %s: missing createdAt", apperr.ErrInvalidDocument, id)
	}
	m := Map{
		ID:        id,
		OwnerUID:  *d.OwnerUID,
		CreatedAt: d.CreatedAt.UTC(),
		Deleting:  d.Deleting,
	}
	if d.Title != nil {
		m.Title = *d.Title
	}
	return m, nil
}
