// internal/domain/models/activity.go
package models

import (
	"fmt"
	"time"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
)

// Activity types recorded in a user's history.
const (
	ActivityRenameUser     = "rename_user"
	ActivityCreateMap      = "create_map"
	ActivityRenameMap      = "rename_map"
	ActivityDeleteMap      = "delete_map"
	ActivityCreateMarker   = "create_marker"
	ActivityEditMarker     = "edit_marker"
	ActivityEditMarkerNote = "edit_marker_note"
	ActivityEditMarkerMeta = "edit_marker_meta"
	ActivityCommentMarker  = "comment_marker"
	ActivityDeleteMarker   = "delete_marker"
	ActivityClearMarkers   = "clear_markers"
)

// ActivityTypes lists every recorded type; the Mongo validator uses it as
// an enum.
var ActivityTypes = []string{
	ActivityRenameUser,
	ActivityCreateMap,
	ActivityRenameMap,
	ActivityDeleteMap,
	ActivityCreateMarker,
	ActivityEditMarker,
	ActivityEditMarkerNote,
	ActivityEditMarkerMeta,
	ActivityCommentMarker,
	ActivityDeleteMarker,
	ActivityClearMarkers,
}

// Activity is one append-only entry in users/{uid}/activities.
type Activity struct {
	ID        string         `bson:"-" firestore:"-" json:"id"`
	Type      string         `bson:"type" firestore:"type" json:"type"`
	Message   string         `bson:"message" firestore:"message" json:"message"`
	Detail    map[string]any `bson:"detail,omitempty" firestore:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time      `bson:"createdAt" firestore:"createdAt" json:"createdAt"`
}

// ActivityDoc is the stored activity shape used for validation on read.
type ActivityDoc struct {
	Type      *string        `bson:"type" firestore:"type"`
	Message   string         `bson:"message" firestore:"message"`
	Detail    map[string]any `bson:"detail,omitempty" firestore:"detail,omitempty"`
	CreatedAt *time.Time     `bson:"createdAt" firestore:"createdAt"`
}

// ToActivity validates the stored document and converts it.
func (d ActivityDoc) ToActivity(id string) (Activity, error) {
	if d.Type == nil || *d.Type == "" {
		return Activity{}, fmt.Errorf("%w: activity %s: missing type", apperr.ErrInvalidDocument, id)
	}
	if d.CreatedAt == nil {
		return Activity{}, fmt.Errorf("%w: activity %s: missing createdAt", apperr.ErrInvalidDocument, id)
	}
	return Activity{
		ID:        id,
		Type:      *d.Type,
		Message:   d.Message,
		Detail:    d.Detail,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}
