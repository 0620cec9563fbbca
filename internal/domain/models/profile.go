// internal/domain/models/profile.go
package models

import "time"

// DefaultUserName is used when a display name is blank.
const DefaultUserName = "unnamed user"

// Profile is the users/{uid} document kept alongside the auth provider's
// record.
//
// NOTE:
//   - Deleting a profile cascades nothing; maps owned by the user remain.
type Profile struct {
	ID        string    `bson:"-" firestore:"-" json:"id"`
	Name      string    `bson:"name" firestore:"name" json:"name"`
	Email     string    `bson:"email" firestore:"email" json:"email"`
	CreatedAt time.Time `bson:"createdAt" firestore:"createdAt" json:"createdAt"`
}

// DisplayName returns the name or DefaultUserName.
func (p Profile) DisplayName() string {
	if p.Name == "" {
		return DefaultUserName
	}
	return p.Name
}
