// internal/app/store/users/userstore.go
package userstore

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/app/system/activitylog"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"go.uber.org/zap"
)

// Collection holds one profile document per user, keyed by provider uid.
const Collection = "users"

// Path returns the profile document path.
func Path(uid string) string {
	return docstore.Join(Collection, uid)
}

type Store struct {
	ds       docstore.Store
	activity *activitylog.Logger
	log      *zap.Logger
}

func New(ds docstore.Store, activity *activitylog.Logger, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{ds: ds, activity: activity, log: log}
}

// normalizeName trims whitespace. A blank name becomes
// models.DefaultUserName.
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.DefaultUserName
	}
	return name
}

// Get loads a profile. A missing profile is apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, uid string) (models.Profile, error) {
	if uid == "" {
		return models.Profile{}, apperr.Validation("user id is required")
	}
	doc, err := s.ds.Get(ctx, Path(uid))
	if err != nil {
		return models.Profile{}, apperr.Read("users.get", err)
	}
	var p models.Profile
	if err := doc.DataTo(&p); err != nil {
		return models.Profile{}, apperr.Read("users.get", err)
	}
	p.ID = uid
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// Ensure returns the profile for uid, creating it from the sign-in identity
// on first use. Existing profiles are left as they are so that a rename is
// not overwritten by the provider's name on the next sign-in.
func (s *Store) Ensure(ctx context.Context, uid, name, email string) (models.Profile, error) {
	p, err := s.Get(ctx, uid)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return models.Profile{}, err
	}

	err = s.ds.Set(ctx, Path(uid), docstore.Fields{
		"name":      normalizeName(name),
		"email":     strings.ToLower(strings.TrimSpace(email)),
		"createdAt": docstore.ServerTimestamp,
	})
	if err != nil {
		return models.Profile{}, apperr.Write("users.ensure", err)
	}
	s.log.Info("profile created", zap.String("user_id", uid))
	return s.Get(ctx, uid)
}

// Rename sets the display name and returns the stored value.
func (s *Store) Rename(ctx context.Context, uid, name string) (string, error) {
	if uid == "" {
		return "", apperr.Validation("user id is required")
	}
	name = normalizeName(name)
	if err := s.ds.Update(ctx, Path(uid), docstore.Fields{"name": name}); err != nil {
		return "", apperr.Write("users.rename", err)
	}
	s.activity.UserRenamed(ctx, uid, name)
	return name, nil
}

// Delete removes the profile document. Maps owned by the user are kept.
func (s *Store) Delete(ctx context.Context, uid string) error {
	if uid == "" {
		return apperr.Validation("user id is required")
	}
	return apperr.Write("users.delete", s.ds.Delete(ctx, Path(uid)))
}
