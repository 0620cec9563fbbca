package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
)

func TestMapDoc_ToMap(t *testing.T) {
	now := time.Now()
	owner := "u1"

	if _, err := (models.MapDoc{CreatedAt: &now}).ToMap("a"); !errors.Is(err, apperr.ErrInvalidDocument) {
		t.Errorf("missing owner: expected ErrInvalidDocument, got %v", err)
	}
	if _, err := (models.MapDoc{OwnerUID: &owner}).ToMap("a"); !errors.Is(err, apperr.ErrInvalidDocument) {
		t.Errorf("missing createdAt: expected ErrInvalidDocument, got %v", err)
	}

	m, err := models.MapDoc{OwnerUID: &owner, CreatedAt: &now}.ToMap("a")
	if err != nil {
		t.Fatalf("ToMap: %v", err)
	}
	if m.DisplayTitle() != models.DefaultMapTitle {
		t.Errorf("DisplayTitle: got %q, want %q", m.DisplayTitle(), models.DefaultMapTitle)
	}
}
