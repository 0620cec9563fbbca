package activity_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/dalemusser/selfmap/internal/app/store/activity"
	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/app/store/docstore/memstore"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_RecentNewestFirstAndCapped(t *testing.T) {
	ds := memstore.New()
	store := activity.New(ds, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < activity.RecentLimit+5; i++ {
		_, err := store.Create(ctx, "u1", models.Activity{
			Type:    models.ActivityCreateMarker,
			Message: fmt.Sprintf("marker %d", i),
		})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, "u2", models.Activity{Type: models.ActivityCreateMap, Message: "other user"})
	require.NoError(t, err)

	got, err := store.Recent(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, activity.RecentLimit)
	assert.Equal(t, fmt.Sprintf("marker %d", activity.RecentLimit+4), got[0].Message)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].CreatedAt.After(got[i].CreatedAt))
	}
}

func TestStore_CreateRequiresUser(t *testing.T) {
	store := activity.New(memstore.New(), nil)
	_, err := store.Create(context.Background(), "", models.Activity{Type: models.ActivityCreateMap})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStore_DetailRoundTrip(t *testing.T) {
	store := activity.New(memstore.New(), nil)
	ctx := context.Background()
	_, err := store.Create(ctx, "u1", models.Activity{
		Type:    models.ActivityEditMarker,
		Message: "edited",
		Detail:  map[string]any{"mapId": "m1", "markerId": "k1"},
	})
	require.NoError(t, err)

	got, err := store.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Detail["mapId"])
	assert.Equal(t, models.ActivityEditMarker, got[0].Type)
}

func TestStore_DropsInvalidDocuments(t *testing.T) {
	ds := memstore.New()
	store := activity.New(ds, nil)
	ctx := context.Background()

	_, err := store.Create(ctx, "u1", models.Activity{Type: models.ActivityCreateMap, Message: "ok"})
	require.NoError(t, err)
	// Missing type.
	require.NoError(t, ds.Set(ctx, activity.Collection("u1")+"/bad", docstore.Fields{
		"message":   "broken",
		"createdAt": docstore.ServerTimestamp,
	}))

	got, err := store.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Message)
}

func TestStore_ClearChunks(t *testing.T) {
	ds := memstore.New()
	store := activity.New(ds, nil)
	ctx := context.Background()

	for i := 0; i < docstore.MaxBatchSize+1; i++ {
		_, err := store.Create(ctx, "u1", models.Activity{Type: models.ActivityCreateMarker, Message: "x"})
		require.NoError(t, err)
	}
	res, err := store.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Commits)
	assert.Equal(t, docstore.MaxBatchSize+1, res.Deleted)
	assert.Zero(t, ds.Count(activity.Collection("u1")))

	res, err = store.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, res.Commits)
}

func TestStore_Subscribe(t *testing.T) {
	store := activity.New(memstore.New(), nil)
	ctx := context.Background()

	updates := make(chan []models.Activity, 16)
	sub, err := store.Subscribe(ctx, "u1", func(a []models.Activity) { updates <- a })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := <-updates
	assert.Empty(t, first)

	_, err = store.Create(ctx, "u1", models.Activity{Type: models.ActivityRenameUser, Message: "renamed"})
	require.NoError(t, err)
	next := <-updates
	require.Len(t, next, 1)
	assert.Equal(t, "renamed", next[0].Message)
}
