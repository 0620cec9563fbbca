package txn_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/app/system/txn"
	"github.com/dalemusser/selfmap/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap/zaptest"
)

func TestIsNotSupported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		// Standalone mongod rejecting the session a marker purge opens.
		{"standalone server", mongo.CommandError{
			Code:    20,
			Message: "Transaction numbers are only allowed on a replica set member or mongos",
		}, true},
		{"purge wrapped", fmt.Errorf("maps/m1/markers: %w", mongo.CommandError{Code: 20, Name: "IllegalOperation"}), true},
		{"older servers", mongo.CommandError{Code: 51}, true},
		{"collection created inside a transaction", mongo.CommandError{
			Code:    263,
			Message: "Cannot run 'create' in a multi-document transaction",
		}, true},
		{"driver session message", errors.New("session operations are not supported by this deployment"), true},

		// Failures a delete batch must surface instead of retrying without a transaction.
		{"batch too large", docstore.ErrBatchTooLarge, false},
		{"bad path", fmt.Errorf("%w: %q", docstore.ErrBadPath, "maps"), false},
		{"deadline", context.DeadlineExceeded, false},
		{"disconnected", mongo.ErrClientDisconnected, false},
		{"write conflict", mongo.CommandError{Code: 112, Name: "WriteConflict", Message: "WriteConflict error"}, false},
		{"transaction aborted by conflict", errors.New("transaction 3 has been aborted"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, txn.IsNotSupported(tt.err), "err: %v", tt.err)
		})
	}
}

func TestRun_AppliesWrites(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	markers := db.Collection("markers")

	_, err := markers.InsertMany(ctx, []any{
		bson.M{"_id": "maps/m1/markers/a"},
		bson.M{"_id": "maps/m1/markers/b"},
		bson.M{"_id": "maps/m2/markers/c"},
	})
	require.NoError(t, err)

	// Runs once in a transaction, or again without one on a standalone server.
	err = txn.Run(ctx, db.Client(), zaptest.NewLogger(t), func(ctx context.Context) error {
		_, err := markers.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": []string{"maps/m1/markers/a", "maps/m1/markers/b"}}})
		return err
	})
	require.NoError(t, err)

	n, err := markers.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRun_ReturnsFnError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	boom := errors.New("purge interrupted")
	calls := 0
	err := txn.Run(ctx, db.Client(), nil, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "an ordinary failure must not trigger the fallback")
}
