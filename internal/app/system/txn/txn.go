// Package txn runs groups of MongoDB writes in a transaction when the
// deployment supports one, and sequentially when it does not (standalone
// servers used in development).
package txn

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Server error codes returned when sessions or transactions are unavailable.
var unsupportedCodes = map[int32]struct{}{
	20:  {}, // IllegalOperation: transaction numbers need a replica set
	51:  {}, // IllegalOperation (older servers)
	263: {}, // OperationNotSupportedInTransaction
}

// IsNotSupported reports whether err means the server cannot run
// multi-document transactions.
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		if _, ok := unsupportedCodes[ce.Code]; ok {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	has := func(s string) bool { return strings.Contains(msg, s) }
	switch {
	case has("illegal operation"):
		return true
	case has("transaction") && (has("replica set") || has("session")):
		return true
	case has("session") && has("not supported"):
		return true
	}
	return false
}

// Run executes fn in a transaction. If the server rejects transactions fn is
// run again without one; fn must therefore be safe to repeat.
func Run(ctx context.Context, client *mongo.Client, log *zap.Logger, fn func(ctx context.Context) error) error {
	sess, err := client.StartSession()
	if err != nil {
		if IsNotSupported(err) {
			return fn(ctx)
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		if log != nil {
			log.Debug("transactions unavailable; running without", zap.Error(err))
		}
		return fn(ctx)
	}
	return err
}
