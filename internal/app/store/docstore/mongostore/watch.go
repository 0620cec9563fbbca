package mongostore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// changeStreamsUnsupported is the server code for $changeStream on a
// standalone mongod.
const changeStreamsUnsupported = 40573

// IsChangeStreamUnsupported reports whether err means the deployment cannot
// open change streams.
func IsChangeStreamUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == changeStreamsUnsupported {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "replica set") || strings.Contains(msg, "changestream")
}

// Subscribe re-runs q whenever the collection changes. Changes are observed
// through a change stream when the deployment has one and always through the
// hub, which carries writes made by this process and, with Redis, its peers.
// Without a change stream the query is also re-run every PollInterval.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn func([]docstore.Document)) (*docstore.Subscription, error) {
	if !docstore.IsCollection(q.Collection) {
		return nil, docstore.ErrBadPath
	}
	sub, sctx := docstore.NewSubscription(ctx, fn)
	w := s.hub.Watch(q.Collection)

	wake := make(chan struct{}, 1)
	streamDown := make(chan struct{})
	if err := s.watchStream(sctx, q.Collection, wake, streamDown); err != nil {
		if !IsChangeStreamUnsupported(err) {
			s.log.Warn("change stream unavailable; polling",
				zap.String("collection", q.Collection), zap.Error(err))
		}
		close(streamDown)
	}

	go func() {
		defer s.hub.Unwatch(w)

		var tick <-chan time.Time
		var ticker *time.Ticker
		defer func() {
			if ticker != nil {
				ticker.Stop()
			}
		}()

		for {
			docs, err := s.Query(sctx, q)
			if err != nil {
				if sctx.Err() == nil {
					sub.Fail(err)
				}
				return
			}
			sub.Deliver(docs)

			select {
			case <-sctx.Done():
				return
			case <-w.C:
			case <-wake:
			case <-tick:
			case <-streamDown:
				streamDown = nil
				ticker = time.NewTicker(s.poll)
				tick = ticker.C
			}
		}
	}()
	return sub, nil
}

// watchStream opens a change stream scoped to documents directly inside
// collection and signals wake for every event. streamDown is closed if the
// stream ends before ctx does.
func (s *Store) watchStream(ctx context.Context, collection string, wake chan<- struct{}, streamDown chan struct{}) error {
	c, _ := s.coll(collection)
	pattern := "^" + regexp.QuoteMeta(collection+"/") + "[^/]+$"
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"documentKey._id": bson.M{"$regex": pattern}}}},
	}
	cs, err := c.Watch(ctx, pipeline, options.ChangeStream().SetMaxAwaitTime(time.Second))
	if err != nil {
		return err
	}

	go func() {
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
		if ctx.Err() == nil {
			s.log.Warn("change stream ended; polling",
				zap.String("collection", collection), zap.Error(cs.Err()))
			close(streamDown)
		}
	}()
	return nil
}
