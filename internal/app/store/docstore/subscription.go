package docstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dalemusser/selfmap/internal/app/system/metrics"
)

// Subscription is a live query. Deliveries are serialized, de-duplicated by
// document id and suppressed when the snapshot is unchanged since the last
// delivery. Once Unsubscribe is called no new delivery starts.
type Subscription struct {
	fn     func([]Document)
	cancel context.CancelFunc

	deliverMu sync.Mutex
	digest    uint64
	delivered bool

	closed   atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	errMu    sync.Mutex
	err      error
}

// NewSubscription is used by Store implementations. The returned context is
// canceled when the subscription ends and should bound the feed goroutine.
func NewSubscription(parent context.Context, fn func([]Document)) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription{
		fn:     fn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	metrics.SubscriptionsActive.Inc()
	go func() {
		<-ctx.Done()
		s.finish(nil)
	}()
	return s, ctx
}

// Deliver hands docs to the listener unless the subscription has ended or
// the snapshot is identical to the previous one. It reports whether the
// listener was called.
func (s *Subscription) Deliver(docs []Document) bool {
	if s.closed.Load() {
		return false
	}
	docs = dedupe(docs)
	sum := digest(docs)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed.Load() {
		return false
	}
	if s.delivered && sum == s.digest {
		return false
	}
	s.digest = sum
	s.delivered = true
	s.fn(docs)
	return true
}

// Fail ends the subscription with err.
func (s *Subscription) Fail(err error) {
	s.finish(err)
}

// Unsubscribe stops delivery. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	s.finish(nil)
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Active reports whether deliveries may still happen.
func (s *Subscription) Active() bool {
	return !s.closed.Load()
}

func (s *Subscription) finish(err error) {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		s.cancel()
		close(s.done)
		metrics.SubscriptionsActive.Dec()
	})
}

func dedupe(docs []Document) []Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if _, dup := seen[d.Path]; dup {
			continue
		}
		seen[d.Path] = struct{}{}
		out = append(out, d)
	}
	return out
}

func digest(docs []Document) uint64 {
	h := xxhash.New()
	for _, d := range docs {
		_, _ = h.WriteString(d.Path)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(d.Version)
		_, _ = h.Write([]byte{1})
	}
	return h.Sum64()
}
