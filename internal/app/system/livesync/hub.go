// Package livesync fans out "collection changed" signals to live query
// subscriptions. Signals carry no payload: a watcher re-runs its query when
// woken. With a Redis client the signals are also relayed between service
// instances that share the same backing store.
package livesync

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the Redis pub/sub channel used for cross-instance relay.
const Channel = "selfmap:changes"

// Hub routes change signals by key (a collection path).
type Hub struct {
	redis    *redis.Client
	log      *zap.Logger
	origin   string
	mu       sync.RWMutex
	watchers map[string]map[*Watcher]struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ready    chan struct{}
}

// Watcher receives a coalesced wake-up on C whenever its key changes.
type Watcher struct {
	Key string
	C   <-chan struct{}
	c   chan struct{}
}

// NewHub creates a hub. redisClient may be nil for a single instance.
func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		redis:    redisClient,
		log:      logger,
		origin:   uuid.NewString(),
		watchers: map[string]map[*Watcher]struct{}{},
		ready:    make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	if redisClient != nil {
		h.wg.Add(1)
		go h.subscribeRedis(ctx)
	} else {
		close(h.ready)
	}
	return h
}

// Ready is closed once the hub is receiving relayed signals.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Watch registers interest in key.
func (h *Hub) Watch(key string) *Watcher {
	c := make(chan struct{}, 1)
	w := &Watcher{Key: key, C: c, c: c}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[key] == nil {
		h.watchers[key] = map[*Watcher]struct{}{}
	}
	h.watchers[key][w] = struct{}{}
	return w
}

// Unwatch removes w. Its channel is not closed so a concurrent wake-up
// cannot panic.
func (h *Hub) Unwatch(w *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.watchers[w.Key]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.watchers, w.Key)
		}
	}
}

// Watching returns the number of watchers registered for key.
func (h *Hub) Watching(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[key])
}

// Publish wakes local watchers of key and relays the signal to other
// instances.
func (h *Hub) Publish(ctx context.Context, key string) {
	h.notify(key)
	if h.redis == nil {
		return
	}
	if err := h.redis.Publish(ctx, Channel, h.origin+"\n"+key).Err(); err != nil {
		h.log.Warn("livesync: redis publish failed", zap.String("key", key), zap.Error(err))
	}
}

// Close stops the Redis relay.
func (h *Hub) Close() error {
	h.cancel()
	h.wg.Wait()
	return nil
}

func (h *Hub) notify(key string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for w := range h.watchers[key] {
		select {
		case w.c <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	defer h.wg.Done()
	pubsub := h.redis.Subscribe(ctx, Channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Warn("livesync: redis subscribe failed", zap.Error(err))
		close(h.ready)
		return
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, key, found := strings.Cut(msg.Payload, "\n")
			if !found || origin == h.origin {
				continue
			}
			h.notify(key)
		}
	}
}
