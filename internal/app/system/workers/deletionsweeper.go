// internal/app/system/workers/deletionsweeper.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"github.com/dalemusser/selfmap/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// sweepPageSize bounds how many pending maps one pass resumes.
const sweepPageSize = 50

// MapPurger is the part of the map store the sweeper needs.
type MapPurger interface {
	ListPendingDeletes(ctx context.Context, limit int) ([]string, error)
	Purge(ctx context.Context, mapID string) (docstore.DeleteResult, error)
}

// DeletionSweeper is a background worker that finishes map deletions left
// half done by a crash or a failed batch.
type DeletionSweeper struct {
	maps     MapPurger
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDeletionSweeper creates a sweeper that runs every interval.
func NewDeletionSweeper(maps MapPurger, logger *zap.Logger, interval time.Duration) *DeletionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeletionSweeper{
		maps:     maps,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background loop.
func (w *DeletionSweeper) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("deletion sweeper started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish. It is safe
// to call more than once.
func (w *DeletionSweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.log.Info("deletion sweeper stopped")
}

func (w *DeletionSweeper) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(context.Background())
		}
	}
}

// Sweep resumes every pending deletion it can find and returns how many
// maps it finished.
func (w *DeletionSweeper) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Batch())
	defer cancel()

	ids, err := w.maps.ListPendingDeletes(ctx, sweepPageSize)
	if err != nil {
		w.log.Error("failed to list pending map deletions", zap.Error(err))
		return 0
	}

	done := 0
	for _, id := range ids {
		select {
		case <-w.stopCh:
			return done
		default:
		}
		res, err := w.maps.Purge(ctx, id)
		if err != nil {
			w.log.Warn("map deletion still incomplete",
				zap.String("map_id", id),
				zap.Int("count", res.Deleted),
				zap.Error(err))
			continue
		}
		done++
	}
	if done > 0 {
		w.log.Info("resumed map deletions", zap.Int("count", done))
	}
	return done
}
