// internal/app/system/activitylog/logger.go
package activitylog

import (
	"context"
	"fmt"
	"sync"

	"github.com/dalemusser/selfmap/internal/app/system/metrics"
	"github.com/dalemusser/selfmap/internal/app/system/timeouts"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"go.uber.org/zap"
)

// Mode selects where entries go.
type Mode string

const (
	ModeAll Mode = "all" // store + zap
	ModeDB  Mode = "db"  // store only
	ModeLog Mode = "log" // zap only
	ModeOff Mode = "off"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAll, ModeDB, ModeLog, ModeOff:
		return m, nil
	}
	return "", fmt.Errorf("activity_log: unknown mode %q (want all, db, log or off)", s)
}

// Appender persists one activity entry.
type Appender interface {
	Create(ctx context.Context, uid string, a models.Activity) (string, error)
}

// Logger records user activity without ever blocking or failing the action
// it describes. A nil *Logger is a no-op so tests may omit it.
type Logger struct {
	store  Appender
	zapLog *zap.Logger
	mode   Mode
	wg     sync.WaitGroup
}

// New creates a Logger.
func New(store Appender, zapLog *zap.Logger, mode Mode) *Logger {
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return &Logger{store: store, zapLog: zapLog, mode: mode}
}

// Append records an entry for uid in the background. An empty uid is
// skipped. Store failures are logged and counted, never returned.
func (l *Logger) Append(ctx context.Context, uid, typ, message string, detail map[string]any) {
	if l == nil || uid == "" || l.mode == ModeOff {
		return
	}
	a := models.Activity{Type: typ, Message: message, Detail: detail}

	if l.mode == ModeAll || l.mode == ModeLog {
		fields := []zap.Field{
			zap.Bool("activity", true),
			zap.String("user_id", uid),
			zap.String("type", typ),
			zap.String("message", message),
		}
		for k, v := range detail {
			fields = append(fields, zap.Any("detail_"+k, v))
		}
		l.zapLog.Info("activity", fields...)
	}
	if (l.mode != ModeAll && l.mode != ModeDB) || l.store == nil {
		return
	}

	// Detached from the request so the write survives the response.
	bg := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(bg, timeouts.Short())
		defer cancel()
		if _, err := l.store.Create(ctx, uid, a); err != nil {
			metrics.ActivityAppendFailures.Inc()
			l.zapLog.Warn("failed to store activity",
				zap.String("user_id", uid),
				zap.String("type", typ),
				zap.Error(err))
		}
	}()
}

// Wait blocks until background appends finish or ctx ends.
func (l *Logger) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Map events ---

func (l *Logger) MapCreated(ctx context.Context, uid string, m models.Map) {
	l.Append(ctx, uid, models.ActivityCreateMap,
		fmt.Sprintf("Created map %q", m.DisplayTitle()),
		map[string]any{"mapId": m.ID})
}

func (l *Logger) MapRenamed(ctx context.Context, uid, mapID, title string) {
	l.Append(ctx, uid, models.ActivityRenameMap,
		fmt.Sprintf("Renamed map to %q", title),
		map[string]any{"mapId": mapID})
}

func (l *Logger) MapDeleted(ctx context.Context, uid string, m models.Map) {
	l.Append(ctx, uid, models.ActivityDeleteMap,
		fmt.Sprintf("Deleted map %q", m.DisplayTitle()),
		map[string]any{"mapId": m.ID})
}

// --- Marker events ---

func markerDetail(mapID, markerID string) map[string]any {
	return map[string]any{"mapId": mapID, "markerId": markerID}
}

func (l *Logger) MarkerCreated(ctx context.Context, uid string, m models.Marker) {
	msg := "Added a marker"
	if m.Address != "" {
		msg = fmt.Sprintf("Added a marker at %s", m.Address)
	}
	l.Append(ctx, uid, models.ActivityCreateMarker, msg, markerDetail(m.MapID, m.ID))
}

func (l *Logger) MarkerMetaEdited(ctx context.Context, uid, mapID, markerID, title string) {
	l.Append(ctx, uid, models.ActivityEditMarkerMeta,
		fmt.Sprintf("Edited marker %q", title),
		markerDetail(mapID, markerID))
}

func (l *Logger) MarkerNoteEdited(ctx context.Context, uid, mapID, markerID string) {
	l.Append(ctx, uid, models.ActivityEditMarkerNote, "Edited a marker note",
		markerDetail(mapID, markerID))
}

func (l *Logger) MarkerCommented(ctx context.Context, uid, mapID, markerID string) {
	l.Append(ctx, uid, models.ActivityCommentMarker, "Commented on a marker",
		markerDetail(mapID, markerID))
}

func (l *Logger) MarkerDeleted(ctx context.Context, uid, mapID, markerID string) {
	l.Append(ctx, uid, models.ActivityDeleteMarker, "Deleted a marker",
		markerDetail(mapID, markerID))
}

func (l *Logger) MarkersCleared(ctx context.Context, uid, mapID string, n int) {
	l.Append(ctx, uid, models.ActivityClearMarkers,
		fmt.Sprintf("Cleared %d markers", n),
		map[string]any{"mapId": mapID, "count": n})
}

// --- Profile events ---

func (l *Logger) UserRenamed(ctx context.Context, uid, name string) {
	l.Append(ctx, uid, models.ActivityRenameUser,
		fmt.Sprintf("Changed display name to %q", name), nil)
}
