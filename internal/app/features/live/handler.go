// internal/app/features/live/handler.go
package live

import (
	"context"
	"net/http"
	"time"

	errorsfeature "github.com/dalemusser/selfmap/internal/app/features/errors"
	activitystore "github.com/dalemusser/selfmap/internal/app/store/activity"
	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	mapstore "github.com/dalemusser/selfmap/internal/app/store/maps"
	markerstore "github.com/dalemusser/selfmap/internal/app/store/markers"
	"github.com/dalemusser/selfmap/internal/app/system/auth"
	"github.com/dalemusser/selfmap/internal/app/system/limits"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"github.com/dalemusser/selfmap/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Frame is one message sent to the browser.
type Frame struct {
	Type  string `json:"type"` // "snapshot" or "error"
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler streams live query snapshots over WebSockets. Each connection
// owns exactly one subscription, released when the socket closes.
type Handler struct {
	Maps     *mapstore.Store
	Markers  *markerstore.Store
	Activity *activitystore.Store
	Log      *zap.Logger
	Upgrader websocket.Upgrader
}

func NewHandler(maps *mapstore.Store, markers *markerstore.Store, activity *activitystore.Store, logger *zap.Logger) *Handler {
	return &Handler{
		Maps:     maps,
		Markers:  markers,
		Activity: activity,
		Log:      logger,
		Upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
	}
}

// subscribeFunc opens a subscription whose snapshots are handed to push.
type subscribeFunc func(ctx context.Context, push func(any)) (*docstore.Subscription, error)

// MapList handles GET /live/maps: the caller's map list.
func (h *Handler) MapList(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	h.stream(w, r, func(ctx context.Context, push func(any)) (*docstore.Subscription, error) {
		return h.Maps.Subscribe(ctx, u.ID, func(ms []models.Map) { push(ms) })
	})
}

// MapMarkers handles GET /live/maps/{mapID}: the map's markers with notes
// redacted for the viewer.
func (h *Handler) MapMarkers(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	mapID := chi.URLParam(r, "mapID")
	if _, err := h.Maps.Get(r.Context(), mapID); err != nil {
		errorsfeature.Write(w, r, h.Log, err)
		return
	}
	h.stream(w, r, func(ctx context.Context, push func(any)) (*docstore.Subscription, error) {
		return h.Markers.Subscribe(ctx, mapID, func(ms []models.Marker) {
			out := make([]models.Marker, len(ms))
			for i, m := range ms {
				out[i] = m.Redacted(u.ID)
			}
			push(map[string]any{"markers": out, "center": markerstore.DefaultCenter(ms)})
		})
	})
}

// Activities handles GET /live/activities.
func (h *Handler) Activities(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.CurrentUser(r)
	h.stream(w, r, func(ctx context.Context, push func(any)) (*docstore.Subscription, error) {
		return h.Activity.Subscribe(ctx, u.ID, func(as []models.Activity) { push(as) })
	})
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, subscribe subscribeFunc) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.Log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Only the newest snapshot matters; a slow client skips stale ones.
	frames := make(chan any, 1)
	push := func(v any) {
		select {
		case <-frames:
		default:
		}
		frames <- v
	}

	sub, err := subscribe(ctx, push)
	if err != nil {
		h.writeError(conn, err)
		return
	}
	defer sub.Unsubscribe()

	go h.readPump(conn, cancel)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				h.writeError(conn, apperr.Read("live.subscribe", err))
			}
			return
		case v := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Frame{Type: "snapshot", Data: v}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and cancels the stream when the socket
// closes or stops answering pings.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(limits.MaxWebSocketMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeError(conn *websocket.Conn, err error) {
	_, code := errorsfeature.Classify(err)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(Frame{Type: "error", Error: code + ": " + apperr.Message(err)})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, code),
		time.Now().Add(writeWait))
}
