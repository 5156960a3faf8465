package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jnkforks/CallRecorder/internal/storage"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers on other origins present a bearer token, so origin is not the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatchList streams the recording list, filtered, every time it changes.
func (h *HTTPServer) handleWatchList(w http.ResponseWriter, r *http.Request) {
	filter, err := storage.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.serveWatch(w, r, func(ctx context.Context) (<-chan any, error) {
		lists, err := h.deps.Recordings.GetRecordingList(ctx)
		if err != nil {
			return nil, err
		}
		return relay(ctx, lists, func(list []storage.Recording) any {
			return filter.Apply(list)
		}), nil
	})
}

// handleWatchOne streams one recording until it is deleted.
func (h *HTTPServer) handleWatchOne(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Resolve before upgrading so unknown ids get a plain 404.
	if _, err := h.deps.Recordings.Get(r.Context(), id); err != nil {
		h.fail(w, r, "watch", err)
		return
	}

	h.serveWatch(w, r, func(ctx context.Context) (<-chan any, error) {
		recs, err := h.deps.Recordings.GetRecording(ctx, id)
		if err != nil {
			return nil, err
		}
		return relay(ctx, recs, func(rec storage.Recording) any { return rec }), nil
	})
}

func relay[T any](ctx context.Context, in <-chan T, conv func(T) any) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for v := range in {
			select {
			case out <- conv(v):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// serveWatch upgrades the connection and writes each value from the feed as a
// JSON text frame. The feed is cancelled when the peer goes away.
func (h *HTTPServer) serveWatch(w http.ResponseWriter, r *http.Request, open func(context.Context) (<-chan any, error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := open(ctx)
	if err != nil {
		h.logger.Error("Failed to open watch", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "watch unavailable"),
			time.Now().Add(wsWriteWait))
		return
	}

	// Reader: handles pongs and notices the peer closing.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-feed:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "gone"),
					time.Now().Add(wsWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
