package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// wsWriteWait bounds a single frame write.
const wsWriteWait = 10 * time.Second

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleStateWebSocket mirrors the event stream over a WebSocket: the
// latest reading first, then one JSON text frame per change, with ping
// frames as keep-alive. Relay failures arrive as {"error": msg} frames.
func (s *Server) handleStateWebSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	sub := s.feed.Subscribe(deviceID)
	defer sub.Close()

	snapshot, err := s.source.Latest(r.Context(), deviceID)
	if errors.Is(err, telemetry.ErrInvalidDevice) {
		writeBadRequest(w, "invalid deviceId")
		return
	}

	conn, upErr := upgrader.Upgrade(w, r, nil)
	if upErr != nil {
		s.logger.Warn("websocket upgrade failed", "device_id", deviceID, "error", upErr)
		return
	}
	defer conn.Close()

	// The read pump owns connection liveness; its exit ends the write loop.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.wsReadPump(conn, cancel)

	switch {
	case err == nil:
		err = writeWSJSON(conn, snapshot.Reading())
	case errors.Is(err, telemetry.ErrNotFound):
		err = nil
	default:
		err = writeWSJSON(conn, errorBody{Error: err.Error()})
	}
	if err != nil {
		return
	}

	s.wsWriteLoop(ctx, conn, sub)
}

// wsWriteLoop forwards feed events and pings until ctx ends or a write fails.
func (s *Server) wsWriteLoop(ctx context.Context, conn *websocket.Conn, sub *telemetry.Subscription) {
	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			//nolint:errcheck // Best-effort close frame
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Err != nil {
				err = writeWSJSON(conn, errorBody{Error: ev.Err.Error()})
			} else {
				err = writeWSJSON(conn, ev.Reading)
			}
		}
		if err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// wsReadPump discards client frames and keeps the read deadline alive on
// pongs. It calls done when the connection fails or closes.
func (s *Server) wsReadPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()

	if size := s.cfg.Stream.MaxMessageSize; size > 0 {
		conn.SetReadLimit(int64(size))
	}
	wait := s.keepAlive + s.pongWait
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Any client frame counts as liveness
		conn.SetReadDeadline(time.Now().Add(wait))
	}
}

func writeWSJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
