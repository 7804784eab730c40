package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// handleStateStream relays live readings of one device as server-sent
// events. The current latest reading is sent first, then one data frame per
// change. Relay failures are reported as "event: error" frames and do not
// end the stream.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	ctx := r.Context()

	sub := s.feed.Subscribe(deviceID)
	keepAlive := time.NewTicker(s.keepAlive)
	defer func() {
		keepAlive.Stop()
		sub.Close()
	}()

	// Subscribe before the snapshot so nothing published in between is lost.
	snapshot, err := s.source.Latest(ctx, deviceID)
	if errors.Is(err, telemetry.ErrInvalidDevice) {
		writeBadRequest(w, "invalid deviceId")
		return
	}

	rc := http.NewResponseController(w)
	//nolint:errcheck // not every writer supports deadlines; the stream works without
	rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	switch {
	case err == nil:
		err = writeSSEData(w, snapshot.Reading())
	case errors.Is(err, telemetry.ErrNotFound):
		err = nil
	default:
		s.logger.Warn("stream snapshot failed", "device_id", deviceID, "error", err)
		err = writeSSEError(w, err.Error())
	}
	if err != nil || rc.Flush() != nil {
		return
	}

	s.logger.Debug("stream opened", "device_id", deviceID, "listeners", s.feed.ListenerCount(deviceID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("stream closed", "device_id", deviceID)
			return
		case <-keepAlive.C:
			_, err = io.WriteString(w, ": keep-alive\n\n")
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Err != nil {
				err = writeSSEError(w, ev.Err.Error())
			} else {
				err = writeSSEData(w, ev.Reading)
			}
		}
		if err != nil || rc.Flush() != nil {
			return
		}
	}
}

// writeSSEData writes one "data:" frame carrying v as JSON.
func writeSSEData(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// writeSSEError writes an "error" event with an {"error": msg} payload.
func writeSSEError(w io.Writer, msg string) error {
	data, err := json.Marshal(errorBody{Error: msg})
	if err != nil {
		return fmt.Errorf("encoding error event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	return err
}
