package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// rangeResponse is the body of GET /devices/{deviceId}/state.
type rangeResponse struct {
	DeviceID string           `json:"deviceId"`
	Count    int              `json:"count"`
	Items    []telemetry.Item `json:"items"`
}

// handleLatestState returns the most recent reading of a device.
func (s *Server) handleLatestState(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	rec, err := s.source.Latest(r.Context(), deviceID)
	if err != nil {
		s.writeSourceError(w, err, deviceID)
		return
	}

	writeJSON(w, http.StatusOK, rec.Reading())
}

// handleStateRange lists readings newest first. from and to are optional
// inclusive epoch milliseconds.
func (s *Server) handleStateRange(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	query := r.URL.Query()

	from, err := parseMillis(query.Get("from"))
	if err != nil {
		writeBadRequest(w, "invalid from")
		return
	}
	to, err := parseMillis(query.Get("to"))
	if err != nil {
		writeBadRequest(w, "invalid to")
		return
	}
	limit, ok := s.parseLimit(query.Get("limit"))
	if !ok {
		writeBadRequest(w, msgInvalidLimit)
		return
	}

	recs, err := s.source.Range(r.Context(), deviceID, telemetry.RangeQuery{From: from, To: to, Limit: limit})
	if err != nil {
		s.writeSourceError(w, err, deviceID)
		return
	}

	items := make([]telemetry.Item, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.Item())
	}

	writeJSON(w, http.StatusOK, rangeResponse{
		DeviceID: deviceID,
		Count:    len(items),
		Items:    items,
	})
}

// parseLimit applies the default for an empty value and clamps large
// values. Anything but a positive integer is rejected.
func (s *Server) parseLimit(raw string) (int, bool) {
	if raw == "" {
		return s.defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, s.maxLimit), true
}

func parseMillis(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &ms, nil
}

func (s *Server) writeSourceError(w http.ResponseWriter, err error, deviceID string) {
	switch {
	case errors.Is(err, telemetry.ErrNotFound):
		writeNotFound(w, msgNoReadings)
	case errors.Is(err, telemetry.ErrInvalidDevice):
		writeBadRequest(w, "invalid deviceId")
	default:
		s.logger.Error("telemetry source error", "device_id", deviceID, "error", err)
		writeInternalError(w, err.Error())
	}
}
