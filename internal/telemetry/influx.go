package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/suntec-core/internal/infrastructure/influxdb"
)

// influxBackend is the part of *influxdb.Client the source uses.
type influxBackend interface {
	Query(ctx context.Context, flux string) ([]influxdb.Row, error)
	WriteDeviceState(deviceID string, fields map[string]any, ts time.Time)
	HealthCheck(ctx context.Context) error
	Bucket() string
	Measurement() string
}

// Field names on the device state measurement.
const (
	fieldValor  = "valor"
	fieldNivel  = "nivel"
	fieldEstado = "estado"
)

// InfluxSource reads and writes device samples in InfluxDB. Points carry a
// device_id tag and valor/nivel/estado fields; estado is stored as text.
type InfluxSource struct {
	db influxBackend
}

// NewInfluxSource wraps a connected InfluxDB client.
func NewInfluxSource(db influxBackend) *InfluxSource {
	return &InfluxSource{db: db}
}

// Latest returns the newest point for deviceID.
func (s *InfluxSource) Latest(ctx context.Context, deviceID string) (Record, error) {
	recs, err := s.query(ctx, deviceID, time.Time{}, time.Time{}, 1)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

// Range returns points within q, newest first.
func (s *InfluxSource) Range(ctx context.Context, deviceID string, q RangeQuery) ([]Record, error) {
	var start, stop time.Time
	if q.From != nil {
		start = time.UnixMilli(*q.From)
	}
	if q.To != nil {
		// Flux stop is exclusive.
		stop = time.UnixMilli(*q.To + 1)
	}
	if !start.IsZero() && !stop.IsZero() && !start.Before(stop) {
		return []Record{}, nil
	}
	return s.query(ctx, deviceID, start, stop, q.Limit)
}

func (s *InfluxSource) query(ctx context.Context, deviceID string, start, stop time.Time, limit int) ([]Record, error) {
	if !influxdb.ValidTagValue(deviceID) {
		return nil, ErrInvalidDevice
	}

	rows, err := s.db.Query(ctx, influxdb.StateQuery{
		Bucket:      s.db.Bucket(),
		Measurement: s.db.Measurement(),
		DeviceID:    deviceID,
		Start:       start,
		Stop:        stop,
		Limit:       limit,
	}.Flux())
	if err != nil {
		return nil, fmt.Errorf("querying device %s: %w", deviceID, err)
	}

	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, Record{
			ID:       fmt.Sprintf("%s-%d", deviceID, row.Time.UnixMilli()),
			DeviceID: deviceID,
			Estado:   row.Values[fieldEstado],
			Nivel:    row.Values[fieldNivel],
			Valor:    row.Values[fieldValor],
			TS:       row.Time,
		})
	}
	return recs, nil
}

// Append queues rec for a batched write.
func (s *InfluxSource) Append(_ context.Context, rec Record) error {
	if !influxdb.ValidTagValue(rec.DeviceID) {
		return ErrInvalidDevice
	}
	ms, ok := TimestampMillis(rec.TS)
	if !ok {
		return ErrInvalidTimestamp
	}

	fields := make(map[string]any, 3)
	if v := floatPtr(rec.Valor); v != nil {
		fields[fieldValor] = *v
	}
	if v := floatPtr(rec.Nivel); v != nil {
		fields[fieldNivel] = *v
	}
	if e, ok := estadoText(rec.Estado); ok {
		fields[fieldEstado] = e
	}
	if len(fields) == 0 {
		return fmt.Errorf("sample for %s has no fields", rec.DeviceID)
	}

	s.db.WriteDeviceState(rec.DeviceID, fields, time.UnixMilli(ms))
	return nil
}

// HealthCheck pings InfluxDB.
func (s *InfluxSource) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}
