package telemetry

import (
	"context"
	"errors"
)

// Sentinel errors for telemetry sources.
var (
	// ErrNotFound means the device has no readings.
	ErrNotFound = errors.New("telemetry: no readings")

	// ErrInvalidDevice means the device id cannot be used in a store query.
	ErrInvalidDevice = errors.New("telemetry: invalid device id")

	// ErrInvalidTimestamp means a sample has no usable timestamp.
	ErrInvalidTimestamp = errors.New("telemetry: timestamp required and numeric")

	// ErrRelay is delivered to live subscribers when the ingest bus drops.
	ErrRelay = errors.New("telemetry: live relay interrupted")
)

// RangeQuery bounds a range read. From and To are inclusive epoch
// milliseconds; nil means unbounded.
type RangeQuery struct {
	From  *int64
	To    *int64
	Limit int
}

// Source is an authoritative device telemetry store.
type Source interface {
	// Latest returns the sample with the greatest timestamp, or ErrNotFound.
	Latest(ctx context.Context, deviceID string) (Record, error)

	// Range returns samples within q, newest first, at most q.Limit.
	Range(ctx context.Context, deviceID string, q RangeQuery) ([]Record, error)

	// Append stores one sample. Duplicate timestamps are kept.
	Append(ctx context.Context, rec Record) error

	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error
}

func inRange(ms int64, q RangeQuery) bool {
	if q.From != nil && ms < *q.From {
		return false
	}
	if q.To != nil && ms > *q.To {
		return false
	}
	return true
}
