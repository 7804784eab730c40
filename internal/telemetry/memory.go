package telemetry

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemorySource keeps samples in process memory. It backs development runs
// without a time-series database and the handler tests.
type MemorySource struct {
	mu      sync.RWMutex
	devices map[string][]Record
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{devices: make(map[string][]Record)}
}

// Append stores rec, keeping each device's slice ordered by timestamp.
func (m *MemorySource) Append(_ context.Context, rec Record) error {
	ms, ok := TimestampMillis(rec.TS)
	if !ok {
		return ErrInvalidTimestamp
	}
	rec.TS = ms
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.devices[rec.DeviceID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Millis() > ms })
	list = append(list, Record{})
	copy(list[i+1:], list[i:])
	list[i] = rec
	m.devices[rec.DeviceID] = list
	return nil
}

// Latest returns the newest sample for deviceID.
func (m *MemorySource) Latest(_ context.Context, deviceID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.devices[deviceID]
	if len(list) == 0 {
		return Record{}, ErrNotFound
	}
	return list[len(list)-1], nil
}

// Range returns samples within q, newest first.
func (m *MemorySource) Range(_ context.Context, deviceID string, q RangeQuery) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.devices[deviceID]
	out := make([]Record, 0, min(len(list), max(q.Limit, 0)))
	for i := len(list) - 1; i >= 0; i-- {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		if inRange(list[i].Millis(), q) {
			out = append(out, list[i])
		}
	}
	return out, nil
}

// HealthCheck always succeeds.
func (m *MemorySource) HealthCheck(context.Context) error {
	return nil
}
