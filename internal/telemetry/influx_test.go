package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/suntec-core/internal/infrastructure/influxdb"
)

type writtenPoint struct {
	deviceID string
	fields   map[string]any
	ts       time.Time
}

// fakeInflux records writes and answers queries with canned rows.
type fakeInflux struct {
	mu      sync.Mutex
	rows    []influxdb.Row
	err     error
	queries []string
	writes  []writtenPoint
}

func (f *fakeInflux) Query(_ context.Context, flux string) ([]influxdb.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, flux)
	return f.rows, f.err
}

func (f *fakeInflux) WriteDeviceState(deviceID string, fields map[string]any, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writtenPoint{deviceID, fields, ts})
}

func (f *fakeInflux) HealthCheck(context.Context) error { return f.err }
func (f *fakeInflux) Bucket() string                    { return "telemetry" }
func (f *fakeInflux) Measurement() string               { return "device_state" }

func TestInfluxSource_Latest(t *testing.T) {
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)
	fake := &fakeInflux{rows: []influxdb.Row{{
		Time:   at,
		Values: map[string]any{"valor": 1500.0, "nivel": 7.25, "estado": "encendido", "device_id": "inv-01"},
	}}}
	src := NewInfluxSource(fake)

	rec, err := src.Latest(ctx, "inv-01")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	r := rec.Reading()
	if *r.TS != at.UnixMilli() || *r.Valor != 1500 || *r.Nivel != 7.25 || r.Estado != "encendido" {
		t.Errorf("reading = %+v", r)
	}
	if rec.ID != "inv-01-1700000000000" {
		t.Errorf("ID = %q", rec.ID)
	}
	if !strings.Contains(fake.queries[0], "limit(n: 1)") {
		t.Errorf("latest query should limit to 1:\n%s", fake.queries[0])
	}

	fake.rows = nil
	if _, err := src.Latest(ctx, "inv-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest(empty) error = %v, want ErrNotFound", err)
	}
}

func TestInfluxSource_Range(t *testing.T) {
	ctx := context.Background()
	fake := &fakeInflux{}
	src := NewInfluxSource(fake)

	recs, err := src.Range(ctx, "inv-01", RangeQuery{From: ms(1_700_000_000_000), To: ms(1_700_000_060_000), Limit: 50})
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("len = %d, want 0", len(recs))
	}

	q := fake.queries[0]
	// The inclusive upper bound becomes an exclusive stop one millisecond later.
	if !strings.Contains(q, "stop: 2023-11-14T22:14:20.001Z") {
		t.Errorf("query missing inclusive stop:\n%s", q)
	}
	if !strings.Contains(q, "limit(n: 50)") {
		t.Errorf("query missing limit:\n%s", q)
	}

	if recs, err := src.Range(ctx, "inv-01", RangeQuery{From: ms(10), To: ms(5)}); err != nil || len(recs) != 0 {
		t.Errorf("inverted range = %v, %v", recs, err)
	}
	if len(fake.queries) != 1 {
		t.Error("inverted range should not reach the database")
	}
}

func TestInfluxSource_RejectsUnsafeDeviceID(t *testing.T) {
	src := NewInfluxSource(&fakeInflux{})

	if _, err := src.Latest(context.Background(), `x") |> drop()`); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Latest() error = %v, want ErrInvalidDevice", err)
	}
	if err := src.Append(context.Background(), Record{DeviceID: "a b", TS: int64(1), Valor: 1.0}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Append() error = %v, want ErrInvalidDevice", err)
	}
}

func TestInfluxSource_Append(t *testing.T) {
	fake := &fakeInflux{}
	src := NewInfluxSource(fake)
	ctx := context.Background()

	err := src.Append(ctx, Record{DeviceID: "inv-01", Valor: 900.0, Estado: true, TS: int64(1_700_000_000_000)})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(fake.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(fake.writes))
	}
	w := fake.writes[0]
	if w.fields["valor"] != 900.0 || w.fields["estado"] != "true" {
		t.Errorf("fields = %v", w.fields)
	}
	if _, ok := w.fields["nivel"]; ok {
		t.Error("missing nivel should not be written")
	}
	if w.ts.UnixMilli() != 1_700_000_000_000 {
		t.Errorf("ts = %v", w.ts)
	}

	if err := src.Append(ctx, Record{DeviceID: "inv-01", TS: int64(1)}); err == nil {
		t.Error("Append() without fields should fail")
	}
	if err := src.Append(ctx, Record{DeviceID: "inv-01", Valor: 1.0}); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("Append() without ts error = %v", err)
	}
}

func TestInfluxSource_QueryErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	src := NewInfluxSource(&fakeInflux{err: boom})

	if _, err := src.Range(context.Background(), "inv-01", RangeQuery{}); !errors.Is(err, boom) {
		t.Errorf("Range() error = %v, want wrapped boom", err)
	}
	if err := src.HealthCheck(context.Background()); !errors.Is(err, boom) {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
