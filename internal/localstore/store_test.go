package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(Config{Path: filepath.Join(t.TempDir(), "local.db"), Location: time.UTC})
	t.Cleanup(func() { s.Close() })
	return s
}

func timestamps(samples []Sample) []int64 {
	out := make([]int64, len(samples))
	for i, s := range samples {
		out[i] = s.Timestamp
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_Lazy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "local.db")
	s := New(Config{Path: path})
	defer s.Close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("New() should not create the file, stat err = %v", err)
	}

	if _, _, err := s.Latest(context.Background(), "inv-01"); err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("first access should create the file: %v", err)
	}
}

func TestStore_PutLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, ok, err := s.Latest(ctx, "inv-01"); err != nil || ok {
		t.Fatalf("Latest() on empty = ok %v err %v, want not found", ok, err)
	}

	for _, ts := range []int64{2000, 5000, 1000, 4000} {
		if err := s.Put(ctx, Sample{DeviceID: "inv-01", Timestamp: ts, Value: f(float64(ts))}); err != nil {
			t.Fatalf("Put(%d) error = %v", ts, err)
		}
	}
	if err := s.Put(ctx, Sample{DeviceID: "inv-02", Timestamp: 9000}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Latest(ctx, "inv-01")
	if err != nil || !ok {
		t.Fatalf("Latest() = ok %v err %v", ok, err)
	}
	if got.Timestamp != 5000 || got.Value == nil || *got.Value != 5000 {
		t.Errorf("Latest() = %+v, want ts 5000", got)
	}
	if got.ID == 0 {
		t.Error("Latest() should carry the row id")
	}
}

func TestStore_PutKeepsNullsAndStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	samples := []Sample{
		{DeviceID: "inv-01", Timestamp: 1000, Status: true},
		{DeviceID: "inv-01", Timestamp: 2000, Status: false, Value: f(0)},
		{DeviceID: "inv-01", Timestamp: 3000, Status: "ENCENDIDO", Level: f(12.5)},
		{DeviceID: "inv-01", Timestamp: 4000},
	}
	if n, err := s.PutMany(ctx, samples); err != nil || n != 4 {
		t.Fatalf("PutMany() = %d, %v", n, err)
	}

	got, err := s.Range(ctx, "inv-01", 0, 5000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("Range() returned %d samples", len(got))
	}
	if got[0].Status != true || got[0].Value != nil || got[0].Level != nil {
		t.Errorf("sample 0 = %+v, want status true and null numbers", got[0])
	}
	if got[1].Status != false || got[1].Value == nil || *got[1].Value != 0 {
		t.Errorf("sample 1 = %+v, want a real zero value", got[1])
	}
	if got[2].Status != "ENCENDIDO" || *got[2].Level != 12.5 {
		t.Errorf("sample 2 = %+v", got[2])
	}
	if got[3].Status != nil {
		t.Errorf("sample 3 status = %v, want nil", got[3].Status)
	}
}

func TestStore_DuplicatesKept(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dup := Sample{DeviceID: "inv-01", Timestamp: 1000, Value: f(1)}
	for range 3 {
		if err := s.Put(ctx, dup); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.PutMany(ctx, []Sample{dup, dup}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Range(ctx, "inv-01", 1000, 1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("Range() = %d samples, want all 5 duplicates", len(got))
	}
}

func TestStore_Range(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var samples []Sample
	for _, ts := range []int64{5000, 1000, 3000, 2000, 4000, 3000} {
		samples = append(samples, Sample{DeviceID: "inv-01", Timestamp: ts})
	}
	samples = append(samples, Sample{DeviceID: "inv-02", Timestamp: 2500})
	if _, err := s.PutMany(ctx, samples); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		from, to int64
		limit    int
		want     []int64
	}{
		{"all ascending", 0, 10000, 0, []int64{1000, 2000, 3000, 3000, 4000, 5000}},
		{"inclusive bounds", 2000, 4000, 0, []int64{2000, 3000, 3000, 4000}},
		{"limit keeps oldest", 0, 10000, 2, []int64{1000, 2000}},
		{"single point", 3000, 3000, 0, []int64{3000, 3000}},
		{"empty", 6000, 7000, 0, nil},
		{"inverted", 4000, 2000, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Range(ctx, "inv-01", tt.from, tt.to, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if !equalInts(timestamps(got), tt.want) {
				t.Errorf("Range() = %v, want %v", timestamps(got), tt.want)
			}
		})
	}
}

func TestStore_PutManyPartialFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.PutMany(ctx, []Sample{
		{DeviceID: "inv-01", Timestamp: 1000},
		{DeviceID: "", Timestamp: 2000},
		{DeviceID: "inv-01", Timestamp: 3000, Status: []int{1}},
		{DeviceID: "inv-01", Timestamp: 4000},
	})
	if n != 2 {
		t.Errorf("PutMany() stored %d, want 2", n)
	}
	if !errors.Is(err, ErrInvalidSample) {
		t.Errorf("PutMany() error = %v, want it to include ErrInvalidSample", err)
	}

	got, _ := s.Range(ctx, "inv-01", 0, 10000, 0)
	if !equalInts(timestamps(got), []int64{1000, 4000}) {
		t.Errorf("stored = %v, want the valid rows", timestamps(got))
	}

	if n, err := s.PutMany(ctx, nil); n != 0 || err != nil {
		t.Errorf("PutMany(nil) = %d, %v", n, err)
	}
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.PutMany(ctx, []Sample{
		{DeviceID: "inv-01", Timestamp: 1000},
		{DeviceID: "inv-01", Timestamp: 2000},
		{DeviceID: "inv-01", Timestamp: 3000},
		{DeviceID: "inv-02", Timestamp: 1500},
		{DeviceID: "inv-02", Timestamp: 3500},
	}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Prune(ctx, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("Prune() removed %d, want 2", removed)
	}

	one, _ := s.Range(ctx, "inv-01", 0, 10000, 0)
	two, _ := s.Range(ctx, "inv-02", 0, 10000, 0)
	if !equalInts(timestamps(one), []int64{2000, 3000}) || !equalInts(timestamps(two), []int64{3500}) {
		t.Errorf("after prune inv-01 %v inv-02 %v", timestamps(one), timestamps(two))
	}
}

func TestStore_Days(t *testing.T) {
	ctx := context.Background()
	mexico, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := New(Config{Path: filepath.Join(t.TempDir(), "local.db"), Location: mexico})
	defer s.Close()

	// 2026-03-02T03:00Z is still March 1st in Mexico City.
	lateNight := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC).UnixMilli()
	noon := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC).UnixMilli()

	if _, err := s.PutMany(ctx, []Sample{
		{DeviceID: "inv-01", Timestamp: noon},
		{DeviceID: "inv-01", Timestamp: lateNight},
		{DeviceID: "inv-01", Timestamp: noon + 1},
	}); err != nil {
		t.Fatal(err)
	}

	days, err := s.Days(ctx, "inv-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || days[0] != "20260301" || days[1] != "20260302" {
		t.Errorf("Days() = %v, want [20260301 20260302]", days)
	}
}

func TestStore_Closed(t *testing.T) {
	s := New(Config{Path: filepath.Join(t.TempDir(), "local.db")})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), Sample{DeviceID: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Put() after Close = %v, want ErrClosed", err)
	}
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	first := New(Config{Path: path})
	if err := first.Put(ctx, Sample{DeviceID: "inv-01", Timestamp: 42}); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := New(Config{Path: path})
	defer second.Close()
	got, ok, err := second.Latest(ctx, "inv-01")
	if err != nil || !ok || got.Timestamp != 42 {
		t.Errorf("Latest() after reopen = %+v %v %v", got, ok, err)
	}
}
