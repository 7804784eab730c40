package dashboard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/suntec-core/internal/gateway"
	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/localstore"
	"github.com/nerrad567/suntec-core/internal/telemetry"
)

var (
	testNow    = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	errOffline = errors.New("dial tcp: connection refused")
)

func msAgo(d time.Duration) int64 {
	return testNow.Add(-d).UnixMilli()
}

// fakeLive is a controllable live subscription.
type fakeLive struct {
	ch     chan gateway.Update
	remote *fakeRemote
	once   sync.Once
}

func (l *fakeLive) Updates() <-chan gateway.Update { return l.ch }

func (l *fakeLive) Close() {
	l.once.Do(func() {
		l.remote.mu.Lock()
		l.remote.open--
		l.remote.mu.Unlock()
	})
}

// fakeRemote serves canned readings, or fails everything while offline.
type fakeRemote struct {
	mu      sync.Mutex
	offline bool
	latest  *telemetry.Reading
	items   []telemetry.Item // newest first
	block   chan struct{}    // when set, Latest waits on it
	open    int
	maxOpen int
	lives   []*fakeLive
	ranges  []gateway.RangeQuery
}

func (f *fakeRemote) Latest(ctx context.Context, _ string) (telemetry.Reading, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return telemetry.Reading{}, errOffline
	}
	if f.latest == nil {
		return telemetry.Reading{}, gateway.ErrNotFound
	}
	return *f.latest, nil
}

func (f *fakeRemote) Range(_ context.Context, _ string, q gateway.RangeQuery) ([]telemetry.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, q)
	if f.offline {
		return nil, errOffline
	}
	var out []telemetry.Item
	for _, it := range f.items {
		if *it.TS >= q.From && *it.TS <= q.To {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeRemote) Subscribe(_ context.Context, _ string, onState func(gateway.StreamState)) Live {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open++
	f.maxOpen = max(f.maxOpen, f.open)
	l := &fakeLive{ch: make(chan gateway.Update, 8), remote: f}
	f.lives = append(f.lives, l)
	onState(gateway.StateOpen)
	return l
}

func (f *fakeRemote) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeRemote) live(i int) *fakeLive {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lives[i]
}

// recordView keeps every paint.
type recordView struct {
	mu      sync.Mutex
	kpis    []KPI
	noData  []string
	series  map[Window][][]Point
	streams []gateway.StreamState
}

func newRecordView() *recordView {
	return &recordView{series: make(map[Window][][]Point)}
}

func (v *recordView) PaintKPI(k KPI) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.kpis = append(v.kpis, k)
}

func (v *recordView) PaintNoData(deviceID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noData = append(v.noData, deviceID)
}

func (v *recordView) PaintSeries(_ string, w Window, pts []Point) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.series[w] = append(v.series[w], pts)
}

func (v *recordView) PaintStream(_ string, st gateway.StreamState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.streams = append(v.streams, st)
}

func (v *recordView) lastKPI() (KPI, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.kpis) == 0 {
		return KPI{}, 0
	}
	return v.kpis[len(v.kpis)-1], len(v.kpis)
}

func (v *recordView) lastSeries(w Window) []Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	paints := v.series[w]
	if len(paints) == 0 {
		return nil
	}
	return paints[len(paints)-1]
}

func (v *recordView) noDataCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.noData)
}

type harness struct {
	coord  *Coordinator
	remote *fakeRemote
	view   *recordView
	cache  *localstore.Store
}

func newHarness(t *testing.T, budget int) *harness {
	t.Helper()
	cache := localstore.New(localstore.Config{Path: filepath.Join(t.TempDir(), "local.db"), Location: time.UTC})
	t.Cleanup(func() { cache.Close() })

	h := &harness{remote: &fakeRemote{}, view: newRecordView(), cache: cache}
	h.coord = NewCoordinator(h.remote, cache, h.view, logging.Discard(), Config{
		PointBudget: budget,
		Location:    time.UTC,
	})
	h.coord.now = func() time.Time { return testNow }
	t.Cleanup(h.coord.Close)
	return h
}

func item(id string, ts int64, valor, nivel float64, estado any) telemetry.Item {
	return telemetry.Item{ID: id, Reading: telemetry.Reading{Estado: estado, Valor: &valor, Nivel: &nivel, TS: &ts}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestActivate_NoData(t *testing.T) {
	h := newHarness(t, 0)
	h.remote.offline = true

	h.coord.Activate(context.Background(), "inv-01")

	if _, n := h.view.lastKPI(); n != 0 {
		t.Errorf("painted %d KPIs, want none", n)
	}
	if h.view.noDataCount() != 1 {
		t.Errorf("PaintNoData calls = %d, want 1", h.view.noDataCount())
	}
	for _, w := range Windows {
		if pts := h.view.lastSeries(w); len(pts) != 0 {
			t.Errorf("%s series = %v, want empty", w, pts)
		}
	}
}

func TestActivate_NotFoundFallsBackToCache(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	zero := 0.0
	if err := h.cache.Put(ctx, localstore.Sample{DeviceID: "inv-01", Timestamp: msAgo(time.Hour), Value: &zero, Status: false}); err != nil {
		t.Fatal(err)
	}

	h.coord.Activate(ctx, "inv-01")

	k, n := h.view.lastKPI()
	if n != 1 || h.view.noDataCount() != 0 {
		t.Fatalf("KPI paints = %d, no-data paints = %d", n, h.view.noDataCount())
	}
	if k.PowerText() != "0 W" || k.Status != StatusOff {
		t.Errorf("cached KPI = %+v, want a real zero reading", k)
	}
}

func TestActivate_LatestScenario(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	ts := msAgo(time.Minute)
	h.remote.latest = &telemetry.Reading{Estado: "ENCENDIDO", Nivel: ptr(12.5), Valor: ptr(430.0), TS: &ts}

	h.coord.Activate(ctx, "inv-01")

	k, n := h.view.lastKPI()
	if n != 1 {
		t.Fatalf("KPI paints = %d, want 1", n)
	}
	if k.AvailabilityText() != "100%" || k.EnergyText() != "12.5 kWh" || k.Status.Label() != "Encendido" {
		t.Errorf("KPI = %s %s %s", k.AvailabilityText(), k.EnergyText(), k.Status.Label())
	}

	cached, ok, err := h.cache.Latest(ctx, "inv-01")
	if err != nil || !ok || cached.Timestamp != ts {
		t.Errorf("latest not persisted: %+v %v %v", cached, ok, err)
	}
}

func TestActivate_ChartsCacheThenRefresh(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	// The cache holds one stale point; the gateway has three, newest first.
	if err := h.cache.Put(ctx, localstore.Sample{DeviceID: "inv-01", Timestamp: msAgo(20 * time.Hour), Value: ptr(5.0)}); err != nil {
		t.Fatal(err)
	}
	h.remote.items = []telemetry.Item{
		item("c", msAgo(1*time.Hour), 300, 3, true),
		item("b", msAgo(2*time.Hour), 200, 2, true),
		item("a", msAgo(3*time.Hour), 100, 1, true),
	}

	h.coord.Activate(ctx, "inv-01")

	h.view.mu.Lock()
	dayPaints := h.view.series[WindowDay]
	h.view.mu.Unlock()
	if len(dayPaints) != 2 {
		t.Fatalf("24h paints = %d, want cache then refresh", len(dayPaints))
	}
	// Warm-up already stored the gateway points, so the cache paint has all four.
	if len(dayPaints[0]) != 4 || dayPaints[0][0].Value != 5 {
		t.Errorf("cache paint = %v", dayPaints[0])
	}

	refreshed := dayPaints[1]
	want := []float64{100, 200, 300}
	if len(refreshed) != len(want) {
		t.Fatalf("refresh paint = %v", refreshed)
	}
	for i, p := range refreshed {
		if p.Value != want[i] {
			t.Errorf("refresh paint[%d] = %v, want ascending %v", i, p.Value, want)
		}
	}

	today := h.view.lastSeries(WindowToday)
	if len(today) != 3 || today[0].Value != 1 || today[2].Value != 3 {
		t.Errorf("today paint = %v", today)
	}

	for _, q := range h.remote.ranges {
		if q.Limit != defaultRangeLimit {
			t.Errorf("range limit = %d, want %d", q.Limit, defaultRangeLimit)
		}
	}
}

func TestActivate_OfflineChartsFromCache(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.remote.offline = true

	for i, d := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		v := float64(i)
		if err := h.cache.Put(ctx, localstore.Sample{DeviceID: "inv-01", Timestamp: msAgo(d), Value: &v}); err != nil {
			t.Fatal(err)
		}
	}

	h.coord.Activate(ctx, "inv-01")

	pts := h.view.lastSeries(WindowDay)
	if len(pts) != 3 || pts[0].Value != 0 || pts[1].Value != 2 || pts[2].Value != 1 {
		t.Errorf("offline 24h paint = %v", pts)
	}
}

func TestActivate_DownsamplesToBudget(t *testing.T) {
	h := newHarness(t, 50)
	for i := range 500 {
		h.remote.items = append(h.remote.items, item(fmt.Sprint(i), msAgo(time.Duration(i)*time.Minute), float64(i), 0, true))
	}

	h.coord.Activate(context.Background(), "inv-01")

	pts := h.view.lastSeries(WindowDay)
	if len(pts) == 0 || len(pts) > 50 {
		t.Fatalf("painted %d points, want 1..50", len(pts))
	}
	if pts[0].Value != 499 {
		t.Errorf("first point = %v, want the oldest reading", pts[0])
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].TS < pts[i-1].TS {
			t.Fatalf("series out of order at %d", i)
		}
	}
}

func TestActivate_Prunes(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.remote.offline = true

	old := localstore.Sample{DeviceID: "inv-02", Timestamp: msAgo(72 * time.Hour)}
	recent := localstore.Sample{DeviceID: "inv-02", Timestamp: msAgo(time.Hour)}
	if _, err := h.cache.PutMany(ctx, []localstore.Sample{old, recent}); err != nil {
		t.Fatal(err)
	}

	h.coord.Activate(ctx, "inv-01")

	left, err := h.cache.Range(ctx, "inv-02", 0, testNow.UnixMilli(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Timestamp != recent.Timestamp {
		t.Errorf("after prune = %+v, want only the recent sample", left)
	}
}

func TestActivate_LiveUpdates(t *testing.T) {
	h := newHarness(t, 4)
	ctx := context.Background()
	h.remote.items = []telemetry.Item{
		item("d", msAgo(1*time.Minute), 4, 0.4, true),
		item("c", msAgo(2*time.Minute), 3, 0.3, true),
		item("b", msAgo(3*time.Minute), 2, 0.2, true),
		item("a", msAgo(4*time.Minute), 1, 0.1, true),
	}

	h.coord.Activate(ctx, "inv-01")
	live := h.remote.live(0)
	_, before := h.view.lastKPI()

	// Older than the last chart point: still appended, front evicted.
	late := msAgo(10 * time.Minute)
	live.ch <- gateway.Update{Reading: telemetry.Reading{Estado: "apagado", Valor: ptr(0.0), Nivel: ptr(0.05), TS: &late}}

	waitFor(t, "live KPI", func() bool { _, n := h.view.lastKPI(); return n > before })
	k, _ := h.view.lastKPI()
	if k.Status != StatusOff || k.PowerText() != "0 W" {
		t.Errorf("live KPI = %+v", k)
	}

	waitFor(t, "live series", func() bool {
		pts := h.view.lastSeries(WindowDay)
		return len(pts) == 4 && pts[3].TS == late
	})
	pts := h.coord.Series("inv-01", WindowDay)
	wantValues := []float64{2, 3, 4, 0}
	for i, p := range pts {
		if p.Value != wantValues[i] {
			t.Errorf("series[%d] = %v, want %v", i, p.Value, wantValues[i])
		}
	}
	if today := h.coord.Series("inv-01", WindowToday); today[len(today)-1].Value != 0.05 {
		t.Errorf("today series did not get the live point: %v", today)
	}

	rows, err := h.cache.Range(ctx, "inv-01", late, late, 0)
	if err != nil || len(rows) != 1 {
		t.Errorf("live sample not persisted: %v %v", rows, err)
	}

	// Relay errors are logged, not painted, and the subscription continues.
	live.ch <- gateway.Update{Err: errors.New("relay failed")}
	next := msAgo(0)
	live.ch <- gateway.Update{Reading: telemetry.Reading{Estado: true, TS: &next}}
	waitFor(t, "update after error", func() bool {
		k, _ := h.view.lastKPI()
		return k.Timestamp == next
	})
}

func TestActivate_SingleSubscription(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	for range 3 {
		h.coord.Activate(ctx, "inv-01")
	}
	if h.remote.openCount() != 1 {
		t.Errorf("open subscriptions = %d, want 1", h.remote.openCount())
	}
	if h.remote.maxOpen != 1 {
		t.Errorf("max concurrent subscriptions = %d, want 1", h.remote.maxOpen)
	}

	h.coord.Activate(ctx, "inv-02")
	if h.remote.openCount() != 2 {
		t.Errorf("open subscriptions = %d, want one per device", h.remote.openCount())
	}

	h.coord.Deactivate("inv-01")
	if h.remote.openCount() != 1 {
		t.Errorf("open subscriptions after Deactivate = %d, want 1", h.remote.openCount())
	}

	h.coord.Close()
	if h.remote.openCount() != 0 {
		t.Errorf("open subscriptions after Close = %d, want 0", h.remote.openCount())
	}
}

func TestActivate_StaleResultStoredNotPainted(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	ts := msAgo(time.Minute)
	h.remote.latest = &telemetry.Reading{Estado: true, Valor: ptr(1.0), TS: &ts}
	h.remote.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		h.coord.Activate(ctx, "inv-01")
		close(done)
	}()

	// The view moves on while the latest fetch is in flight.
	waitFor(t, "activation to register", func() bool {
		h.coord.mu.Lock()
		defer h.coord.mu.Unlock()
		return h.coord.generations["inv-01"] == 1
	})
	h.coord.Deactivate("inv-01")
	close(h.remote.block)
	<-done

	if _, n := h.view.lastKPI(); n != 0 {
		t.Errorf("stale activation painted %d KPIs", n)
	}
	if h.remote.openCount() != 0 {
		t.Errorf("stale activation opened a subscription")
	}
	if _, ok, _ := h.cache.Latest(ctx, "inv-01"); !ok {
		t.Error("stale result should still be stored")
	}
}

func TestActivate_StreamStatePainted(t *testing.T) {
	h := newHarness(t, 0)
	h.coord.Activate(context.Background(), "inv-01")

	h.view.mu.Lock()
	defer h.view.mu.Unlock()
	if len(h.view.streams) != 1 || h.view.streams[0] != gateway.StateOpen {
		t.Errorf("stream paints = %v", h.view.streams)
	}
}
