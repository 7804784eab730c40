package dashboard

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/suntec-core/internal/gateway"
	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/localstore"
	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// Defaults for Config.
const (
	DefaultPointBudget = 360
	DefaultRetention   = 48 * time.Hour
	defaultRangeLimit  = 1000
)

// View receives paints from the Coordinator. Methods may be called from
// any goroutine, in paint order per device.
type View interface {
	PaintKPI(k KPI)
	// PaintNoData marks a device with no reading anywhere. It is distinct
	// from a zero reading.
	PaintNoData(deviceID string)
	PaintSeries(deviceID string, w Window, pts []Point)
	PaintStream(deviceID string, st gateway.StreamState)
}

// Live is an open live subscription.
type Live interface {
	Updates() <-chan gateway.Update
	Close()
}

// Remote is the gateway as the Coordinator uses it.
type Remote interface {
	Latest(ctx context.Context, deviceID string) (telemetry.Reading, error)
	Range(ctx context.Context, deviceID string, q gateway.RangeQuery) ([]telemetry.Item, error)
	Subscribe(ctx context.Context, deviceID string, onState func(gateway.StreamState)) Live
}

// Cache is the local time-series store. *localstore.Store satisfies it.
type Cache interface {
	Put(ctx context.Context, s localstore.Sample) error
	PutMany(ctx context.Context, samples []localstore.Sample) (int, error)
	Latest(ctx context.Context, deviceID string) (localstore.Sample, bool, error)
	Range(ctx context.Context, deviceID string, fromMs, toMs int64, limit int) ([]localstore.Sample, error)
	Prune(ctx context.Context, cutoffMs int64) (int64, error)
}

// Config tunes a Coordinator.
type Config struct {
	PointBudget int
	Retention   time.Duration
	Location    *time.Location
	// RangeLimit caps remote and cached range reads.
	RangeLimit int
}

// Coordinator runs the offline-first read path and the live path for the
// devices on screen. It is the only writer of the Cache.
type Coordinator struct {
	remote Remote
	cache  Cache
	view   View
	logger *logging.Logger
	cfg    Config
	now    func() time.Time

	mu          sync.Mutex
	generations map[string]uint64
	active      map[string]*activation
}

// activation is one device view: its live subscription and chart state.
type activation struct {
	deviceID string
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	series map[Window][]Point
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(remote Remote, cache Cache, view View, logger *logging.Logger, cfg Config) *Coordinator {
	if cfg.PointBudget <= 0 {
		cfg.PointBudget = DefaultPointBudget
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RangeLimit <= 0 {
		cfg.RangeLimit = defaultRangeLimit
	}
	return &Coordinator{
		remote:      remote,
		cache:       cache,
		view:        view,
		logger:      logger.With("component", "coordinator"),
		cfg:         cfg,
		now:         time.Now,
		generations: make(map[string]uint64),
		active:      make(map[string]*activation),
	}
}

// Activate shows deviceID: warm-up, first paint, charts, retention, then
// a live subscription that runs until Deactivate, Close or a later
// Activate of the same device. It returns once the live phase started.
//
// Fetches are not cancelled when the view moves on. Their results are
// still stored, but only the current activation paints.
func (c *Coordinator) Activate(ctx context.Context, deviceID string) {
	act := c.begin(deviceID)
	c.logger.Debug("activating", "device_id", deviceID, "generation", act.gen)

	c.warmUp(ctx, act)
	c.firstPaint(ctx, act)
	for _, w := range Windows {
		c.populate(ctx, act, w)
	}
	c.prune(ctx)
	c.startLive(act)
}

// begin retires the device's previous activation and registers a new one.
func (c *Coordinator) begin(deviceID string) *activation {
	c.mu.Lock()
	prev := c.active[deviceID]
	c.generations[deviceID]++
	act := &activation{
		deviceID: deviceID,
		gen:      c.generations[deviceID],
		series:   make(map[Window][]Point),
	}
	c.active[deviceID] = act
	c.mu.Unlock()

	prev.stop()
	return act
}

// stop closes the live subscription and waits for its goroutine.
func (a *activation) stop() {
	if a == nil || a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

// current reports whether act is still the device's activation.
func (c *Coordinator) current(act *activation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[act.deviceID] == act.gen
}

// paint runs fn only while act is current.
func (c *Coordinator) paint(act *activation, fn func()) {
	if c.current(act) {
		fn()
	}
}

// Deactivate closes deviceID's live subscription. Later paints from its
// in-flight work are dropped.
func (c *Coordinator) Deactivate(deviceID string) {
	c.mu.Lock()
	act := c.active[deviceID]
	delete(c.active, deviceID)
	c.generations[deviceID]++
	c.mu.Unlock()

	act.stop()
}

// Close deactivates every device.
func (c *Coordinator) Close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Deactivate(id)
	}
}

// warmUp backfills the cache with both windows from the gateway.
// Failures are logged and ignored.
func (c *Coordinator) warmUp(ctx context.Context, act *activation) {
	now := c.now()
	seen := make(map[string]bool)
	var merged []localstore.Sample

	for _, w := range Windows {
		from, to := w.Bounds(now, c.cfg.Location)
		items, err := c.remote.Range(ctx, act.deviceID, gateway.RangeQuery{From: from, To: to, Limit: c.cfg.RangeLimit})
		if err != nil {
			c.logger.Debug("warm-up fetch failed", "device_id", act.deviceID, "window", w.String(), "error", err)
			continue
		}
		for _, it := range items {
			if it.ID != "" {
				if seen[it.ID] {
					continue
				}
				seen[it.ID] = true
			}
			if s, ok := sampleFromReading(act.deviceID, it.Reading); ok {
				merged = append(merged, s)
			}
		}
	}

	if len(merged) == 0 {
		return
	}
	if _, err := c.cache.PutMany(ctx, merged); err != nil {
		c.logger.Debug("warm-up store failed", "device_id", act.deviceID, "error", err)
	}
}

// firstPaint shows the newest reading from the gateway, else from the
// cache, else the no-data state.
func (c *Coordinator) firstPaint(ctx context.Context, act *activation) {
	r, err := c.remote.Latest(ctx, act.deviceID)
	if err == nil {
		if s, ok := sampleFromReading(act.deviceID, r); ok {
			if err := c.cache.Put(ctx, s); err != nil {
				c.logger.Warn("storing latest failed", "device_id", act.deviceID, "error", err)
			}
			c.paint(act, func() { c.view.PaintKPI(NewKPI(s)) })
			return
		}
	} else if !errors.Is(err, gateway.ErrNotFound) {
		c.logger.Debug("latest fetch failed, using cache", "device_id", act.deviceID, "error", err)
	}

	s, ok, err := c.cache.Latest(ctx, act.deviceID)
	if err != nil {
		c.logger.Warn("reading cached latest failed", "device_id", act.deviceID, "error", err)
	}
	if ok {
		c.paint(act, func() { c.view.PaintKPI(NewKPI(s)) })
		return
	}
	c.paint(act, func() { c.view.PaintNoData(act.deviceID) })
}

// populate paints w from the cache, then replaces it with a gateway
// refresh when one succeeds.
func (c *Coordinator) populate(ctx context.Context, act *activation, w Window) {
	from, to := w.Bounds(c.now(), c.cfg.Location)

	cached, err := c.cache.Range(ctx, act.deviceID, from, to, c.cfg.RangeLimit)
	if err != nil {
		c.logger.Warn("reading cached series failed", "device_id", act.deviceID, "window", w.String(), "error", err)
	} else {
		c.setSeries(act, w, w.series(cached))
	}

	items, err := c.remote.Range(ctx, act.deviceID, gateway.RangeQuery{From: from, To: to, Limit: c.cfg.RangeLimit})
	if err != nil {
		c.logger.Debug("series refresh failed, keeping cache", "device_id", act.deviceID, "window", w.String(), "error", err)
		return
	}

	fresh := make([]localstore.Sample, 0, len(items))
	for _, it := range items {
		if s, ok := sampleFromReading(act.deviceID, it.Reading); ok {
			fresh = append(fresh, s)
		}
	}
	if _, err := c.cache.PutMany(ctx, fresh); err != nil {
		c.logger.Debug("storing refreshed series failed", "device_id", act.deviceID, "error", err)
	}
	c.setSeries(act, w, w.series(fresh))
}

// setSeries downsamples pts to the budget, keeps it as the live series and
// paints it.
func (c *Coordinator) setSeries(act *activation, w Window, pts []Point) {
	pts = Downsample(pts, c.cfg.PointBudget)

	painted := slices.Clone(pts)

	act.mu.Lock()
	act.series[w] = pts
	act.mu.Unlock()

	c.paint(act, func() { c.view.PaintSeries(act.deviceID, w, painted) })
}

// prune drops cached samples past the retention horizon.
func (c *Coordinator) prune(ctx context.Context) {
	cutoff := c.now().Add(-c.cfg.Retention).UnixMilli()
	n, err := c.cache.Prune(ctx, cutoff)
	if err != nil {
		c.logger.Debug("prune failed", "error", err)
		return
	}
	if n > 0 {
		c.logger.Info("pruned local samples", "removed", n)
	}
}

// startLive opens act's subscription and relays it until act is stopped.
func (c *Coordinator) startLive(act *activation) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.generations[act.deviceID] != act.gen {
		c.mu.Unlock()
		cancel()
		return
	}
	act.cancel, act.done = cancel, done
	c.mu.Unlock()

	live := c.remote.Subscribe(ctx, act.deviceID, func(st gateway.StreamState) {
		c.paint(act, func() { c.view.PaintStream(act.deviceID, st) })
	})

	go func() {
		defer close(done)
		defer live.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-live.Updates():
				if !ok {
					return
				}
				c.apply(ctx, act, u)
			}
		}
	}()
}

// apply handles one pushed update: KPI, cache, then both series.
func (c *Coordinator) apply(ctx context.Context, act *activation, u gateway.Update) {
	if u.Err != nil {
		c.logger.Warn("live channel error", "device_id", act.deviceID, "error", u.Err)
		return
	}
	s, ok := sampleFromReading(act.deviceID, u.Reading)
	if !ok {
		return
	}

	c.paint(act, func() { c.view.PaintKPI(NewKPI(s)) })
	if err := c.cache.Put(ctx, s); err != nil {
		c.logger.Warn("storing live sample failed", "device_id", act.deviceID, "error", err)
	}

	for _, w := range Windows {
		p, ok := w.point(s)
		if !ok {
			continue
		}
		act.mu.Lock()
		pts := appendBounded(act.series[w], p, c.cfg.PointBudget)
		act.series[w] = pts
		painted := slices.Clone(pts)
		act.mu.Unlock()

		c.paint(act, func() { c.view.PaintSeries(act.deviceID, w, painted) })
	}
}

// Series returns a copy of deviceID's in-memory series for w.
func (c *Coordinator) Series(deviceID string, w Window) []Point {
	c.mu.Lock()
	act := c.active[deviceID]
	c.mu.Unlock()
	if act == nil {
		return nil
	}
	act.mu.Lock()
	defer act.mu.Unlock()
	return slices.Clone(act.series[w])
}
