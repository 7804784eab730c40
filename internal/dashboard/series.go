package dashboard

import (
	"cmp"
	"slices"
	"time"

	"github.com/nerrad567/suntec-core/internal/localstore"
)

// Window is a tracked chart range.
type Window int

const (
	// WindowDay is the trailing 24 hours, charting power.
	WindowDay Window = iota
	// WindowToday is since local midnight, charting energy.
	WindowToday
)

// Windows lists the charts painted per device.
var Windows = []Window{WindowDay, WindowToday}

func (w Window) String() string {
	if w == WindowToday {
		return "today"
	}
	return "24h"
}

// Bounds returns the inclusive millisecond range of w ending at now.
func (w Window) Bounds(now time.Time, loc *time.Location) (from, to int64) {
	to = now.UnixMilli()
	if w == WindowToday {
		local := now.In(loc)
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return midnight.UnixMilli(), to
	}
	return now.Add(-24 * time.Hour).UnixMilli(), to
}

// Point is one chart point.
type Point struct {
	TS    int64
	Value float64
}

// point extracts w's metric from s. ok is false when the sample lacks it.
func (w Window) point(s localstore.Sample) (Point, bool) {
	v := s.Value
	if w == WindowToday {
		v = s.Level
	}
	if v == nil {
		return Point{}, false
	}
	return Point{TS: s.Timestamp, Value: *v}, true
}

// series builds w's points sorted ascending by timestamp.
func (w Window) series(samples []localstore.Sample) []Point {
	pts := make([]Point, 0, len(samples))
	for _, s := range samples {
		if p, ok := w.point(s); ok {
			pts = append(pts, p)
		}
	}
	slices.SortStableFunc(pts, func(a, b Point) int { return cmp.Compare(a.TS, b.TS) })
	return pts
}

// Downsample keeps every stride-th point, stride = ceil(n/budget), starting
// with the first. The result has at most budget points in the original
// order. Values are never averaged.
func Downsample(pts []Point, budget int) []Point {
	n := len(pts)
	if budget <= 0 || n <= budget {
		return slices.Clone(pts)
	}
	stride := (n + budget - 1) / budget
	out := make([]Point, 0, (n+stride-1)/stride)
	for i := 0; i < n; i += stride {
		out = append(out, pts[i])
	}
	return out
}

// appendBounded appends p and drops points from the front beyond budget.
// p is appended even when older than the last point.
func appendBounded(pts []Point, p Point, budget int) []Point {
	pts = append(pts, p)
	if budget > 0 && len(pts) > budget {
		pts = slices.Delete(pts, 0, len(pts)-budget)
	}
	return pts
}
