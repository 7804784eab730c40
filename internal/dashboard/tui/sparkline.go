package tui

import (
	"math"
	"strings"

	"github.com/nerrad567/suntec-core/internal/dashboard"
)

var bars = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders pts as one row of block characters, at most width
// wide. Longer series are subsampled with dashboard.Downsample.
func Sparkline(pts []dashboard.Point, width int) string {
	if len(pts) == 0 || width <= 0 {
		return ""
	}
	pts = dashboard.Downsample(pts, width)
	lo, hi := bounds(pts)

	var b strings.Builder
	for _, p := range pts {
		idx := 0
		if hi > lo {
			idx = int(math.Round((p.Value - lo) / (hi - lo) * float64(len(bars)-1)))
		}
		b.WriteRune(bars[idx])
	}
	return b.String()
}

func bounds(pts []dashboard.Point) (lo, hi float64) {
	lo, hi = pts[0].Value, pts[0].Value
	for _, p := range pts[1:] {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}
	return lo, hi
}
