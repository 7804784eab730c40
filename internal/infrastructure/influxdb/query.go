package influxdb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Row is one pivoted Flux record: the point time and its columns.
type Row struct {
	Time   time.Time
	Values map[string]any
}

// Query runs a Flux query and collects every record.
func (c *Client) Query(ctx context.Context, flux string) ([]Row, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close() //nolint:errcheck // read-only result

	var rows []Row
	for result.Next() {
		rec := result.Record()
		rows = append(rows, Row{Time: rec.Time(), Values: rec.Values()})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return rows, nil
}

var tagValuePattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)

// ValidTagValue reports whether s can be embedded in a Flux string literal
// without escaping.
func ValidTagValue(s string) bool {
	return tagValuePattern.MatchString(s)
}

// StateQuery describes a newest-first read of one device's samples.
// Zero Start reads from the epoch; zero Stop reads up to now.
type StateQuery struct {
	Bucket      string
	Measurement string
	DeviceID    string
	Start       time.Time
	Stop        time.Time
	Limit       int
}

// Flux renders the query. Fields are pivoted into one row per timestamp.
// Stop is exclusive in Flux, so callers wanting an inclusive bound pass
// the bound plus one millisecond.
func (q StateQuery) Flux() string {
	start := "0"
	if !q.Start.IsZero() {
		start = q.Start.UTC().Format(time.RFC3339Nano)
	}
	stop := "now()"
	if !q.Stop.IsZero() {
		stop = q.Stop.UTC().Format(time.RFC3339Nano)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", q.Bucket)
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", start, stop)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q and r.%s == %q)\n", q.Measurement, TagDeviceID, q.DeviceID)
	b.WriteString("  |> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	b.WriteString("  |> group()\n")
	b.WriteString("  |> sort(columns: [\"_time\"], desc: true)\n")
	if q.Limit > 0 {
		fmt.Fprintf(&b, "  |> limit(n: %d)\n", q.Limit)
	}
	return b.String()
}
