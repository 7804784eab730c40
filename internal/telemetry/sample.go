package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is a sample as read from a Source. Values keep their store types
// until normalized by Reading.
type Record struct {
	ID       string
	DeviceID string
	// Estado is a bool, a free-form string, or nil.
	Estado any
	Nivel  any
	Valor  any
	// TS is int64 milliseconds, a float, a numeric or RFC 3339 string, or any
	// value with its own UnixMilli conversion such as time.Time.
	TS any
}

// Reading is the wire form of a sample: {estado, nivel, valor, ts}.
type Reading struct {
	Estado any      `json:"estado"`
	Nivel  *float64 `json:"nivel"`
	Valor  *float64 `json:"valor"`
	TS     *int64   `json:"ts"`
}

// Item is a Reading with its store identifier, as listed by range.
type Item struct {
	ID string `json:"id"`
	Reading
}

// Reading normalizes r for the wire.
func (r Record) Reading() Reading {
	out := Reading{
		Estado: normalizeEstado(r.Estado),
		Nivel:  floatPtr(r.Nivel),
		Valor:  floatPtr(r.Valor),
	}
	if ms, ok := TimestampMillis(r.TS); ok {
		out.TS = &ms
	}
	return out
}

// Item normalizes r and keeps its identifier.
func (r Record) Item() Item {
	return Item{ID: r.ID, Reading: r.Reading()}
}

// Millis returns the record timestamp in milliseconds, or 0 when absent.
func (r Record) Millis() int64 {
	ms, _ := TimestampMillis(r.TS)
	return ms
}

// millisConverter is satisfied by time.Time and by store timestamp types
// that carry their own conversion.
type millisConverter interface {
	UnixMilli() int64
}

// TimestampMillis converts v to epoch milliseconds.
func TimestampMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case *time.Time:
		if t == nil {
			return 0, false
		}
		return t.UnixMilli(), true
	case millisConverter:
		return t.UnixMilli(), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return floatMillis(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return floatMillis(f)
		}
		return 0, false
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UnixMilli(), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// floatMillis truncates f to whole milliseconds. Values outside the int64
// range are rejected rather than wrapped.
func floatMillis(f float64) (int64, bool) {
	// -2^63 is exact as a float64; 2^63 is the first value past MaxInt64.
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func floatPtr(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case *float64:
		return n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func normalizeEstado(v any) any {
	switch e := v.(type) {
	case *string:
		if e == nil {
			return nil
		}
		return *e
	case json.Number:
		if f, err := e.Float64(); err == nil {
			return f
		}
		return e.String()
	default:
		return v
	}
}

// estadoText renders a status for stores that keep it as text. Booleans
// become "true"/"false"; strings are kept verbatim.
func estadoText(v any) (string, bool) {
	switch e := v.(type) {
	case nil:
		return "", false
	case string:
		return e, true
	case bool:
		return strconv.FormatBool(e), true
	case json.Number:
		return e.String(), true
	case float64:
		return strconv.FormatFloat(e, 'f', -1, 64), true
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
