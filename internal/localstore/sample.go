package localstore

import (
	"fmt"
	"strconv"
	"time"
)

// dayLayout is the YYYYMMDD bucket stored next to every sample.
const dayLayout = "20060102"

// Sample is one cached telemetry reading.
type Sample struct {
	// ID is assigned by the store on insert and ignored by Put.
	ID       int64
	DeviceID string
	// Timestamp is epoch milliseconds and orders samples of a device.
	Timestamp int64
	// Value is the instantaneous reading (W). Nil means absent, not zero.
	Value *float64
	// Level is the cumulative reading (kWh today). Nil means absent.
	Level *float64
	// Status is a bool, a free-form string, or nil.
	Status any
}

// Day returns the YYYYMMDD bucket of s in loc.
func (s Sample) Day(loc *time.Location) string {
	return dayKey(s.Timestamp, loc)
}

func dayKey(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format(dayLayout)
}

// encodeStatus renders a status for the estado column. Booleans become
// "true"/"false", strings are kept verbatim, nil stays NULL.
func encodeStatus(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return s, nil
	case bool:
		return strconv.FormatBool(s), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	default:
		return nil, fmt.Errorf("unsupported status type %T", v)
	}
}

// decodeStatus reverses encodeStatus. "true" and "false" read back as
// booleans; any other text is returned as a string.
func decodeStatus(v *string) any {
	if v == nil {
		return nil
	}
	switch *v {
	case "true":
		return true
	case "false":
		return false
	default:
		return *v
	}
}
