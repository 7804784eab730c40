package dashboard

import (
	"math"
	"strconv"

	"github.com/nerrad567/suntec-core/internal/localstore"
	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// noValue is shown for a KPI that has no reading.
const noValue = "—"

// KPI is the headline panel for one device.
type KPI struct {
	DeviceID  string
	Status    Status
	Power     *float64
	Energy    *float64
	Timestamp int64
}

// NewKPI derives the panel from a sample.
func NewKPI(s localstore.Sample) KPI {
	k := KPI{
		DeviceID:  s.DeviceID,
		Status:    Normalize(s.Status),
		Power:     s.Value,
		Timestamp: s.Timestamp,
	}
	if s.Level != nil {
		e := math.Round(*s.Level*100) / 100
		k.Energy = &e
	}
	return k
}

// Availability is 100 when on, 0 when off; ok is false when unknown.
func (k KPI) Availability() (pct float64, ok bool) {
	switch k.Status {
	case StatusOn:
		return 100, true
	case StatusOff:
		return 0, true
	default:
		return 0, false
	}
}

// AvailabilityText renders Availability as "100%".
func (k KPI) AvailabilityText() string {
	pct, ok := k.Availability()
	if !ok {
		return noValue
	}
	return formatNumber(pct) + "%"
}

// EnergyText renders the energy reading as "12.5 kWh".
func (k KPI) EnergyText() string {
	if k.Energy == nil {
		return noValue
	}
	return formatNumber(*k.Energy) + " kWh"
}

// PowerText renders the power reading as "430 W".
func (k KPI) PowerText() string {
	if k.Power == nil {
		return noValue
	}
	return formatNumber(*k.Power) + " W"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// sampleFromReading converts a wire reading. ok is false when the reading
// has no timestamp.
func sampleFromReading(deviceID string, r telemetry.Reading) (localstore.Sample, bool) {
	if r.TS == nil {
		return localstore.Sample{}, false
	}
	return localstore.Sample{
		DeviceID:  deviceID,
		Timestamp: *r.TS,
		Value:     r.Valor,
		Level:     r.Nivel,
		Status:    storableStatus(r.Estado),
	}, true
}

// storableStatus keeps bools and strings; other JSON types are rendered
// as text so the local store accepts them.
func storableStatus(v any) any {
	switch e := v.(type) {
	case nil, bool, string:
		return e
	case float64:
		return formatNumber(e)
	default:
		return nil
	}
}
