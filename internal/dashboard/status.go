package dashboard

import (
	"encoding/json"
	"strings"
)

// Status is a device's normalized on/off state.
type Status int

const (
	StatusUnknown Status = iota
	StatusOn
	StatusOff
)

// Label returns the display text.
func (s Status) Label() string {
	switch s {
	case StatusOn:
		return "Encendido"
	case StatusOff:
		return "Apagado"
	default:
		return "Desconocido"
	}
}

func (s Status) String() string {
	return s.Label()
}

var (
	onWords  = map[string]bool{"on": true, "encendido": true, "true": true, "1": true, "activo": true, "si": true, "sí": true, "yes": true}
	offWords = map[string]bool{"off": true, "apagado": true, "false": true, "0": true, "inactivo": true, "no": true}
)

// Normalize maps a raw estado value to a Status. Strings are matched
// case-insensitively after trimming; numbers are on when non-zero.
func Normalize(v any) Status {
	switch e := v.(type) {
	case bool:
		if e {
			return StatusOn
		}
		return StatusOff
	case string:
		w := strings.ToLower(strings.TrimSpace(e))
		switch {
		case onWords[w]:
			return StatusOn
		case offWords[w]:
			return StatusOff
		}
	case float64:
		return numberStatus(e)
	case int:
		return numberStatus(float64(e))
	case int64:
		return numberStatus(float64(e))
	case json.Number:
		if f, err := e.Float64(); err == nil {
			return numberStatus(f)
		}
	}
	return StatusUnknown
}

func numberStatus(f float64) Status {
	if f != 0 {
		return StatusOn
	}
	return StatusOff
}
