package dashboard

import (
	"encoding/json"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   any
		want Status
	}{
		{true, StatusOn},
		{false, StatusOff},
		{"ENCENDIDO", StatusOn},
		{"encendido", StatusOn},
		{" On ", StatusOn},
		{"activo", StatusOn},
		{"Sí", StatusOn},
		{"si", StatusOn},
		{"YES", StatusOn},
		{"1", StatusOn},
		{"true", StatusOn},
		{"APAGADO", StatusOff},
		{"off", StatusOff},
		{"Inactivo", StatusOff},
		{"no", StatusOff},
		{"0", StatusOff},
		{"false", StatusOff},
		{"standby", StatusUnknown},
		{"", StatusUnknown},
		{nil, StatusUnknown},
		{float64(1), StatusOn},
		{float64(0), StatusOff},
		{2, StatusOn},
		{int64(0), StatusOff},
		{json.Number("3.5"), StatusOn},
		{[]string{"on"}, StatusUnknown},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStatus_Label(t *testing.T) {
	if StatusOn.Label() != "Encendido" || StatusOff.Label() != "Apagado" || StatusUnknown.Label() != "Desconocido" {
		t.Errorf("labels = %q %q %q", StatusOn, StatusOff, StatusUnknown)
	}
}
