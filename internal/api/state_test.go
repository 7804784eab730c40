package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// brokenSource fails every read with err.
type brokenSource struct {
	*telemetry.MemorySource
	err error
}

func (b brokenSource) Latest(context.Context, string) (telemetry.Record, error) {
	return telemetry.Record{}, b.err
}

func (b brokenSource) Range(context.Context, string, telemetry.RangeQuery) ([]telemetry.Record, error) {
	return nil, b.err
}

func TestLatestState(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "maria@suntec.mx")

	rec := env.do(t, http.MethodGet, "/devices/inv-01/state/last", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty device status = %d, want 404", rec.Code)
	}
	if got := errorMessage(t, rec); got != "Sin lecturas de state." {
		t.Errorf("error = %q", got)
	}

	env.seed(t,
		telemetry.Record{DeviceID: "inv-01", Estado: "encendido", Nivel: 12.5, Valor: 830.0, TS: int64(1000)},
		telemetry.Record{DeviceID: "inv-01", Valor: 910.0, TS: int64(2000)},
	)

	rec = env.do(t, http.MethodGet, "/devices/inv-01/state/last", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"estado":null,"nivel":null,"valor":910,"ts":2000}`+"\n" {
		t.Errorf("body = %s, want missing fields as null", got)
	}
}

func TestStateRange(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "maria@suntec.mx")
	env.seed(t,
		telemetry.Record{DeviceID: "inv-01", Valor: 1.0, TS: int64(1000)},
		telemetry.Record{DeviceID: "inv-01", Valor: 2.0, TS: int64(2000)},
		telemetry.Record{DeviceID: "inv-01", Valor: 2.5, TS: int64(2000)},
		telemetry.Record{DeviceID: "inv-01", Valor: 3.0, TS: int64(3000)},
		telemetry.Record{DeviceID: "inv-02", Valor: 9.0, TS: int64(2500)},
	)

	tests := []struct {
		name   string
		query  string
		wantTS []int64
	}{
		{"newest first", "", []int64{3000, 2000, 2000, 1000}},
		{"inclusive bounds", "?from=2000&to=3000", []int64{3000, 2000, 2000}},
		{"from only", "?from=2500", []int64{3000}},
		{"limit", "?limit=2", []int64{3000, 2000}},
		{"empty window", "?from=5000", []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/devices/inv-01/state"+tt.query, token, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			var body struct {
				DeviceID string `json:"deviceId"`
				Count    int    `json:"count"`
				Items    []struct {
					ID string `json:"id"`
					TS int64  `json:"ts"`
				} `json:"items"`
			}
			decodeBody(t, rec, &body)
			if body.DeviceID != "inv-01" || body.Count != len(tt.wantTS) || len(body.Items) != len(tt.wantTS) {
				t.Fatalf("range = %+v, want %d items", body, len(tt.wantTS))
			}
			for i, ts := range tt.wantTS {
				if body.Items[i].TS != ts {
					t.Errorf("items[%d].ts = %d, want %d", i, body.Items[i].TS, ts)
				}
				if body.Items[i].ID == "" {
					t.Errorf("items[%d] has no id", i)
				}
			}
		})
	}
}

func TestStateRange_EmptyItemsIsArray(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "maria@suntec.mx")

	rec := env.do(t, http.MethodGet, "/devices/nada/state", token, "")
	if got := rec.Body.String(); got != `{"deviceId":"nada","count":0,"items":[]}`+"\n" {
		t.Errorf("body = %s", got)
	}
}

func TestStateRange_BadParams(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "maria@suntec.mx")

	tests := []struct {
		query   string
		wantMsg string
	}{
		{"?limit=0", msgInvalidLimit},
		{"?limit=-5", msgInvalidLimit},
		{"?limit=abc", msgInvalidLimit},
		{"?limit=2.5", msgInvalidLimit},
		{"?from=ayer", "invalid from"},
		{"?to=1e3", "invalid to"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/devices/inv-01/state"+tt.query, token, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := errorMessage(t, rec); got != tt.wantMsg {
				t.Errorf("error = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{"", 50, true},
		{"1", 1, true},
		{"1000", 1000, true},
		{"5000", 1000, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"x", 0, false},
	}
	for _, tt := range tests {
		got, ok := env.srv.parseLimit(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseLimit(%q) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestStateSourceErrors(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "maria@suntec.mx")

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"invalid device", telemetry.ErrInvalidDevice, http.StatusBadRequest, "invalid deviceId"},
		{"store failure", errors.New("influx: connection refused"), http.StatusInternalServerError, "influx: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.srv.source = brokenSource{env.source, tt.err}
			for _, path := range []string{"/devices/x/state/last", "/devices/x/state"} {
				rec := env.do(t, http.MethodGet, path, token, "")
				if rec.Code != tt.wantStatus {
					t.Errorf("%s status = %d, want %d", path, rec.Code, tt.wantStatus)
				}
				if got := errorMessage(t, rec); got != tt.wantMsg {
					t.Errorf("%s error = %q, want %q", path, got, tt.wantMsg)
				}
			}
		})
	}
}
