package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/session"
)

const testToken = "tok-123"

func newTestClient(t *testing.T, mux http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
		ReconnectDelay: 10 * time.Millisecond,
	}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: testToken}), logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // test helper
}

func requireBearer(t *testing.T, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
			t.Errorf("Authorization = %q", got)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "No token provided"})
			return
		}
		next(w, r)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{BaseURL: ""}, nil, logging.Discard()); err == nil {
		t.Error("New() with empty url should fail")
	}
	if _, err := New(Config{BaseURL: "http://gw"}, nil, nil); err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestClient_Login(t *testing.T) {
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "uid-1",
		"email": "admin@example.com",
		"role":  "admin",
	}).SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("login should not carry a bearer token")
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test
		if body["password"] != "secreto123" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "INVALID_LOGIN_CREDENTIALS"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"idToken": idToken, "refreshToken": "rt", "uid": "uid-1", "expiresIn": "3600",
		})
	})
	c := newTestClient(t, mux)
	now := time.Unix(1_800_000_000, 0)
	c.now = func() time.Time { return now }

	s, err := c.Login(context.Background(), "admin@example.com", "secreto123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.IDToken != idToken || s.RefreshToken != "rt" || s.UID != "uid-1" {
		t.Errorf("Login() = %+v", s)
	}
	if s.Role != session.RoleAdmin {
		t.Errorf("Role = %q, want admin", s.Role)
	}
	if !s.Expiry.Equal(now.Add(time.Hour)) {
		t.Errorf("Expiry = %v", s.Expiry)
	}

	_, err = c.Login(context.Background(), "admin@example.com", "wrong")
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Status != http.StatusBadRequest || gwErr.Message != "INVALID_LOGIN_CREDENTIALS" {
		t.Errorf("Login(wrong) error = %v", err)
	}
}

func TestClient_RefreshOpaqueToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"idToken": "not-a-jwt", "refreshToken": "rt-2", "uid": "uid-1", "expiresIn": "",
		})
	})
	c := newTestClient(t, mux)

	s, err := c.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Role != session.RoleUser || !s.Expiry.IsZero() || s.RefreshToken != "rt-2" {
		t.Errorf("Refresh() = %+v", s)
	}
}

func TestClient_Latest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices/{id}/state/last", requireBearer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "inv-01":
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Write([]byte(`{"estado":"ENCENDIDO","nivel":12.5,"valor":null,"ts":1700000000000}`)) //nolint:errcheck // test
		case "broken":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "influx down"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Sin lecturas de state."})
		}
	}))
	c := newTestClient(t, mux)
	ctx := context.Background()

	r, err := c.Latest(ctx, "inv-01")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if r.Estado != "ENCENDIDO" || r.Nivel == nil || *r.Nivel != 12.5 || r.Valor != nil || *r.TS != 1700000000000 {
		t.Errorf("Latest() = %+v", r)
	}

	if _, err := c.Latest(ctx, "empty"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest(empty) error = %v, want ErrNotFound", err)
	}

	_, err = c.Latest(ctx, "broken")
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Message != "influx down" {
		t.Errorf("Latest(broken) error = %v", err)
	}
}

func TestClient_Range(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices/{id}/state", requireBearer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("from") != "1000" || q.Get("to") != "" || q.Get("limit") != "1000" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"deviceId":"inv-01","count":2,"items":[` + //nolint:errcheck // test
			`{"id":"b","estado":true,"nivel":null,"valor":900,"ts":3000},` +
			`{"id":"a","estado":false,"nivel":null,"valor":0,"ts":2000}]}`))
	}))
	c := newTestClient(t, mux)

	items, err := c.Range(context.Background(), "inv-01", RangeQuery{From: 1000, Limit: 1000})
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != "b" || *items[0].TS != 3000 || items[1].Estado != false {
		t.Errorf("Range() = %+v", items)
	}
}

func TestClient_Health(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "vanillaAuth": true, "sunTecReady": false})
	})
	c := newTestClient(t, mux)

	ok, err := c.Health(context.Background())
	if err != nil || ok {
		t.Errorf("Health() = %v, %v; want false while the source is down", ok, err)
	}
}
