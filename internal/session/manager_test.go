package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/localstore"
)

type fakeAuth struct {
	mu        sync.Mutex
	logins    int
	refreshes int
	expiry    time.Time
	err       error
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.err != nil {
		return Session{}, f.err
	}
	if password != "secreto123" {
		return Session{}, errors.New("INVALID_LOGIN_CREDENTIALS")
	}
	return Session{
		IDToken:      "id-1",
		RefreshToken: "rt-1",
		UID:          "uid-1",
		Email:        email,
		Role:         RoleUser,
		Expiry:       f.expiry,
	}, nil
}

func (f *fakeAuth) Refresh(_ context.Context, refreshToken string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.err != nil {
		return Session{}, f.err
	}
	return Session{
		IDToken:      "id-refreshed-" + refreshToken,
		RefreshToken: "rt-2",
		UID:          "uid-1",
		Expiry:       f.expiry.Add(time.Hour),
	}, nil
}

func newTestManager(t *testing.T, auth *fakeAuth) (*Manager, *localstore.Store) {
	t.Helper()
	store := localstore.New(localstore.Config{Path: filepath.Join(t.TempDir(), "local.db")})
	t.Cleanup(func() { store.Close() })
	return NewManager(store.KV(), auth, logging.Discard()), store
}

func TestManager_LoginPersists(t *testing.T) {
	ctx := context.Background()
	expiry := time.Unix(1_900_000_000, 0)
	auth := &fakeAuth{expiry: expiry}
	m, store := newTestManager(t, auth)

	if m.Current().Authenticated() {
		t.Fatal("new manager should be signed out")
	}

	s, err := m.Login(ctx, "maria@example.com", "secreto123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !s.Authenticated() || m.Current().IDToken != "id-1" {
		t.Errorf("Login() = %+v", s)
	}

	// A second manager over the same store sees the session.
	other := NewManager(store.KV(), auth, logging.Discard())
	got, err := other.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.IDToken != "id-1" || got.Email != "maria@example.com" || got.Role != RoleUser || !got.Expiry.Equal(expiry) {
		t.Errorf("Load() = %+v", got)
	}
}

func TestManager_LoginFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeAuth{})

	if _, err := m.Login(ctx, "maria@example.com", "wrong"); err == nil {
		t.Fatal("Login() with a bad password should fail")
	}
	if m.Current().Authenticated() {
		t.Error("failed login should not create a session")
	}
	if s, err := m.Load(ctx); err != nil || s.Authenticated() {
		t.Errorf("Load() = %+v, %v; want empty", s, err)
	}
}

func TestManager_Logout(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeAuth{})

	if _, err := m.Login(ctx, "maria@example.com", "secreto123"); err != nil {
		t.Fatal(err)
	}
	if err := m.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Current().Authenticated() {
		t.Error("Logout() should clear the current session")
	}
	if s, _ := m.Load(ctx); s.Authenticated() {
		t.Error("Logout() should delete the stored session")
	}
}

func TestManager_LoadDiscardsGarbage(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, &fakeAuth{})

	if err := store.KV().Set(ctx, storeKey, []byte{0xff, 0x00, 0x13}); err != nil {
		t.Fatal(err)
	}
	s, err := m.Load(ctx)
	if err != nil || s.Authenticated() {
		t.Errorf("Load() = %+v, %v", s, err)
	}
	if _, err := store.KV().Get(ctx, storeKey); !errors.Is(err, localstore.ErrKeyNotFound) {
		t.Errorf("garbage entry should be removed, Get() = %v", err)
	}
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)

	tests := []struct {
		name          string
		login         bool
		expiry        time.Time
		authErr       error
		wantToken     string
		wantErr       error
		wantRefreshes int
	}{
		{name: "signed out", wantErr: ErrNoSession},
		{name: "valid", login: true, expiry: now.Add(time.Hour), wantToken: "id-1"},
		{name: "no expiry", login: true, wantToken: "id-1"},
		{name: "about to expire", login: true, expiry: now.Add(10 * time.Second), wantToken: "id-refreshed-rt-1", wantRefreshes: 1},
		{name: "expired", login: true, expiry: now.Add(-time.Minute), wantToken: "id-refreshed-rt-1", wantRefreshes: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuth{expiry: tt.expiry}
			m, _ := newTestManager(t, auth)
			m.now = func() time.Time { return now }
			if tt.login {
				if _, err := m.Login(ctx, "maria@example.com", "secreto123"); err != nil {
					t.Fatal(err)
				}
			}

			tok, err := m.TokenSource(ctx).Token()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Token() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tok.AccessToken != tt.wantToken || tok.Type() != "Bearer" {
				t.Errorf("Token() = %q (%s), want %q", tok.AccessToken, tok.Type(), tt.wantToken)
			}
			if auth.refreshes != tt.wantRefreshes {
				t.Errorf("refreshes = %d, want %d", auth.refreshes, tt.wantRefreshes)
			}
		})
	}
}

func TestTokenSource_RefreshKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)
	auth := &fakeAuth{expiry: now.Add(-time.Minute)}
	m, _ := newTestManager(t, auth)
	m.now = func() time.Time { return now }

	if _, err := m.Login(ctx, "maria@example.com", "secreto123"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.TokenSource(ctx).Token(); err != nil {
		t.Fatal(err)
	}

	s, _ := m.Load(ctx)
	if s.Email != "maria@example.com" || s.Role != RoleUser || s.RefreshToken != "rt-2" {
		t.Errorf("refreshed session = %+v", s)
	}
}

func TestTokenSource_RefreshFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)
	auth := &fakeAuth{expiry: now.Add(-time.Minute)}
	m, _ := newTestManager(t, auth)
	m.now = func() time.Time { return now }

	if _, err := m.Login(ctx, "maria@example.com", "secreto123"); err != nil {
		t.Fatal(err)
	}
	auth.err = errors.New("INVALID_REFRESH_TOKEN")
	if _, err := m.TokenSource(ctx).Token(); err == nil {
		t.Error("Token() should fail when refresh fails")
	}
	if m.Current().IDToken != "id-1" {
		t.Error("failed refresh should keep the previous session")
	}
}

func TestSession_Token(t *testing.T) {
	expiry := time.Unix(1_800_000_000, 0)
	tok := Session{IDToken: "abc", RefreshToken: "r", Expiry: expiry}.Token()
	if tok.AccessToken != "abc" || tok.RefreshToken != "r" || !tok.Expiry.Equal(expiry) {
		t.Errorf("Token() = %+v", tok)
	}
}
