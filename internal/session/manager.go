package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
)

// storeKey is the KV key the session is persisted under.
const storeKey = "session"

// expirySkew refreshes a credential slightly before it expires.
const expirySkew = 30 * time.Second

var (
	// ErrNoSession means nobody is signed in.
	ErrNoSession = errors.New("session: not signed in")

	// ErrExpired means the credential expired and cannot be refreshed.
	ErrExpired = errors.New("session: credential expired")
)

// KV persists the encoded session. *localstore.KV satisfies it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Authenticator exchanges credentials with the gateway.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// Manager owns the current session.
type Manager struct {
	kv     KV
	auth   Authenticator
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	current Session
}

// NewManager returns a Manager with no session loaded.
func NewManager(kv KV, auth Authenticator, logger *logging.Logger) *Manager {
	return &Manager{
		kv:     kv,
		auth:   auth,
		logger: logger,
		now:    time.Now,
	}
}

// Load restores the persisted session, if any. A missing or unreadable
// entry leaves the manager signed out and is not an error.
func (m *Manager) Load(ctx context.Context) (Session, error) {
	data, err := m.kv.Get(ctx, storeKey)
	if err != nil {
		m.logger.Debug("no stored session", "error", err)
		return Session{}, nil
	}
	s, err := decode(data)
	if err != nil {
		m.logger.Warn("discarding unreadable session", "error", err)
		return Session{}, m.kv.Delete(ctx, storeKey)
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return s, nil
}

// Current returns the session in memory.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Login signs in and persists the new session.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	s, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store(ctx, s); err != nil {
		return Session{}, err
	}
	m.logger.Info("signed in", "uid", s.UID)
	return s, nil
}

// Logout forgets the session.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Session{}
	if err := m.kv.Delete(ctx, storeKey); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// store persists s and makes it current. Caller holds mu.
func (m *Manager) store(ctx context.Context, s Session) error {
	data, err := encode(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := m.kv.Set(ctx, storeKey, data); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	m.current = s
	return nil
}

// valid returns a usable session, refreshing it when it is about to expire.
func (m *Manager) valid(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current
	if !s.Authenticated() {
		return Session{}, ErrNoSession
	}
	if s.Expiry.IsZero() || m.now().Add(expirySkew).Before(s.Expiry) {
		return s, nil
	}
	if s.RefreshToken == "" {
		return Session{}, ErrExpired
	}

	fresh, err := m.auth.Refresh(ctx, s.RefreshToken)
	if err != nil {
		return Session{}, fmt.Errorf("refreshing session: %w", err)
	}
	if fresh.Email == "" {
		fresh.Email = s.Email
	}
	if fresh.Role == "" {
		fresh.Role = s.Role
	}
	if err := m.store(ctx, fresh); err != nil {
		return Session{}, err
	}
	m.logger.Debug("session refreshed", "uid", fresh.UID)
	return fresh, nil
}

// TokenSource returns a source that attaches the current credential and
// refreshes it through the Authenticator when it expires.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

type tokenSource struct {
	ctx context.Context //nolint:containedctx // oauth2.TokenSource has no context parameter
	m   *Manager
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	s, err := ts.m.valid(ts.ctx)
	if err != nil {
		return nil, err
	}
	return s.Token(), nil
}
