package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// LocalProvider is a self-contained Provider backed by the gateway database.
type LocalProvider struct {
	accounts   AccountRepository
	tokens     TokenRepository
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// LocalConfig configures a LocalProvider.
type LocalConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// NewLocalProvider creates a LocalProvider. Zero TTLs default to one hour
// for ID tokens and thirty days for refresh tokens.
func NewLocalProvider(accounts AccountRepository, tokens TokenRepository, cfg LocalConfig) *LocalProvider {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &LocalProvider{
		accounts:   accounts,
		tokens:     tokens,
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
}

// CreateUser registers a standard user account.
func (p *LocalProvider) CreateUser(ctx context.Context, email, password string) (string, error) {
	return p.createAccount(ctx, email, password, RoleUser)
}

// CreateAdmin registers an account with the admin role.
func (p *LocalProvider) CreateAdmin(ctx context.Context, email, password string) (string, error) {
	return p.createAccount(ctx, email, password, RoleAdmin)
}

func (p *LocalProvider) createAccount(ctx context.Context, email, password string, role Role) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}

	account := &Account{Email: email, PasswordHash: hash, Role: role}
	if err := p.accounts.Create(ctx, account); err != nil {
		return "", err
	}
	return account.UID, nil
}

// SignIn verifies credentials and issues an ID token plus a refresh token.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Tokens, error) {
	invalid := &UpstreamError{Status: http.StatusBadRequest, Message: "INVALID_LOGIN_CREDENTIALS", Err: ErrInvalidCredentials}

	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: "INVALID_EMAIL", Err: err}
	}

	account, err := p.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn comparable time so unknown emails are not distinguishable.
			_, _ = HashPassword(password) //nolint:errcheck // timing only
			return nil, invalid
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, invalid
	}
	if account.Disabled {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: "USER_DISABLED", Err: ErrAccountDisabled}
	}

	return p.issue(ctx, account, nil)
}

// Refresh rotates a refresh token. Presenting an already rotated token
// revokes its whole family.
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	invalid := &UpstreamError{Status: http.StatusBadRequest, Message: "INVALID_REFRESH_TOKEN", Err: ErrInvalidToken}

	stored, err := p.tokens.GetByHash(ctx, hashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, invalid
		}
		return nil, err
	}

	if stored.Revoked {
		if err := p.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
			return nil, err
		}
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: "TOKEN_EXPIRED", Err: ErrTokenReuse}
	}
	if !p.now().Before(stored.ExpiresAt) {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: "TOKEN_EXPIRED", Err: ErrInvalidToken}
	}

	account, err := p.accounts.GetByUID(ctx, stored.UID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, &UpstreamError{Status: http.StatusBadRequest, Message: "USER_NOT_FOUND", Err: err}
		}
		return nil, err
	}
	if account.Disabled {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: "USER_DISABLED", Err: ErrAccountDisabled}
	}

	return p.issue(ctx, account, stored)
}

// issue mints tokens for account. prev is the consumed refresh token when
// rotating, nil on sign-in.
func (p *LocalProvider) issue(ctx context.Context, account *Account, prev *RefreshToken) (*Tokens, error) {
	now := p.now()

	idToken, err := signIDToken(account, p.secret, p.accessTTL, now)
	if err != nil {
		return nil, err
	}

	raw, hash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	next := &RefreshToken{
		UID:       account.UID,
		TokenHash: hash,
		ExpiresAt: now.Add(p.refreshTTL),
	}

	if prev == nil {
		err = p.tokens.Create(ctx, next)
	} else {
		next.FamilyID = prev.FamilyID
		err = p.tokens.Rotate(ctx, prev.ID, next)
	}
	if err != nil {
		return nil, err
	}

	return &Tokens{
		IDToken:      idToken,
		RefreshToken: raw,
		UID:          account.UID,
		ExpiresIn:    strconv.Itoa(int(p.accessTTL.Seconds())),
	}, nil
}

// Verify checks an HS256 ID token issued by this provider.
func (p *LocalProvider) Verify(_ context.Context, rawToken string) (*Claims, error) {
	return parseIDToken(rawToken, p.secret)
}

// PruneTokens removes expired refresh tokens.
func (p *LocalProvider) PruneTokens(ctx context.Context) (int64, error) {
	return p.tokens.DeleteExpired(ctx, p.now())
}
