package identity

import (
	"context"
	"net/mail"
	"strings"
)

// Provider issues and verifies bearer credentials.
type Provider interface {
	// CreateUser registers email/password and returns the new account UID.
	CreateUser(ctx context.Context, email, password string) (uid string, err error)

	// SignIn exchanges credentials for tokens. Failures carry an
	// *UpstreamError with the status to pass through.
	SignIn(ctx context.Context, email, password string) (*Tokens, error)

	// Refresh exchanges a refresh token for a new ID token.
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)

	// Verify validates a raw ID token. Any failure wraps ErrInvalidToken.
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// normalizeEmail trims and lowercases an address and checks it parses.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
