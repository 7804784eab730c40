package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
)

// Service combines a Provider with profile storage.
type Service struct {
	provider Provider
	profiles ProfileRepository
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates an identity Service.
func NewService(provider Provider, profiles ProfileRepository, logger *logging.Logger) *Service {
	return &Service{
		provider: provider,
		profiles: profiles,
		logger:   logger.With("component", "identity"),
		now:      time.Now,
	}
}

// Provider returns the underlying Provider.
func (s *Service) Provider() Provider {
	return s.provider
}

// Register creates the account and its profile document. displayName
// defaults to the local part of the email address.
func (s *Service) Register(ctx context.Context, reg Registration) (uid, email string, err error) {
	if strings.TrimSpace(reg.Email) == "" || reg.Password == "" {
		return "", "", ErrMissingCredentials
	}

	uid, err = s.provider.CreateUser(ctx, reg.Email, reg.Password)
	if err != nil {
		return "", "", err
	}

	email = strings.ToLower(strings.TrimSpace(reg.Email))
	if err := s.profiles.Save(ctx, uid, profileFrom(reg, email, s.now())); err != nil {
		return "", "", fmt.Errorf("account %s created without profile: %w", uid, err)
	}

	s.logger.Info("account registered", "uid", uid)
	return uid, email, nil
}

func profileFrom(reg Registration, email string, now time.Time) *Profile {
	displayName := strings.TrimSpace(reg.DisplayName)
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}
	return &Profile{
		Email:       email,
		DisplayName: displayName,
		Nombre:      reg.Nombre,
		ApellidoP:   reg.ApellidoP,
		ApellidoM:   reg.ApellidoM,
		FechaNac:    reg.FechaNac,
		Telefono:    reg.Telefono,
		CreatedAt:   now.UTC(),
	}
}

// Login exchanges credentials for tokens.
func (s *Service) Login(ctx context.Context, email, password string) (*Tokens, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	return s.provider.SignIn(ctx, email, password)
}

// Refresh exchanges a refresh token for fresh tokens.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}
	return s.provider.Refresh(ctx, refreshToken)
}

// Verify validates a bearer token.
func (s *Service) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	return s.provider.Verify(ctx, rawToken)
}

// Profile returns the stored profile for uid, or nil when none exists.
func (s *Service) Profile(ctx context.Context, uid string) (*Profile, error) {
	p, err := s.profiles.Get(ctx, uid)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, nil
	}
	return p, err
}

// SeedAdmin creates the configured administrator if it does not exist yet.
// Only the local provider can assign roles; other providers skip seeding.
func (s *Service) SeedAdmin(ctx context.Context, email, password, displayName string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}

	local, ok := s.provider.(*LocalProvider)
	if !ok {
		s.logger.Warn("admin seed skipped: roles are managed by the remote provider", "email", email)
		return false, nil
	}

	uid, err := local.CreateAdmin(ctx, email, password)
	if errors.Is(err, ErrEmailExists) {
		s.logger.Info("admin account exists, skipping seed", "email", email)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seeding admin: %w", err)
	}

	if displayName == "" {
		displayName = "Administrador"
	}
	reg := Registration{Email: email, DisplayName: displayName}
	if err := s.profiles.Save(ctx, uid, profileFrom(reg, strings.ToLower(email), s.now())); err != nil {
		return false, fmt.Errorf("seeding admin profile: %w", err)
	}

	s.logger.Info("admin account created", "uid", uid, "email", email)
	return true, nil
}
