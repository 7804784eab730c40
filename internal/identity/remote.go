package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

// RemoteConfig configures a RemoteProvider.
type RemoteConfig struct {
	APIKey    string
	ProjectID string
	// Endpoint is the accounts API base, e.g. https://identitytoolkit.googleapis.com/v1
	Endpoint string
	// TokenURL is the refresh-token exchange endpoint.
	TokenURL string
	JWKSURL  string
	// Issuer defaults to https://securetoken.google.com/<ProjectID>.
	Issuer  string
	Timeout time.Duration
}

// RemoteProvider delegates accounts to an Identity-Toolkit-compatible
// service and verifies its RS256 ID tokens locally.
type RemoteProvider struct {
	api      *resty.Client
	refresh  *oauth2.Config
	verifier *oidc.IDTokenVerifier
	httpc    *http.Client
}

// RemoteOption customises a RemoteProvider.
type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	httpClient *http.Client
	keySet     oidc.KeySet
}

// WithHTTPClient routes all provider traffic through c.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(o *remoteOptions) { o.httpClient = c }
}

// WithKeySet replaces the remote JWKS with a fixed key set.
func WithKeySet(ks oidc.KeySet) RemoteOption {
	return func(o *remoteOptions) { o.keySet = ks }
}

// NewRemoteProvider builds a RemoteProvider. Keys are fetched lazily on the
// first Verify and cached by go-oidc.
func NewRemoteProvider(cfg RemoteConfig, opts ...RemoteOption) (*RemoteProvider, error) {
	if cfg.APIKey == "" || cfg.ProjectID == "" {
		return nil, errors.New("remote identity requires api key and project id")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "https://securetoken.google.com/" + cfg.ProjectID
	}

	o := remoteOptions{httpClient: &http.Client{Timeout: cfg.Timeout}}
	for _, opt := range opts {
		opt(&o)
	}

	keySet := o.keySet
	if keySet == nil {
		if cfg.JWKSURL == "" {
			return nil, errors.New("remote identity requires a jwks url")
		}
		keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), o.httpClient), cfg.JWKSURL)
	}

	api := resty.NewWithClient(o.httpClient).
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetQueryParam("key", cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &RemoteProvider{
		api: api,
		refresh: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL + "?key=" + cfg.APIKey,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier: oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.ProjectID}),
		httpc:    o.httpClient,
	}, nil
}

// toolkitError is the error envelope of the accounts API.
type toolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func upstream(resp *resty.Response, body *toolkitError, fallback string) error {
	msg := body.Error.Message
	if msg == "" {
		msg = fallback
	}
	return &UpstreamError{Status: resp.StatusCode(), Message: msg}
}

// CreateUser calls accounts:signUp.
func (p *RemoteProvider) CreateUser(ctx context.Context, email, password string) (string, error) {
	var out struct {
		LocalID string `json:"localId"`
	}
	var fail toolkitError

	resp, err := p.api.R().
		SetContext(ctx).
		SetBody(map[string]any{"email": email, "password": password, "returnSecureToken": false}).
		SetResult(&out).
		SetError(&fail).
		Post("/accounts:signUp")
	if err != nil {
		return "", fmt.Errorf("calling signUp: %w", err)
	}
	if resp.IsError() {
		return "", upstream(resp, &fail, "Registration failed")
	}
	return out.LocalID, nil
}

// SignIn calls accounts:signInWithPassword.
func (p *RemoteProvider) SignIn(ctx context.Context, email, password string) (*Tokens, error) {
	var out struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		LocalID      string `json:"localId"`
		ExpiresIn    string `json:"expiresIn"`
	}
	var fail toolkitError

	resp, err := p.api.R().
		SetContext(ctx).
		SetBody(map[string]any{"email": email, "password": password, "returnSecureToken": true}).
		SetResult(&out).
		SetError(&fail).
		Post("/accounts:signInWithPassword")
	if err != nil {
		return nil, fmt.Errorf("calling signInWithPassword: %w", err)
	}
	if resp.IsError() {
		return nil, upstream(resp, &fail, "Login failed")
	}

	return &Tokens{
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		UID:          out.LocalID,
		ExpiresIn:    out.ExpiresIn,
	}, nil
}

// Refresh exchanges a refresh token at the secure token endpoint.
func (p *RemoteProvider) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpc)

	tok, err := p.refresh.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			var fail toolkitError
			msg := "Refresh failed"
			if json.Unmarshal(re.Body, &fail) == nil && fail.Error.Message != "" {
				msg = fail.Error.Message
			}
			return nil, &UpstreamError{Status: re.Response.StatusCode, Message: msg, Err: ErrInvalidToken}
		}
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	uid, _ := tok.Extra("user_id").(string)
	expiresIn, _ := tok.Extra("expires_in").(string)
	if expiresIn == "" && !tok.Expiry.IsZero() {
		expiresIn = strconv.Itoa(int(time.Until(tok.Expiry).Round(time.Second).Seconds()))
	}

	return &Tokens{
		IDToken:      idToken,
		RefreshToken: tok.RefreshToken,
		UID:          uid,
		ExpiresIn:    expiresIn,
	}, nil
}

// Verify validates signature, issuer, audience and expiry of an ID token.
func (p *RemoteProvider) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	tok, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var extra struct {
		Email string `json:"email"`
		Role  Role   `json:"role"`
	}
	if err := tok.Claims(&extra); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %w", ErrInvalidToken, err)
	}
	if extra.Role == "" {
		extra.Role = RoleUser
	}

	return &Claims{
		UID:       tok.Subject,
		Email:     extra.Email,
		Role:      extra.Role,
		ExpiresAt: tok.Expiry,
	}, nil
}
