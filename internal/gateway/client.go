package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/session"
	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// ErrNotFound means the device has no readings on the gateway.
var ErrNotFound = errors.New("gateway: no readings")

// Error is a non-2xx gateway response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway (%d): %s", e.Status, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds REST calls. The live stream has no overall timeout.
	Timeout time.Duration
	// ReconnectDelay is the pause before a dropped stream reconnects.
	ReconnectDelay time.Duration
	// HTTPClient is the base transport; defaults to a fresh http.Client.
	HTTPClient *http.Client
}

// Client talks to the telemetry gateway. Authenticated calls draw their
// bearer token from the oauth2.TokenSource given to New.
type Client struct {
	public *resty.Client
	api    *resty.Client
	stream *http.Client
	base   string
	delay  time.Duration
	logger *logging.Logger
	now    func() time.Time
}

// New builds a Client. tokens may be nil for a client that only logs in.
func New(cfg Config, tokens oauth2.TokenSource, logger *logging.Logger) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid gateway url %q", cfg.BaseURL)
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	baseClient := cfg.HTTPClient
	if baseClient == nil {
		baseClient = &http.Client{}
	}

	// resty sets Timeout on the http.Client it wraps, so each user gets its
	// own copy and the stream client keeps no overall timeout.
	withTokens := func() *http.Client {
		cp := *baseClient
		if tokens == nil {
			return &cp
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &cp)
		return oauth2.NewClient(ctx, tokens)
	}
	publicClient := *baseClient

	newResty := func(c *http.Client) *resty.Client {
		return resty.NewWithClient(c).
			SetBaseURL(base).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json")
	}

	return &Client{
		public: newResty(&publicClient),
		api:    newResty(withTokens()),
		stream: withTokens(),
		base:   base,
		delay:  cfg.ReconnectDelay,
		logger: logger.With("component", "gateway"),
		now:    time.Now,
	}, nil
}

// errorBody is the gateway's {"error": msg} envelope.
type errorBody struct {
	Error string `json:"error"`
}

func apiError(resp *resty.Response, body *errorBody) error {
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &Error{Status: resp.StatusCode(), Message: msg}
}

type tokensResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	UID          string `json:"uid"`
	ExpiresIn    string `json:"expiresIn"`
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (session.Session, error) {
	var out tokensResponse
	var fail errorBody

	resp, err := c.public.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		SetError(&fail).
		Post("/auth/login")
	if err != nil {
		return session.Session{}, fmt.Errorf("calling login: %w", err)
	}
	if resp.IsError() {
		return session.Session{}, apiError(resp, &fail)
	}
	s := c.sessionFrom(out)
	s.Email = email
	return s, nil
}

// Refresh exchanges a refresh token for a new credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	var out tokensResponse
	var fail errorBody

	resp, err := c.public.R().
		SetContext(ctx).
		SetBody(map[string]string{"refreshToken": refreshToken}).
		SetResult(&out).
		SetError(&fail).
		Post("/auth/refresh")
	if err != nil {
		return session.Session{}, fmt.Errorf("calling refresh: %w", err)
	}
	if resp.IsError() {
		return session.Session{}, apiError(resp, &fail)
	}
	return c.sessionFrom(out), nil
}

// sessionFrom builds a session from a token response. The role comes from
// the unverified "role" claim; the gateway remains the one that verifies.
func (c *Client) sessionFrom(out tokensResponse) session.Session {
	s := session.Session{
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		UID:          out.UID,
		Role:         session.RoleUser,
	}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		s.Expiry = c.now().Add(time.Duration(secs) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(out.IDToken, claims); err == nil {
		if role, ok := claims["role"].(string); ok && role == string(session.RoleAdmin) {
			s.Role = session.RoleAdmin
		}
		if email, ok := claims["email"].(string); ok {
			s.Email = email
		}
	}
	return s
}

// Latest returns the device's most recent reading, or ErrNotFound.
func (c *Client) Latest(ctx context.Context, deviceID string) (telemetry.Reading, error) {
	var out telemetry.Reading
	var fail errorBody

	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("deviceId", deviceID).
		SetResult(&out).
		SetError(&fail).
		Get("/devices/{deviceId}/state/last")
	if err != nil {
		return telemetry.Reading{}, fmt.Errorf("fetching latest for %s: %w", deviceID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return telemetry.Reading{}, ErrNotFound
	}
	if resp.IsError() {
		return telemetry.Reading{}, apiError(resp, &fail)
	}
	return out, nil
}

// RangeQuery selects readings by inclusive millisecond bounds. Zero bounds
// are omitted; Limit 0 uses the gateway default.
type RangeQuery struct {
	From  int64
	To    int64
	Limit int
}

type rangeResponse struct {
	DeviceID string           `json:"deviceId"`
	Count    int              `json:"count"`
	Items    []telemetry.Item `json:"items"`
}

// Range lists readings newest first, as the gateway returns them.
func (c *Client) Range(ctx context.Context, deviceID string, q RangeQuery) ([]telemetry.Item, error) {
	var out rangeResponse
	var fail errorBody

	req := c.api.R().
		SetContext(ctx).
		SetPathParam("deviceId", deviceID).
		SetResult(&out).
		SetError(&fail)
	if q.From > 0 {
		req.SetQueryParam("from", strconv.FormatInt(q.From, 10))
	}
	if q.To > 0 {
		req.SetQueryParam("to", strconv.FormatInt(q.To, 10))
	}
	if q.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(q.Limit))
	}

	resp, err := req.Get("/devices/{deviceId}/state")
	if err != nil {
		return nil, fmt.Errorf("fetching range for %s: %w", deviceID, err)
	}
	if resp.IsError() {
		return nil, apiError(resp, &fail)
	}
	return out.Items, nil
}

// Health reports whether the gateway and its telemetry source are up.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var out struct {
		OK          bool `json:"ok"`
		SunTecReady bool `json:"sunTecReady"`
	}
	resp, err := c.public.R().SetContext(ctx).SetResult(&out).Get("/health")
	if err != nil {
		return false, fmt.Errorf("checking health: %w", err)
	}
	if resp.IsError() {
		return false, nil
	}
	return out.OK && out.SunTecReady, nil
}
