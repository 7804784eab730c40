package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/suntec-core/internal/audit"
	"github.com/nerrad567/suntec-core/internal/identity"
	"github.com/nerrad567/suntec-core/internal/infrastructure/config"
	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Defaults used when the corresponding config values are zero.
const (
	defaultKeepAlive  = 25 * time.Second
	defaultRangeLimit = 50
	maxRangeLimit     = 1000
	healthTimeout     = 2 * time.Second
)

// IdentityService is the subset of identity.Service the handlers use.
type IdentityService interface {
	Register(ctx context.Context, reg identity.Registration) (uid, email string, err error)
	Login(ctx context.Context, email, password string) (*identity.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*identity.Tokens, error)
	Verify(ctx context.Context, rawToken string) (*identity.Claims, error)
	Profile(ctx context.Context, uid string) (*identity.Profile, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Telemetry config.TelemetryConfig
	Logger    *logging.Logger
	Identity  IdentityService
	Source    telemetry.Source
	Feed      *telemetry.Feed
	// Audit records authentication events. Optional.
	Audit   audit.Repository
	Version string
}

// Server is the HTTP API server for the telemetry gateway.
//
// It is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	identity IdentityService
	source   telemetry.Source
	feed     *telemetry.Feed
	version  string

	keepAlive    time.Duration
	pongWait     time.Duration
	defaultLimit int
	maxLimit     int

	auditRepo audit.Repository
	auditCh   chan *audit.Event
	auditDone chan struct{}

	server *http.Server
	cancel context.CancelFunc // ends live streams on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Identity == nil {
		return nil, fmt.Errorf("identity service is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("telemetry source is required")
	}
	if deps.Feed == nil {
		deps.Feed = telemetry.NewFeed()
	}

	s := &Server{
		cfg:          deps.Config,
		logger:       deps.Logger.With("component", "api"),
		identity:     deps.Identity,
		source:       deps.Source,
		feed:         deps.Feed,
		version:      deps.Version,
		keepAlive:    time.Duration(deps.Config.Stream.KeepAlive) * time.Second,
		pongWait:     time.Duration(deps.Config.Stream.PongTimeout) * time.Second,
		defaultLimit: deps.Telemetry.DefaultRangeLimit,
		maxLimit:     deps.Telemetry.MaxRangeLimit,
		auditRepo:    deps.Audit,
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Event, auditChanSize)
	}
	if s.keepAlive <= 0 {
		s.keepAlive = defaultKeepAlive
	}
	if s.pongWait <= 0 {
		s.pongWait = s.keepAlive
	}
	if s.maxLimit <= 0 || s.maxLimit > maxRangeLimit {
		s.maxLimit = maxRangeLimit
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = defaultRangeLimit
	}
	if s.defaultLimit > s.maxLimit {
		s.defaultLimit = s.maxLimit
	}

	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// Request contexts derive from ctx, so cancelling it also ends live streams.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var baseCtx context.Context
	baseCtx, s.cancel = context.WithCancel(ctx)

	if s.auditRepo != nil {
		s.auditDone = make(chan struct{})
		go s.drainAuditLog(baseCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server. Open live streams are
// cancelled first so Shutdown does not wait on them.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	if s.auditDone != nil {
		<-s.auditDone
	}
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
