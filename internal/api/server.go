package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/corepost/corepost-core/internal/audit"
	"github.com/corepost/corepost-core/internal/auth"
	"github.com/corepost/corepost-core/internal/device"
	"github.com/corepost/corepost-core/internal/infrastructure/config"
	"github.com/corepost/corepost-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.ServerConfig
	Lock     config.LockConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Panic    *device.PanicService
	Auth     *auth.Authenticator
	Admin    *auth.AdminVerifier
	Audit    audit.Repository // optional: /admin/audit returns 404 without it
	Health   func(ctx context.Context) error // optional: database health for /health
	Version  string
}

// Server is the HTTP API server for CorePost.
//
// It manages the HTTP listener, routes, and middleware across the three
// calling surfaces (client, mobile, admin). The server is created with
// New() and started with Start().
type Server struct {
	cfg      config.ServerConfig
	lockCfg  config.LockConfig
	logger   *logging.Logger
	registry *device.Registry
	panic    *device.PanicService
	auth     *auth.Authenticator
	admin    *auth.AdminVerifier
	audit    audit.Repository
	health   func(ctx context.Context) error
	version  string
	server   *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, panic service, authenticators)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Panic == nil {
		return nil, fmt.Errorf("panic service is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("request authenticator is required")
	}
	if deps.Admin == nil {
		return nil, fmt.Errorf("admin verifier is required")
	}

	return &Server{
		cfg:      deps.Config,
		lockCfg:  deps.Lock,
		logger:   deps.Logger,
		registry: deps.Registry,
		panic:    deps.Panic,
		auth:     deps.Auth,
		admin:    deps.Admin,
		audit:    deps.Audit,
		health:   deps.Health,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
