// Package api provides the local HTTP API for myq-sync.
//
// It exposes cloud account and device visibility, binding and trigger
// management, and command dispatch for diagnostics and hub tooling.
// The listener binds to loopback by default; it is not meant to face
// the network.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthward/myq-sync/internal/bridge"
	"github.com/hearthward/myq-sync/internal/infrastructure/config"
	"github.com/hearthward/myq-sync/internal/infrastructure/database"
	"github.com/hearthward/myq-sync/internal/infrastructure/logging"
	"github.com/hearthward/myq-sync/internal/myq"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Refresher requests an early poll. Satisfied by *bridge.Engine.
type Refresher interface {
	RequestRefresh()
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Cloud      *myq.API
	Registry   *bridge.Registry
	Dispatcher *bridge.Dispatcher
	Engine     Refresher
	DB         *database.DB
	Version    string
}

// Server is the HTTP API server for myq-sync.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	cloud      *myq.API
	registry   *bridge.Registry
	dispatcher *bridge.Dispatcher
	engine     Refresher
	db         *database.DB
	version    string
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Cloud == nil {
		return nil, fmt.Errorf("cloud client is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("binding registry is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		cloud:      deps.Cloud,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		engine:     deps.Engine,
		db:         deps.DB,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background
// goroutine. The server can be stopped with Close().
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
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server, waiting for in-flight
// requests.
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
