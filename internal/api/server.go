// Package api provides the HTTP REST API and WebSocket endpoint for
// Lumen Core.
//
// It exposes session management (connect/renew/disconnect against a
// bridge), read-only state proxies, diagnostics, and the socket endpoint
// served by the push service.
//
// The server follows the same lifecycle pattern as other components:
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

	"github.com/ashgrove/lumen-core/internal/bridge"
	"github.com/ashgrove/lumen-core/internal/infrastructure/config"
	"github.com/ashgrove/lumen-core/internal/infrastructure/logging"
	"github.com/ashgrove/lumen-core/internal/push"
	"github.com/ashgrove/lumen-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeClient is the real-bridge surface the HTTP layer needs beyond
// snapshots: pairing and the cached rooms listing.
type BridgeClient interface {
	bridge.SnapshotSource
	Pair(ctx context.Context, bridgeAddress, deviceType string) (string, error)
	GetRooms(ctx context.Context, bridgeAddress, cred string) ([]bridge.Room, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Bridge   config.BridgeConfig
	Logger   *logging.Logger
	Sessions *session.Registry
	Client   BridgeClient  // nil in demo-only deployments
	Push     *push.Service // owns /ws
	Version  string
}

// Server is the HTTP API server for Lumen Core.
type Server struct {
	cfg       config.APIConfig
	bridgeCfg config.BridgeConfig
	logger    *logging.Logger
	sessions  *session.Registry
	client    BridgeClient
	push      *push.Service
	version   string
	server    *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if deps.Push == nil {
		return nil, fmt.Errorf("push service is required")
	}

	return &Server{
		cfg:       deps.Config,
		bridgeCfg: deps.Bridge,
		logger:    deps.Logger,
		sessions:  deps.Sessions,
		client:    deps.Client,
		push:      deps.Push,
		version:   deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server is stopped with Close().
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       s.readTimeout(),
		ReadHeaderTimeout: s.readTimeout(),
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

// readTimeout returns the configured read timeout as a Duration.
func (s *Server) readTimeout() time.Duration {
	return time.Duration(s.cfg.Timeouts.Read) * time.Second
}
