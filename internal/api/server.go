// Package api provides the HTTP REST API and WebSocket server for the
// adapter.
//
// It exposes device snapshots, control submission, sync mode management,
// and command replay operations to user interfaces and automation hubs.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
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

	"github.com/hyqw-adapter/core/internal/actionbus"
	"github.com/hyqw-adapter/core/internal/device"
	"github.com/hyqw-adapter/core/internal/gateway"
	"github.com/hyqw-adapter/core/internal/infrastructure/config"
	"github.com/hyqw-adapter/core/internal/infrastructure/logging"
	"github.com/hyqw-adapter/core/internal/replay"
	"github.com/hyqw-adapter/core/internal/router"
	"github.com/hyqw-adapter/core/internal/statecache"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
//
// Gateway, Recorder, and ReplayRepo are optional: the corresponding
// endpoints return 404 when the feature is not wired.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Cache      *statecache.Cache
	Sync       *router.Router
	Bus        *actionbus.Bus
	Gateway    *gateway.Gateway
	Recorder   *replay.Recorder
	ReplayRepo replay.Repository
	Version    string
}

// Server is the adapter's HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	registry   *device.Registry
	cache      *statecache.Cache
	sync       *router.Router
	bus        *actionbus.Bus
	gateway    *gateway.Gateway
	recorder   *replay.Recorder
	replayRepo replay.Repository
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
	started    time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("state cache is required")
	}
	if deps.Sync == nil {
		return nil, fmt.Errorf("sync router is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("action bus is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		registry:   deps.Registry,
		cache:      deps.Cache,
		sync:       deps.Sync,
		bus:        deps.Bus,
		gateway:    deps.Gateway,
		recorder:   deps.Recorder,
		replayRepo: deps.ReplayRepo,
		version:    deps.Version,
	}, nil
}

// Hub returns the WebSocket hub for broadcasting events from other
// components. It is available after Start().
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	s.started = time.Now()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	if s.cancel != nil {
		s.cancel()
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
