package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-mystrom/internal/audit"
	"github.com/nerrad567/gray-logic-mystrom/internal/bridges/mystrom"
	"github.com/nerrad567/gray-logic-mystrom/internal/device"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is satisfied by *database.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionChecker is satisfied by *mqtt.Client.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Manager  *mystrom.Manager
	Commands *mystrom.Commands // Default: mystrom.NewCommands(Manager, Manager, Logger)
	Registry *device.Registry  // Optional: adds registry counts to /devices/stats
	DB       HealthChecker     // Optional: reported by /health
	MQTT     ConnectionChecker // Optional: reported by /health
	Audit    audit.Repository  // Optional: records mutating calls, serves /audit
	Version  string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	manager  *mystrom.Manager
	commands *mystrom.Commands
	registry *device.Registry
	db       HealthChecker
	mqtt     ConnectionChecker
	audit    audit.Repository
	version  string
	tickets  *ticketStore
	hub      *Hub

	server    *http.Server
	listener  net.Listener
	cancel    context.CancelFunc // cancels background goroutines on Close()
	startOnce sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("device manager is required")
	}

	commands := deps.Commands
	if commands == nil {
		commands = mystrom.NewCommands(deps.Manager, deps.Manager, deps.Logger)
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		manager:  deps.Manager,
		commands: commands,
		registry: deps.Registry,
		db:       deps.DB,
		mqtt:     deps.MQTT,
		audit:    deps.Audit,
		version:  deps.Version,
		tickets:  newTicketStore(),
		hub:      NewHub(deps.WS, deps.Logger),
	}

	// Entity states are pushed to WebSocket clients as they are rendered.
	deps.Manager.AddStateListener(mystrom.StateListenerFunc(func(state mystrom.EntityState) {
		s.hub.Broadcast(ChannelEntityStateChanged, state)
	}))
	s.hub.SetInitialState(ChannelEntityStateChanged, func() []any {
		entities := s.manager.Entities()
		states := make([]any, 0, len(entities))
		for _, ent := range entities {
			states = append(states, ent.State())
		}
		return states
	})

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, binds the listener
// synchronously so address errors surface here, and serves in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.startOnce.Do(func() {
		go s.hub.Run(srvCtx)
		go s.tickets.cleanLoop(srvCtx)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
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
