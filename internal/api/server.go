package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldgrid/dispatch-core/internal/activity"
	"github.com/fieldgrid/dispatch-core/internal/broadcast"
	"github.com/fieldgrid/dispatch-core/internal/dispatch"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/config"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/influxdb"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/logging"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/mqtt"
	"github.com/fieldgrid/dispatch-core/internal/registry"
	"github.com/fieldgrid/dispatch-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Registry    *registry.Registry
	Coordinator *dispatch.Coordinator
	Broadcaster *broadcast.Broadcaster
	Dedup       *telemetry.Deduplicator
	Hub         *Hub

	// Optional integrations; nil disables the corresponding surface.
	Influx   *influxdb.Client
	MQTT     *mqtt.Client
	Activity activity.Repository

	Version string
}

// Server is the HTTP API server for the dispatch hub.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	registry    *registry.Registry
	coordinator *dispatch.Coordinator
	broadcaster *broadcast.Broadcaster
	dedup       *telemetry.Deduplicator
	hub         *Hub
	influx      *influxdb.Client
	mqtt        *mqtt.Client
	activity    activity.Repository
	version     string

	server  *http.Server
	tickets *ticketStore
	cancel  context.CancelFunc // stops background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("connection registry is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("channel coordinator is required")
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if deps.Dedup == nil {
		return nil, fmt.Errorf("telemetry deduplicator is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("websocket hub is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		registry:    deps.Registry,
		coordinator: deps.Coordinator,
		broadcaster: deps.Broadcaster,
		dedup:       deps.Dedup,
		hub:         deps.Hub,
		influx:      deps.Influx,
		mqtt:        deps.MQTT,
		activity:    deps.Activity,
		version:     deps.Version,
		tickets:     newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, the ticket cleanup loop, and the MQTT
// telemetry ingest subscription, then launches the HTTP listener in a
// background goroutine. Stop with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	if err := s.subscribeTelemetry(); err != nil {
		s.logger.Warn("telemetry ingest subscription failed", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
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

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
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
