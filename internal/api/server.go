package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/roomlink-core/internal/audit"
	"github.com/nerrad567/roomlink-core/internal/auth"
	"github.com/nerrad567/roomlink-core/internal/booking"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/config"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/roomlink-core/internal/session"
)

// gracefulShutdownTimeout bounds in-flight requests during Close.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure the health endpoint reports
// on (*database.DB, *mqtt.Client).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *session.Registry
	Bookings *booking.Service
	Events   audit.Repository         // optional: enables GET /events
	Checks   map[string]HealthChecker // optional: reported by GET /health
	Version  string

	// JWTSecret verifies bearer tokens. Required.
	JWTSecret string
}

// Server is the HTTP API server.
//
// Create it with New, start it with Start, and feed session transitions to
// BroadcastState so WebSocket clients see them.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	registry *session.Registry
	bookings *booking.Service
	events   audit.Repository
	checks   map[string]HealthChecker
	version  string
	secret   string
	tickets  *ticketStore

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc
}

// New creates a server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if deps.Bookings == nil {
		return nil, fmt.Errorf("booking service is required")
	}
	if len(deps.JWTSecret) < auth.MinSecretLength {
		return nil, fmt.Errorf("jwt secret of at least %d characters is required", auth.MinSecretLength)
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		registry: deps.Registry,
		bookings: deps.Bookings,
		events:   deps.Events,
		checks:   deps.Checks,
		version:  deps.Version,
		secret:   deps.JWTSecret,
		tickets:  newTicketStore(),
		hub:      NewHub(deps.Logger),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// BroadcastState pushes a session transition to WebSocket clients.
func (s *Server) BroadcastState(p session.Projection) {
	s.hub.Broadcast(ChannelSessionState, p)
}

// Start begins listening in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr)
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

// Close shuts the server down, waiting up to 10 seconds for in-flight
// requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
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

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
