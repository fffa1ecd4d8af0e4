package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/farmops/pondsync/pkg/ponds"
	"github.com/farmops/pondsync/pkg/telemetry"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// History lists journaled operations and sweeps.
type History interface {
	ListOperations(ctx context.Context, pond string, limit int) ([]ponds.OperationRecord, error)
	ListSweepRuns(ctx context.Context, limit int) ([]ponds.SweepRecord, error)
}

// HealthChecker reports whether a backing store answers.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	Listen          string
	ShutdownTimeout time.Duration
	MetricsPath     string

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics

	// History enables GET /api/history when set.
	History History

	// Journal is checked by /healthz when set.
	Journal HealthChecker
}

// Server is the local management surface.
type Server struct {
	manager *ponds.Manager
	sweeper *ponds.Sweeper
	cfg     Config
	logger  zerolog.Logger
	router  *gin.Engine
	started time.Time
}

// New builds the router. Nothing listens until Run.
func New(manager *ponds.Manager, sweeper *ponds.Sweeper, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	logger := cfg.Logger.With().Str("component", "http").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID(logger))
	r.Use(RequestLogger(logger))
	r.Use(RequestMetrics(cfg.Metrics))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		manager: manager,
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET(s.cfg.MetricsPath, gin.WrapH(s.cfg.Metrics.Handler()))

	api := s.router.Group("/api")
	api.GET("/ponds", s.listPonds)
	api.POST("/ponds", s.createPond)
	api.PATCH("/ponds/:id", s.updatePond)
	api.DELETE("/ponds/:id", s.deletePond)

	if s.sweeper != nil {
		api.POST("/sweep", s.runSweep)
	}
	if s.cfg.History != nil {
		api.GET("/history", s.history)
	}
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Management server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("Shutting down management server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	<-errCh
	return nil
}
