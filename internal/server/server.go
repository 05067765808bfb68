// Package server assembles the engine's HTTP surface: the internal transfer
// sub-API, health checks and prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"wager-engine/internal/config"
	"wager-engine/internal/escrow"
)

const healthTimeout = 2 * time.Second

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Server wraps the gin engine with the process's HTTP listener.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	cfg    *config.Config
	checks map[string]HealthFunc
}

// Dependencies holds everything the routes need.
type Dependencies struct {
	Config    *config.Config
	Transfers escrow.Transferer
	Checks    map[string]HealthFunc
}

// New creates a Server with middleware and routes registered.
func New(deps *Dependencies) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if deps.Transfers == nil {
		return nil, fmt.Errorf("transfer service is required")
	}

	engine := gin.New()
	s := &Server{
		engine: engine,
		cfg:    deps.Config,
		checks: deps.Checks,
		http: &http.Server{
			Addr:              deps.Config.Server.HTTPAddr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	s.registerMiddleware()
	s.registerRoutes(deps.Transfers)
	return s, nil
}

func (s *Server) registerMiddleware() {
	s.engine.Use(RecoveryMiddleware())
	s.engine.Use(LoggingMiddleware())
}

func (s *Server) registerRoutes(transfers escrow.Transferer) {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	internal := s.engine.Group("", TokenMiddleware(s.cfg.Escrow.Token))
	escrow.NewHandler(transfers).RegisterRoutes(internal)
}

// handleHealth runs every registered check and reports the failing ones.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	failed := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		log.Warn().Interface("failed", failed).Msg("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "server": s.cfg.Server.ID})
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("Starting HTTP server...")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping HTTP server...")
	return s.http.Shutdown(ctx)
}
