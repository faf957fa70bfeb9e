// Package server provides the daemon's HTTP surface.
//
// This package implements a graceful HTTP server with Echo router,
// health and metrics endpoints, and a small operator API over the
// strike ledger.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lockwatchd/internal/ledger"
	"github.com/fyrsmithlabs/lockwatchd/internal/orchestrator"
)

// Cycler triggers reconciliation work on demand.
type Cycler interface {
	RunCycle(ctx context.Context) (*orchestrator.CycleReport, error)
	RunDecaySweep(ctx context.Context) (int, error)
}

// Config configures the HTTP server.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Server is the health, metrics, and operator API server.
type Server struct {
	cfg    Config
	echo   *echo.Echo
	led    ledger.Service
	cycler Cycler
	logger *zap.Logger
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// New creates the HTTP server.
//
// Routes:
//   - GET  /health       liveness
//   - GET  /metrics      Prometheus metrics
//   - GET  /v1/stats     ledger summary
//   - GET  /v1/records   records with active strikes or counters
//   - POST /v1/check     run a reconciliation cycle now
//   - POST /v1/decay     run a decay sweep now
//   - POST /v1/reset/:identity  administrative strike reset
func New(cfg Config, led ledger.Service, cycler Cycler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		cfg:    cfg,
		echo:   e,
		led:    led,
		cycler: cycler,
		logger: logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.GET("/stats", s.handleStats)
	v1.GET("/records", s.handleRecords)
	v1.POST("/check", s.handleCheck)
	v1.POST("/decay", s.handleDecay)
	v1.POST("/reset/:identity", s.handleReset)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "lockwatchd",
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.led.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleRecords(c echo.Context) error {
	records, err := s.led.ListWithStrikes(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleCheck(c echo.Context) error {
	report, err := s.cycler.RunCycle(c.Request().Context())
	if err != nil {
		s.logger.Error("manual cycle failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleDecay(c echo.Context) error {
	cleaned, err := s.cycler.RunDecaySweep(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"records_cleaned": cleaned})
}

func (s *Server) handleReset(c echo.Context) error {
	identity := c.Param("identity")
	if err := s.led.ResetStrikes(c.Request().Context(), identity); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.logger.Info("strikes reset via API", zap.String("identity", identity))
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server and blocks until the context is
// cancelled. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
