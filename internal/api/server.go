// Package api serves the operational HTTP surface: liveness and
// dependency health, ingestion metrics as JSON, and the Prometheus
// scrape endpoint. It exposes no item data; the ingestion service is
// write-side only.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dealpipe/dealpipe/internal/breaker"
	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/dailycap"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/metrics"
	"github.com/dealpipe/dealpipe/internal/ratelimit"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 5 * time.Second

// Health statuses reported by GET /health.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pinger probes one external dependency.
type Pinger func(ctx context.Context) error

// Deps are the collaborators the HTTP surface reports on.
type Deps struct {
	Log       logger.Interface
	DBPing    Pinger
	CachePing Pinger
	Breakers  *breaker.Registry
	Limiter   *ratelimit.Limiter
	Caps      *dailycap.Tracker
	Metrics   *metrics.Collector
	Registry  *prometheus.Registry
	Version   string
}

// Server is the operational HTTP server.
type Server struct {
	httpServer *http.Server
	deps       Deps
	startedAt  time.Time
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(cfg config.ServerConfig, environment string, deps Deps) *Server {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		deps:      deps,
		startedAt: time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	router.GET("/metrics/ingestion", s.handleIngestionMetrics)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.deps.Log.Info("http server listening", "address", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports aggregate health. The database failing is
// unhealthy; a degraded cache or any open circuit degrades the service
// without failing it.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := StatusHealthy
	checks := make(map[string]checkResult)

	if err := s.deps.DBPing(ctx); err != nil {
		checks["database"] = checkResult{Status: StatusUnhealthy, Error: err.Error()}
		status = StatusUnhealthy
	} else {
		checks["database"] = checkResult{Status: StatusHealthy}
	}

	if s.deps.CachePing != nil {
		if err := s.deps.CachePing(ctx); err != nil {
			checks["cache"] = checkResult{Status: StatusDegraded, Error: err.Error()}
			if status == StatusHealthy {
				status = StatusDegraded
			}
		} else {
			checks["cache"] = checkResult{Status: StatusHealthy}
		}
	}

	if s.deps.Breakers.AnyOpen() {
		checks["circuits"] = checkResult{Status: StatusDegraded, Error: "one or more circuits open"}
		if status == StatusHealthy {
			status = StatusDegraded
		}
	} else {
		checks["circuits"] = checkResult{Status: StatusHealthy}
	}

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status,
		"version":        s.deps.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"checks":         checks,
	})
}

// handleIngestionMetrics returns the ingestion state as JSON: per-source
// run stats, circuit states, rate limiter buckets, and today's cap usage.
func (s *Server) handleIngestionMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sources":     s.deps.Metrics.Snapshot(),
		"circuits":    s.deps.Breakers.Snapshots(),
		"rate_limits": s.deps.Limiter.Snapshots(),
		"daily_caps":  s.deps.Caps.Counts(),
	})
}
