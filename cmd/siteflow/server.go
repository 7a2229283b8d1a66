package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/siteflow"
	"github.com/BaSui01/siteflow/api/handlers"
	"github.com/BaSui01/siteflow/config"
	"github.com/BaSui01/siteflow/internal/server"
	"github.com/BaSui01/siteflow/metrics"
)

// Server ties the engine to its HTTP surface: the workflow API, the health
// probes, and a separate metrics listener.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	engine   *siteflow.Engine
	registry *prometheus.Registry

	apiManager     *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer assembles the engine and its handlers.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	engine, err := siteflow.New(cfg,
		siteflow.WithLogger(logger),
		siteflow.WithMetrics(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("assemble engine: %w", err)
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		registry: registry,
	}, nil
}

// Start brings up both listeners.
func (s *Server) Start() error {
	if err := s.startAPIServer(); err != nil {
		return err
	}
	if err := s.startMetricsServer(); err != nil {
		return err
	}
	s.logger.Info("all servers started",
		zap.String("api_addr", s.cfg.Server.Addr),
		zap.String("metrics_addr", s.cfg.Server.MetricsAddr))
	return nil
}

func (s *Server) startAPIServer() error {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.HealthCheck{
		Name: "pattern_store",
		Check: func(ctx context.Context) error {
			_, err := s.engine.Patterns().List(ctx, "")
			return err
		},
	})
	workflows := handlers.NewWorkflowHandler(s.engine, s.logger)
	sessions := handlers.NewSessionHandler(s.engine, s.logger)
	patterns := handlers.NewPatternHandler(s.engine, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/workflows", workflows.HandleRun)
	mux.HandleFunc("POST /api/v1/index", workflows.HandleIndex)
	mux.HandleFunc("GET /api/v1/sessions", sessions.HandleList)
	mux.HandleFunc("DELETE /api/v1/sessions/{user}", sessions.HandleClose)
	mux.HandleFunc("GET /api/v1/patterns", patterns.HandleList)
	mux.HandleFunc("GET /api/v1/patterns/export", patterns.HandleExport)
	mux.HandleFunc("POST /api/v1/patterns/import", patterns.HandleImport)
	mux.HandleFunc("GET /api/v1/patterns/{domain}/{page_type}", patterns.HandleGet)
	mux.HandleFunc("DELETE /api/v1/patterns/{domain}/{page_type}", patterns.HandleDelete)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	limiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		IPRateLimiter(limiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths),
	)

	s.apiManager = server.NewManager(handler, server.Config{
		Addr:            s.cfg.Server.Addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.apiManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            s.cfg.Server.MetricsAddr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a signal or serve failure, then drains.
func (s *Server) WaitForShutdown() {
	if s.apiManager != nil {
		s.apiManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners and drains the engine's session pool.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.apiManager != nil {
		if err := s.apiManager.Shutdown(ctx); err != nil {
			s.logger.Error("api server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if err := s.engine.Shutdown(ctx); err != nil {
		s.logger.Error("engine shutdown error", zap.Error(err))
	}
	s.logger.Info("graceful shutdown completed")
}
