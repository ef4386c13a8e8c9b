package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/access"
	"github.com/BaSui01/reviewflow/api/handlers"
	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/engine"
	"github.com/BaSui01/reviewflow/events"
	"github.com/BaSui01/reviewflow/hitl"
	"github.com/BaSui01/reviewflow/internal/cache"
	"github.com/BaSui01/reviewflow/internal/database"
	"github.com/BaSui01/reviewflow/internal/metrics"
	"github.com/BaSui01/reviewflow/internal/server"
	"github.com/BaSui01/reviewflow/internal/telemetry"
	"github.com/BaSui01/reviewflow/store/deliverable"
	"github.com/BaSui01/reviewflow/store/pending"
	"github.com/BaSui01/reviewflow/store/task"
	"github.com/BaSui01/reviewflow/store/version"
)

// =============================================================================
// Server
// =============================================================================

// Server wires storage, cache, engine bridge, coordinator and the HTTP and
// metrics listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	pool         *database.PoolManager
	cacheManager *cache.Manager
	coordinator  *hitl.Coordinator
	eventHub     *events.Hub

	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer creates a server from loaded configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: providers,
	}
}

// =============================================================================
// Startup
// =============================================================================

// Start brings up all components and listeners.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("reviewflow", s.logger)

	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("redis_enabled", s.cfg.Redis.Enabled),
		zap.Bool("auth_enabled", s.cfg.Auth.Enabled),
	)

	return nil
}

// initComponents builds the storage, cache, engine bridge and coordinator
// graph.
func (s *Server) initComponents() error {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxOpenConns:    s.cfg.Database.MaxOpenConns,
		MaxIdleConns:    s.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to configure connection pool: %w", err)
	}
	s.pool = pool

	if s.cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		if s.cfg.Redis.PendingTTL > 0 {
			cacheCfg.DefaultTTL = s.cfg.Redis.PendingTTL
		}

		manager, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			// The pending list is served from the database when the
			// cache is unavailable.
			s.logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
		} else {
			s.cacheManager = manager
		}
	}

	versions := version.NewGormStore(pool, s.logger)
	tasks := task.NewGormStore(db, s.logger)
	registry := deliverable.NewGormRegistry(db, versions, s.logger)

	pendingOpts := []pending.Option{pending.WithMetrics(s.metricsCollector)}
	if s.cacheManager != nil {
		pendingOpts = append(pendingOpts, pending.WithCache(s.cacheManager, s.cfg.Redis.PendingTTL))
	}
	pendingIndex := pending.NewGormIndex(db, s.logger, pendingOpts...)

	// The pending gauge only moves relatively from here on; seed it with
	// the tasks already awaiting a decision from before this start.
	if count, err := pendingIndex.Count(context.Background()); err != nil {
		s.logger.Warn("seed pending gauge failed", zap.Error(err))
	} else {
		s.metricsCollector.SetPendingTasks(int(count))
	}

	bridge := engine.NewHTTPBridge(s.cfg.Engine, s.logger,
		engine.WithBridgeMetrics(s.metricsCollector))

	s.eventHub = events.NewHub(s.logger)
	emitter := events.Multi{events.NewLogEmitter(s.logger), s.eventHub}

	s.coordinator = hitl.NewCoordinator(
		tasks,
		registry,
		versions,
		pendingIndex,
		bridge,
		access.NewDBChecker(db, s.logger),
		s.logger,
		hitl.WithEmitter(emitter),
		hitl.WithMetrics(s.metricsCollector),
	)

	s.logger.Info("Components initialized")
	return nil
}

// =============================================================================
// HTTP server
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(s.pool.DB(), s.cacheManager, Version, s.logger).Register(mux)
	handlers.NewHitlHandler(s.coordinator, s.logger).Register(mux)
	mux.Handle("GET /v1/events/ws", s.eventHub)

	skipAuthPaths := []string{"/health", "/ready", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// Metrics server
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// Shutdown
// =============================================================================

// WaitForShutdown blocks until a termination signal arrives, then performs a
// graceful shutdown.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops all components in dependency order.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.eventHub != nil {
		s.eventHub.Close()
	}

	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}

	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
