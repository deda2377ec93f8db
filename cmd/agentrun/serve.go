package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun"
	"github.com/tulparlabs/agentrun/api/handlers"
	"github.com/tulparlabs/agentrun/config"
	"github.com/tulparlabs/agentrun/internal/metrics"
	"github.com/tulparlabs/agentrun/internal/server"
	"github.com/tulparlabs/agentrun/internal/telemetry"
	"github.com/tulparlabs/agentrun/tools/openapi"
	"github.com/tulparlabs/agentrun/types"
)

// poolSampleInterval is how often records pool gauges refresh.
const poolSampleInterval = 30 * time.Second

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting agentrun",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry init failed", zap.Error(err))
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("agentrun", logger)
	}

	appOpts := []agentrun.Option{agentrun.WithLogger(logger)}
	if collector != nil {
		appOpts = append(appOpts, agentrun.WithCollector(collector))
	}
	if cfg.Telemetry.Enabled {
		instruments, err := telemetry.NewLLMInstruments()
		if err != nil {
			logger.Warn("llm instruments init failed", zap.Error(err))
		} else {
			appOpts = append(appOpts, agentrun.WithLLMObserver(instruments.Observer()))
		}
	}
	app, err := agentrun.New(ctx, cfg, appOpts...)
	if err != nil {
		logger.Fatal("runtime assembly failed", zap.Error(err))
	}

	srv := &serveCmd{
		cfg:       cfg,
		logger:    logger,
		app:       app,
		collector: collector,
	}
	if err := srv.start(ctx); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	srv.shutdown(otelProviders)
	logger.Info("agentrun stopped")
}

// serveCmd owns the HTTP listeners around one App.
type serveCmd struct {
	cfg       *config.Config
	logger    *zap.Logger
	app       *agentrun.App
	collector *metrics.Collector

	httpManager    *server.Manager
	metricsManager *server.Manager
	samplerStop    context.CancelFunc
}

func (s *serveCmd) start(ctx context.Context) error {
	if err := s.app.EnsureCollections(ctx); err != nil {
		s.logger.Warn("collection provisioning incomplete", zap.Error(err))
	}
	if err := s.app.Start(ctx); err != nil {
		return err
	}

	if err := s.startHTTPServer(); err != nil {
		return err
	}
	if err := s.startMetricsServer(); err != nil {
		return err
	}
	s.startPoolSampler()

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("metrics", s.cfg.Metrics.Enabled),
		zap.Bool("auth", s.cfg.Server.Auth.Secret != ""))
	return nil
}

func (s *serveCmd) startHTTPServer() error {
	mux := s.buildMux()

	limiterCtx, limiterCancel := context.WithCancel(context.Background())
	s.samplerStop = joinCancel(s.samplerStop, limiterCancel)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.AllowedOrigins),
		RateLimiter(limiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.collector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.collector))
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.Server.Auth.Secret != "" {
		// Innermost, so rejected requests still show up in the request
		// log and metrics. Probes stay open for load balancers.
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.Auth,
			[]string{"/healthz", "/health", "/version"}, s.logger))
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

// buildMux assembles the REST surface. Routes use Go 1.22 method
// patterns, so an unmatched method gets the mux's automatic 405.
func (s *serveCmd) buildMux() *http.ServeMux {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewNamedCheck("stores", s.app.Health))

	agentHandler := handlers.NewAgentHandler(s.app.Agents(), s.logger,
		handlers.WithAgentChangeHook(func(agentID string, def *types.AgentDefinition) {
			if def == nil {
				s.app.Scheduler().RemoveAgent(agentID)
				return
			}
			s.app.Scheduler().RefreshAgent(agentID)
		}))

	runHandler := handlers.NewRunHandler(s.app, s.logger)

	// The typed-nil dance: a nil *records.Recorder stored directly in
	// the interface would not compare equal to nil inside the handler.
	var archive handlers.RunArchive
	if recorder := s.app.Records(); recorder != nil {
		archive = recorder
	}
	recordHandler := handlers.NewRecordHandler(archive, s.logger)

	importHandler := handlers.NewToolImportHandler(
		openapi.NewImporter(openapi.ImporterConfig{}, s.logger), s.logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /ws", s.app.Hub())

	mux.HandleFunc("GET /api/v1/agents", agentHandler.HandleList)
	mux.HandleFunc("POST /api/v1/agents", agentHandler.HandleCreate)
	mux.HandleFunc("GET /api/v1/agents/{id}", agentHandler.HandleGet)
	mux.HandleFunc("PUT /api/v1/agents/{id}", agentHandler.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/agents/{id}", agentHandler.HandleDelete)

	mux.HandleFunc("POST /api/v1/runs", runHandler.HandleStart)
	mux.HandleFunc("POST /api/v1/messages", runHandler.HandleMessage)

	mux.HandleFunc("GET /api/v1/runs", recordHandler.HandleList)
	mux.HandleFunc("GET /api/v1/runs/{id}", recordHandler.HandleGet)
	mux.HandleFunc("GET /api/v1/stats", recordHandler.HandleStats)

	mux.HandleFunc("POST /api/v1/tools/openapi", importHandler.HandleImport)

	return mux
}

// startMetricsServer serves /metrics on its own listener when a port
// is configured, keeping the scrape surface off the public API.
func (s *serveCmd) startMetricsServer() error {
	if s.collector == nil || s.cfg.Metrics.Port <= 0 {
		return nil
	}

	path := s.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Metrics.Port),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

func (s *serveCmd) startPoolSampler() {
	if s.collector == nil {
		return
	}
	if _, ok := s.app.RecordsPoolStats(); !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.samplerStop = joinCancel(s.samplerStop, cancel)

	go func() {
		ticker := time.NewTicker(poolSampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if stats, ok := s.app.RecordsPoolStats(); ok {
					s.collector.RecordDBConnections("records", stats.OpenConnections, stats.Idle)
				}
			}
		}
	}()
}

func (s *serveCmd) shutdown(otelProviders *telemetry.Providers) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.samplerStop != nil {
		s.samplerStop()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if err := s.app.Close(ctx); err != nil {
		s.logger.Error("runtime shutdown error", zap.Error(err))
	}
	if otelProviders != nil {
		if err := otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
}

// joinCancel composes cancel funcs so shutdown needs only one call.
func joinCancel(a, b context.CancelFunc) context.CancelFunc {
	if a == nil {
		return b
	}
	return func() { a(); b() }
}
