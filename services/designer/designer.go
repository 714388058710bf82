// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package designer wires the interior design agent service.
//
// The service accepts a room photo, runs the four-stage design pipeline
// (analyze, plan, shop, design) in the background and serves its progress
// over HTTP:
//
//	cfg, err := designer.LoadConfig("designagent.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := designer.New(ctx, cfg, designer.Options{Version: version})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx) // returns after ctx ends and shutdown completes
package designer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/DesignAgent/services/designer/agent"
	"github.com/AleutianAI/DesignAgent/services/designer/events"
	"github.com/AleutianAI/DesignAgent/services/designer/imagestore"
	"github.com/AleutianAI/DesignAgent/services/designer/middleware"
	"github.com/AleutianAI/DesignAgent/services/designer/observability"
	"github.com/AleutianAI/DesignAgent/services/designer/providers"
	"github.com/AleutianAI/DesignAgent/services/designer/routes"
	"github.com/AleutianAI/DesignAgent/services/designer/session"
	"github.com/AleutianAI/DesignAgent/services/designer/stages"
	"github.com/AleutianAI/DesignAgent/services/designer/telemetry"
	"github.com/AleutianAI/DesignAgent/services/designer/ttl"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the design agent lifecycle.
//
// # Thread Safety
//
// Run is called at most once. Router may be used concurrently.
type Service interface {
	// Run serves HTTP until ctx ends, then drains requests, stops the
	// pipelines and releases every resource.
	Run(ctx context.Context) error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine

	// Close releases resources without serving. Used when Run is never
	// called. Safe to call more than once.
	Close() error
}

// Options are construction-time inputs that do not belong in the config
// file.
type Options struct {
	// Version is reported by /api/health.
	Version string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registry backs /metrics. Nil creates a fresh registry with the Go
	// and process collectors.
	Registry *prometheus.Registry

	// Vision, Searcher override the configured providers. Tests use them.
	Vision   VisionProvider
	Searcher stages.ProductSearcher
}

// VisionProvider covers the three model-backed stages.
type VisionProvider interface {
	stages.RoomAnalyzer
	stages.Planner
	stages.Renderer
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - store: session registry, memory or badger
//   - images: upload and rendering storage, local or gcs
//   - orch: pipeline owner
//   - ttlScheduler: expiry sweeper, nil when disabled
//   - telemetryShutdown: flushes OTel providers
type service struct {
	config  Config
	opts    Options
	logger  *slog.Logger
	started time.Time

	router   *gin.Engine
	registry *prometheus.Registry
	metrics  *observability.Metrics
	hub      *events.Hub
	store    session.Store
	images   imagestore.Store
	localDir string
	orch     *agent.Orchestrator

	ttlScheduler      *ttl.Scheduler
	telemetryShutdown func(context.Context) error

	closed bool
}

// New builds the service.
//
// # Description
//
// New initializes, in order: telemetry, metrics, the session store, the
// image store, the providers, the orchestrator (recovering sessions a
// previous process left running), the TTL sweeper and the router. On
// failure everything already created is released.
//
// # Inputs
//
//   - ctx: Used for connections made during startup.
//   - cfg: Configuration; defaults are applied again.
//   - opts: Version, logger and test overrides.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Any initialization failure.
func New(ctx context.Context, cfg Config, opts Options) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &service{config: cfg, opts: opts, started: time.Now()}
	s.logger = opts.Logger
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.registry = opts.Registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if err := s.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.metrics = observability.NewMetrics(s.registry)
	s.hub = events.NewHub()

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	if err := s.initImages(ctx); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize image store: %w", err)
	}
	if err := s.initOrchestrator(ctx); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	if s.config.TTLEnabled() {
		if err := s.initTTLScheduler(ctx); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to start TTL scheduler: %w", err)
		}
	}
	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting design agent server", "port", s.config.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		s.logger.Info("Shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
	}
	if err := s.orch.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Pipelines did not stop in time", "error", err)
	}
	return serveErr
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close implements Service.
func (s *service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	var err error
	if s.orch != nil {
		err = s.orch.Shutdown(ctx)
	}
	s.cleanup()
	return err
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initTelemetry(ctx context.Context) error {
	tcfg := s.config.Telemetry
	if s.opts.Version != "" {
		tcfg.ServiceVersion = s.opts.Version
	}
	tcfg.Registerer = s.registry
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	s.telemetryShutdown = shutdown
	return nil
}

func (s *service) initStore() error {
	switch s.config.Store.Backend {
	case "badger":
		bcfg := s.config.Store.Badger
		bcfg.Logger = s.logger.With("component", "badger")
		store, err := session.OpenBadger(bcfg)
		if err != nil {
			return err
		}
		s.store = store
		s.logger.Info("Using badger session store", "path", bcfg.Path, "in_memory", bcfg.InMemory)
	default:
		s.store = session.NewMemoryStore()
		s.logger.Info("Using in-memory session store")
	}
	return nil
}

func (s *service) initImages(ctx context.Context) error {
	switch s.config.Uploads.Backend {
	case "gcs":
		store, err := imagestore.NewGCSStore(ctx, s.config.Uploads.GCS)
		if err != nil {
			return err
		}
		s.images = store
		s.logger.Info("Using GCS image store", "bucket", s.config.Uploads.GCS.Bucket)
	default:
		store, err := imagestore.NewLocalStore(s.config.Uploads.Dir, "/uploads")
		if err != nil {
			return err
		}
		s.images = store
		s.localDir = store.Dir()
		s.logger.Info("Using local image store", "dir", store.Dir())
	}
	return nil
}

// initProviders picks the vision provider and the product searcher.
func (s *service) initProviders() (VisionProvider, stages.ProductSearcher, error) {
	pc := s.config.Providers

	vision := s.opts.Vision
	if vision == nil {
		useOpenAI := pc.Vision == "openai" || (pc.Vision == "auto" && pc.OpenAI.APIKey != "")
		if useOpenAI {
			key, err := providers.NewSecret(pc.OpenAI.APIKey)
			if err != nil {
				return nil, nil, err
			}
			vision, err = providers.NewOpenAIVision(providers.OpenAIConfig{
				APIKey:     key,
				Model:      pc.OpenAI.Model,
				ImageModel: pc.OpenAI.ImageModel,
				ImageSize:  pc.OpenAI.ImageSize,
				BaseURL:    pc.OpenAI.BaseURL,
			})
			if err != nil {
				return nil, nil, err
			}
		} else {
			s.logger.Warn("No OpenAI key configured, using the offline vision provider")
			vision = providers.NewStaticVision()
		}
	}

	searcher := s.opts.Searcher
	if searcher == nil {
		catalog := providers.NewCatalog()
		if pc.Shopping.URL == "" {
			s.logger.Info("No shopping API configured, using the built-in catalog")
			searcher = catalog
		} else {
			var key *providers.Secret
			if pc.Shopping.APIKey != "" {
				var err error
				if key, err = providers.NewSecret(pc.Shopping.APIKey); err != nil {
					return nil, nil, err
				}
			}
			client, err := providers.NewShoppingClient(providers.ShoppingConfig{
				BaseURL:           pc.Shopping.URL,
				APIKey:            key,
				RequestsPerSecond: pc.Shopping.RequestsPerSecond,
				Burst:             pc.Shopping.Burst,
			})
			if err != nil {
				return nil, nil, err
			}
			searcher = client
			if s.config.CatalogFallback() {
				searcher = &providers.FallbackSearcher{Primary: client, Fallback: catalog, Logger: s.logger}
			}
		}
	}
	return vision, searcher, nil
}

func (s *service) initOrchestrator(ctx context.Context) error {
	vision, searcher, err := s.initProviders()
	if err != nil {
		return err
	}

	deps := stages.Deps{Images: s.images, Policy: s.config.Pipeline.Retry, Logger: s.logger}
	s.orch, err = agent.New(agent.Options{
		Store: s.store,
		Executors: []stages.Executor{
			stages.NewAnalyze(vision, deps),
			stages.NewPlan(vision, deps),
			stages.NewShop(searcher, s.config.Pipeline.Shop, deps),
			stages.NewDesign(vision, deps),
		},
		Images:        s.images,
		Hub:           s.hub,
		Metrics:       s.metrics,
		Logger:        s.logger,
		StageTimeouts: s.config.Pipeline.StageTimeouts,
		StopTimeout:   s.config.Pipeline.StopTimeout,
		MessageLimit:  s.config.Server.MessageLimit,
	})
	if err != nil {
		return err
	}

	recovered, err := s.orch.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		s.logger.Warn("Marked sessions interrupted by a restart as failed", "count", recovered)
	}
	return nil
}

func (s *service) initTTLScheduler(ctx context.Context) error {
	s.ttlScheduler = ttl.NewScheduler(s.orch, s.config.TTL.Config, s.metrics, s.logger)
	return s.ttlScheduler.Start(context.WithoutCancel(ctx))
}

func (s *service) initRouter() {
	gin.SetMode(s.config.Server.GinMode)
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigins))

	routes.SetupRoutes(s.router, s.orch, s.hub, s.images, routes.Options{
		Version:        s.opts.Version,
		StartedAt:      s.started,
		MaxUploadBytes: s.config.Server.MaxUploadBytes,
		MessageLimit:   s.config.Server.MessageLimit,
		UploadLimiter:  middleware.NewIPRateLimiter(s.config.Server.UploadRateLimit),
		Metrics:        s.metrics,
		Gatherer:       s.registry,
		UploadsDir:     s.localDir,
	})
}

// cleanup releases every resource. Safe to call more than once.
func (s *service) cleanup() {
	if s.closed {
		return
	}
	s.closed = true

	if s.ttlScheduler != nil {
		if err := s.ttlScheduler.Stop(); err != nil {
			s.logger.Warn("TTL scheduler stop error", "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Session store close error", "error", err)
		}
	}
	if c, ok := s.images.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn("Image store close error", "error", err)
		}
	}
	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown telemetry", "error", err)
		}
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
