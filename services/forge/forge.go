// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge wires the forge service: storage, generation, deployment,
// realtime broadcast, telemetry and the HTTP API.
//
// # Usage
//
//	svc, err := forge.New(ctx, forge.Config{Mode: forge.ModeFull}, logger)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
//
// # Modes
//
// Full mode persists to disk, calls the configured completion backend and
// deploys through Vercel when a token is present. Degraded mode keeps
// everything in memory, forces the none completion backend (every phase
// falls back to its placeholder) and deploys to the simulated host.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/extensions"
	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/AleutianAI/AleutianForge/services/forge/archive"
	"github.com/AleutianAI/AleutianForge/services/forge/deploy"
	"github.com/AleutianAI/AleutianForge/services/forge/generation"
	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/AleutianAI/AleutianForge/services/forge/history"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/policy"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/realtime"
	"github.com/AleutianAI/AleutianForge/services/forge/routes"
	"github.com/AleutianAI/AleutianForge/services/forge/routines"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Mode
// =============================================================================

// Mode selects how much of the service talks to the outside world.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeDegraded Mode = "degraded"
)

// ParseMode reads a mode name. The empty string means Full.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeDegraded:
		return ModeDegraded, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want full or degraded)", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Default limits. Bundle imports follow the web client's 20 per 15 minutes.
var (
	DefaultGenerateLimit = ratelimit.Config{Limit: 30, Window: time.Hour}
	DefaultImportLimit   = ratelimit.Config{Limit: 20, Window: 15 * time.Minute}
)

const (
	DefaultPort               = 12310
	DefaultDataDir            = "~/.aleutian/forge/data"
	DefaultHistoryTokenBudget = 6000
	DefaultShutdownTimeout    = 15 * time.Second
)

// VercelConfig holds the hosting credentials. An empty token selects the
// simulated host.
type VercelConfig struct {
	Token  *secrets.Secret
	TeamID string
}

// Config holds the service configuration.
//
// # Description
//
// Zero values are replaced by applyConfigDefaults. Optional integrations
// (Vercel, InfluxDB, Cloud Storage) are enabled by filling in their
// section and are ignored in Degraded mode.
type Config struct {
	// Port is the HTTP port. Default: 12310
	Port int

	// Mode is decided once at startup. Default: ModeFull
	Mode Mode

	// GinMode is "debug", "release" or "test". Empty leaves gin's default.
	GinMode string

	// DataDir holds the badger database in Full mode.
	DataDir string

	LLM llm.Config

	GenerateLimit ratelimit.Config
	ImportLimit   ratelimit.Config

	// EnrichMode is light, balanced or aggressive. EnrichMaxPasses
	// overrides the mode's pass budget when positive.
	EnrichMode      string
	EnrichMaxPasses int

	HistoryTokenBudget int

	// AutoDeploy deploys after every code phase.
	AutoDeploy bool

	// AutoDeployOnRollback deploys after every rollback. Full mode only.
	AutoDeployOnRollback bool

	Queue  generation.QueueConfig
	Deploy deploy.Config
	Vercel VercelConfig

	// Influx enables per-attempt deployment points when URL is set.
	Influx telemetry.InfluxConfig

	// Archive copies every snapshot to Cloud Storage when Bucket is set.
	Archive archive.GCSConfig

	Telemetry telemetry.Config

	// APITokens maps bearer tokens to owner ids. Empty authenticates
	// every caller as the local user.
	APITokens map[string]string

	// Auth replaces the token provider derived from APITokens.
	Auth extensions.AuthProvider

	// DisableRealtime turns off the websocket hub.
	DisableRealtime bool

	ShutdownTimeout time.Duration
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFull
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.LLM.Backend == "" {
		cfg.LLM.Backend = llm.BackendNone
	}
	if cfg.Mode == ModeDegraded {
		cfg.LLM.Backend = llm.BackendNone
		cfg.AutoDeployOnRollback = false
	}
	if cfg.GenerateLimit.Limit == 0 && cfg.GenerateLimit.Window == 0 {
		cfg.GenerateLimit = DefaultGenerateLimit
	}
	if cfg.ImportLimit.Limit == 0 && cfg.ImportLimit.Window == 0 {
		cfg.ImportLimit = DefaultImportLimit
	}
	if cfg.HistoryTokenBudget <= 0 {
		cfg.HistoryTokenBudget = DefaultHistoryTokenBudget
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return cfg
}

// =============================================================================
// Service
// =============================================================================

// Service is a wired forge instance.
//
// # Thread Safety
//
// Safe for concurrent use after New returns. Run is called at most once.
type Service struct {
	cfg      Config
	logger   *slog.Logger
	router   *gin.Engine
	registry *prometheus.Registry

	store        *store.BadgerStore
	orchestrator *generation.Orchestrator
	controller   *deploy.Controller
	hub          *realtime.Hub
	archiver     archive.Archiver
	influx       *telemetry.InfluxSink

	shutdownTelemetry func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// New builds every component for cfg.
//
// # Description
//
// Construction order follows the dependency graph: telemetry and metrics,
// then the store, history and routine recorders, then the completion
// client, the deployment controller and the orchestrator (sharing one
// project lock table), and finally the HTTP routes. Optional integrations
// that fail to initialize are logged and replaced by their no-op form.
//
// # Inputs
//
//   - ctx: Bounds integration setup (Cloud Storage, OTLP).
//   - cfg: Service configuration. Zero values use defaults.
//   - logger: Nil uses slog.Default().
//
// # Outputs
//
//   - *Service: Ready to Run. Close releases it when Run is not used.
//   - error: The store or completion backend could not be opened.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Service, error) {
	cfg = applyConfigDefaults(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		logger:   logger.With("component", "forge"),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := s.init(ctx); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Service) init(ctx context.Context) error {
	cfg := s.cfg
	degraded := cfg.Mode == ModeDegraded

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, s.registry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.shutdownTelemetry = shutdown
	metrics := observability.NewMetrics(s.registry)

	if s.store, err = openStore(cfg, s.logger); err != nil {
		return err
	}

	var broadcaster realtime.Broadcaster = realtime.Nop{}
	if !cfg.DisableRealtime {
		s.hub = realtime.NewHub(realtime.HubConfig{Logger: s.logger.With("component", "realtime")})
		broadcaster = s.hub
	}

	s.archiver = archive.Nop{}
	if !degraded && cfg.Archive.Bucket != "" {
		gcs, err := archive.NewGCSArchiver(ctx, cfg.Archive)
		if err != nil {
			s.logger.Warn("Snapshot archive disabled", "bucket", cfg.Archive.Bucket, "error", err)
		} else {
			s.archiver = gcs
		}
	}

	hist := history.NewRecorder(s.store, broadcaster, s.archiver, s.logger)
	rts := routines.NewRecorder(s.store, s.logger)

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	hosting, err := s.newHosting()
	if err != nil {
		return err
	}

	var sink deploy.AttemptSink = telemetry.Nop{}
	if !degraded && cfg.Influx.URL != "" {
		influx, err := telemetry.NewInfluxSink(cfg.Influx, s.logger)
		if err != nil {
			s.logger.Warn("Deployment telemetry disabled", "error", err)
		} else {
			s.influx = influx
			sink = influx
		}
	}

	locks := generation.NewProjectLocks()
	s.controller = deploy.NewController(cfg.Deploy, deploy.Deps{
		Store:    s.store,
		History:  hist,
		Routines: rts,
		Hosting:  hosting,
		Fixer:    deploy.NewFixer(client, s.logger),
		Locks:    locks,
		Sink:     sink,
		Metrics:  metrics,
		Logger:   s.logger.With("component", "deploy"),
	})

	scanner, err := policy.NewEngine()
	if err != nil {
		return fmt.Errorf("load credential patterns: %w", err)
	}

	s.orchestrator = generation.New(generation.Config{
		HistoryTokenBudget: cfg.HistoryTokenBudget,
		EnrichMode:         cfg.EnrichMode,
		EnrichMaxPasses:    cfg.EnrichMaxPasses,
		AutoDeploy:         cfg.AutoDeploy,
		Queue:              cfg.Queue,
	}, generation.Deps{
		Store:         s.store,
		History:       hist,
		Routines:      rts,
		Client:        client,
		Limiter:       ratelimit.NewKeyed(cfg.GenerateLimit),
		ImportLimiter: ratelimit.NewKeyed(cfg.ImportLimit),
		Deployer:      s.controller,
		Metrics:       metrics,
		Logger:        s.logger.With("component", "generation"),
		Locks:         locks,
		Policy:        scanner,
	})

	auth, err := s.authProvider()
	if err != nil {
		return err
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	h := handlers.NewHandlers(handlers.Deps{
		Store:                s.store,
		History:              hist,
		Orchestrator:         s.orchestrator,
		Deployer:             s.controller,
		Hub:                  s.hub,
		AutoDeployOnRollback: cfg.AutoDeployOnRollback,
		Degraded:             degraded,
	})
	routes.SetupRoutes(s.router, h, routes.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Auth:        auth,
		Gatherer:    s.registry,
	})

	s.logger.Info("Forge service initialized",
		"mode", cfg.Mode,
		"llm_backend", cfg.LLM.Backend,
		"hosting", fmt.Sprintf("%T", hosting),
		"realtime", s.hub != nil,
		"archive", fmt.Sprintf("%T", s.archiver),
	)
	return nil
}

func openStore(cfg Config, logger *slog.Logger) (*store.BadgerStore, error) {
	if cfg.Mode == ModeDegraded {
		st, err := store.OpenInMemory()
		if err != nil {
			return nil, fmt.Errorf("failed to open in-memory store: %w", err)
		}
		return st, nil
	}
	dbCfg := store.DefaultDBConfig(filepath.Join(expandHome(cfg.DataDir), "badger"))
	dbCfg.Logger = logger.With("component", "badger")
	db, err := store.OpenDB(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store.NewBadgerStore(db), nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func (s *Service) newHosting() (deploy.Hosting, error) {
	if s.cfg.Mode == ModeDegraded || s.cfg.Vercel.Token.Empty() {
		if s.cfg.Mode == ModeFull {
			s.logger.Warn("No hosting token configured, deployments are simulated")
		}
		return deploy.NewSimulatedHosting(false), nil
	}
	hosting, err := deploy.NewVercelHosting(deploy.VercelConfig{
		Token:  s.cfg.Vercel.Token,
		TeamID: s.cfg.Vercel.TeamID,
		Logger: s.logger.With("component", "vercel"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hosting: %w", err)
	}
	return hosting, nil
}

func (s *Service) authProvider() (extensions.AuthProvider, error) {
	if s.cfg.Auth != nil {
		return s.cfg.Auth, nil
	}
	if len(s.cfg.APITokens) == 0 {
		return &extensions.NopAuthProvider{}, nil
	}
	p, err := extensions.NewStaticTokenProvider(s.cfg.APITokens)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}
	return p, nil
}

// Router returns the configured gin engine.
func (s *Service) Router() *gin.Engine { return s.router }

// Mode reports the mode the service was built in.
func (s *Service) Mode() Mode { return s.cfg.Mode }

// Registry returns the Prometheus registry behind /metrics.
func (s *Service) Registry() *prometheus.Registry { return s.registry }

// UpdateLimits swaps the generation and import limits without a restart.
func (s *Service) UpdateLimits(generate, imports ratelimit.Config) {
	s.orchestrator.UpdateLimits(generate, imports)
	s.logger.Info("Rate limits updated",
		"generate_limit", generate.Limit, "generate_window", generate.Window,
		"import_limit", imports.Limit, "import_window", imports.Window)
}

// Run listens on the configured port until ctx ends, then shuts down.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		_ = s.Close(context.Background())
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx ends or the server fails. Both
// paths drain the code-phase queue and close every component.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting forge server", "addr", ln.Addr().String(), "mode", s.cfg.Mode)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down forge server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), s.Close(shutdownCtx))
	})
	return g.Wait()
}

// Close stops the code-phase workers and releases every component. Later
// calls return the first result.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.orchestrator != nil {
			if err := s.orchestrator.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop generation queue: %w", err))
			}
		}
		if s.hub != nil {
			s.hub.Close()
		}
		if s.archiver != nil {
			if err := s.archiver.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close archive: %w", err))
			}
		}
		if s.influx != nil {
			s.influx.Close()
		}
		if s.shutdownTelemetry != nil {
			if err := s.shutdownTelemetry(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
