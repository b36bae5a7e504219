// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the query service.
//
// This package wires every component of the service: the intent classifier,
// the router, the SQL and crew analysis paths, the synthesizer, the workflow
// engine, the session history store, the data source registry, the HTTP and
// MCP surfaces, and the observability infrastructure.
//
// # Enterprise Integration
//
// The orchestrator supports dependency injection via extensions.ServiceOptions:
//   - AuthProvider: Custom authentication (JWT, API keys)
//   - AuditLogger: Compliance audit logging
//
// When opts carries no AuditLogger, audit events go to the history store.
//
// # Usage
//
//	cfg, err := orchestrator.LoadConfig("aleutian.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/crew"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/history"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/intent"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/mcptools"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/memory"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/routing"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/sqlpath"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/synthesis"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
	"github.com/AleutianAI/AleutianQuery/services/policy_engine"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a
	// listener error, then shuts down gracefully within
	// Server.ShutdownTimeout.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Engine returns the workflow engine, for in-process callers.
	Engine() *workflow.Engine

	// Close releases the stores and flushes the tracer. Safe to call
	// more than once.
	Close() error
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration with defaults applied
//   - opts: Extension options, normalized
//   - router: Gin HTTP engine
//   - engine: Workflow engine answering queries
//   - sources: Registered data sources
//   - uploads: SQLite store holding uploaded CSVs
//   - history: Session history, query records and audit events
//   - memory: Answered questions in Weaviate. Nil when disabled
//   - tracerCleanup: Flushes the tracer on exit
//   - stopWatch: Stops the prompt directory watcher
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	llmClient     llm.LLMClient
	engine        *workflow.Engine
	sources       *datasource.Registry
	uploads       *datasource.SQLiteStore
	history       *history.Store
	memory        *memory.Store
	mcp           *mcptools.Server
	policy        *policy_engine.Guard
	tracerCleanup func(context.Context)
	stopWatch     context.CancelFunc
	closed        bool
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Creates the LLM client for the configured backend
//  4. Opens the history store and the upload store
//  5. Builds the prompt chain, the analysis paths and the workflow engine
//  6. Sets up HTTP and MCP routes with extension options
//
// If opts is nil, DefaultOptions() is used, with the history store as the
// audit logger.
//
// # Inputs
//
//   - cfg: Service configuration. Zero sections use defaults.
//   - opts: Extension options for enterprise features. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	return newService(cfg, opts, nil)
}

// newService is New with an optional pre-built LLM client.
func newService(cfg Config, opts *extensions.ServiceOptions, client llm.LLMClient) (*service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	if opts != nil {
		s.opts = *opts
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.llmClient = client
	if s.llmClient == nil {
		if s.llmClient, err = llm.NewClient(s.config.LLM); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}
	slog.Info("LLM backend configured", "backend", s.config.LLM.Backend, "model", s.config.LLM.Model)

	if err := s.initStores(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initOptions(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initEngine(); err != nil {
		s.Close()
		return nil, err
	}
	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.config.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down orchestrator server", "timeout", s.config.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Engine returns the workflow engine.
func (s *service) Engine() *workflow.Engine {
	return s.engine
}

// Close releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Stops the prompt
// watcher, closes the data sources and the history store, and shuts down
// the tracer. Errors are joined.
func (s *service) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.sources != nil {
		if err := s.sources.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data sources: %w", err))
		}
	}
	if s.uploads != nil {
		if err := s.uploads.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close upload store: %w", err))
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	return errors.Join(errs...)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// "otlp" sends spans to the configured collector over insecure gRPC,
// "stdout" pretty-prints them, and "none" leaves the global no-op provider
// in place.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.config.Telemetry.Exporter {
	case "none":
		return func(context.Context) {}, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		conn, err := grpc.NewClient(s.config.Telemetry.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.Telemetry.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}
	return cleanup, nil
}

// initStores opens the history store, the upload store and the registry.
func (s *service) initStores() error {
	var err error
	if s.history, err = history.Open(s.config.Storage.History); err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	if s.uploads, err = datasource.OpenSQLite(s.config.Storage.UploadsPath); err != nil {
		return fmt.Errorf("failed to open upload store: %w", err)
	}
	s.sources = datasource.NewRegistry()
	if s.config.Memory.Enabled {
		// Memory is optional. An unreachable Weaviate is logged and skipped.
		if s.memory, err = memory.Open(context.Background(), s.config.Memory); err != nil {
			slog.Warn("Query memory unavailable, continuing without it",
				"url", s.config.Memory.URL, "error", err)
			s.memory = nil
		}
	}
	if s.config.Policy.Mode != policy_engine.ModeOff {
		if s.policy, err = policy_engine.NewGuard(s.config.Policy); err != nil {
			return fmt.Errorf("failed to load data policy: %w", err)
		}
	}
	slog.Info("Stores opened",
		"history_in_memory", s.config.Storage.History.InMemory,
		"history_path", s.config.Storage.History.Path,
		"uploads_path", s.config.Storage.UploadsPath)
	return nil
}

// initOptions resolves the extension points. Injected providers win over
// configuration.
func (s *service) initOptions() error {
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = s.history
	}
	if s.opts.AuthProvider == nil && s.config.Auth.Mode == "apikey" {
		provider, err := extensions.NewAPIKeyAuthProvider(s.config.Auth.APIKeys)
		if err != nil {
			return fmt.Errorf("failed to initialize API key auth: %w", err)
		}
		s.opts.AuthProvider = provider
	}
	s.opts = s.opts.Normalize()
	return nil
}

// initPrompts builds the dynamic, static and hardcoded tiers in that order.
func (s *service) initPrompts() (prompts.Provider, error) {
	var tiers []prompts.Tier
	if s.config.Prompts.DynamicURL != "" {
		tiers = append(tiers, prompts.NewHTTPTier(s.config.Prompts.DynamicURL,
			s.config.Prompts.DynamicTTL, s.config.Prompts.DynamicTimeout))
	}

	static, err := prompts.NewStaticTier(s.config.Prompts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}
	tiers = append(tiers, static, prompts.Hardcoded())

	if s.config.Prompts.Watch && s.config.Prompts.Dir != "" {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopWatch = cancel
		go func() {
			if err := static.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("prompt watcher stopped", "dir", s.config.Prompts.Dir, "error", err)
			}
		}()
	}
	return prompts.NewChain(tiers...), nil
}

// initEngine wires the analysis components into the workflow engine.
func (s *service) initEngine() error {
	provider, err := s.initPrompts()
	if err != nil {
		return err
	}

	keywords := intent.DefaultKeywords()
	if path := s.config.Intent.KeywordsFile; path != "" {
		if keywords, err = intent.LoadKeywordFile(path); err != nil {
			return fmt.Errorf("failed to load intent keywords: %w", err)
		}
	}

	crewPath := crew.New(s.llmClient, provider, s.config.Crew).
		WithObserver(workflow.CrewStageObserver())

	deps := workflow.Deps{
		Classifier: intent.NewClassifier(s.llmClient, provider, keywords, s.config.Intent),
		Planner:    routing.New(s.config.Routing),
		Analyzers: []workflow.Analyzer{
			sqlpath.New(s.llmClient, provider, s.sources, s.sources, s.config.SQL),
			crewPath,
		},
		Synthesizer: synthesis.New(s.llmClient, provider, s.config.Synthesis),
		Schemas:     s.sources,
		Profiler:    s.sources,
		History:     s.history,
		Recorders:   []workflow.CompletionRecorder{s.history},
		Audit:       s.opts.AuditLogger,
	}
	if s.memory != nil {
		deps.Recall = s.memory
		deps.Recorders = append(deps.Recorders, s.memory)
	}
	if s.engine, err = workflow.NewEngine(deps, s.config.Workflow); err != nil {
		return fmt.Errorf("failed to build workflow engine: %w", err)
	}

	if s.config.Server.MCPEnabled {
		s.mcp = mcptools.NewServer(s.engine, s.sources, s.config.Server.Version)
	}
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.Server.GinMode != "" {
		gin.SetMode(s.config.Server.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))
	s.router.Use(middleware.RequestLogger())

	deps := routes.Deps{
		Runner:         s.engine,
		Sources:        s.sources,
		Uploads:        s.uploads,
		History:        s.history,
		Connector:      handlers.PostgresConnector,
		MCP:            s.mcp,
		MaxUploadBytes: s.config.Storage.MaxUploadBytes,
		MCPBasePath:    s.config.Server.MCPBasePath,
	}
	if s.policy != nil {
		deps.Policy = s.policy
	}
	if s.memory != nil {
		deps.Recall = s.memory
	}
	routes.SetupRoutes(s.router, deps, s.opts)
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var (
	_ Service                   = (*service)(nil)
	_ workflow.RecallClassifier = (*intent.Classifier)(nil)
)
