// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway is the HTTP front-end of the overlay execution governor.
//
// It wires the full control flow for one request: registry lookup, phase
// policy check, approval gate, memory-aware scheduling, sandboxed
// execution, and the audit append. Concurrency is bounded by a weighted
// semaphore, the invoke route is rate limited, and every invocation gets a
// request id (caller-supplied or minted).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/wardstone-io/wardstone/pkg/extensions"
	"github.com/wardstone-io/wardstone/pkg/logging"
	"github.com/wardstone-io/wardstone/services/gateway/observability"
	"github.com/wardstone-io/wardstone/services/memrune"
	"github.com/wardstone-io/wardstone/services/phasepolicy"
	"github.com/wardstone-io/wardstone/services/provenance"
	"github.com/wardstone-io/wardstone/services/ramwatch"
	"github.com/wardstone-io/wardstone/services/registry"
	"github.com/wardstone-io/wardstone/services/runner"
	"github.com/wardstone-io/wardstone/services/scheduler"
)

// Config holds the gateway's tunables. Zero fields take defaults.
type Config struct {
	// Addr is the listen address, e.g. ":8085".
	Addr string

	// MaxConcurrent bounds simultaneous invocations. Default 16.
	MaxConcurrent int64

	// InvokeRatePerSec and InvokeBurst shape the invoke route's rate
	// limiter. Defaults 20/s with a burst of 40.
	InvokeRatePerSec float64
	InvokeBurst      int

	// EnableTracing adds otelgin middleware; the caller is responsible
	// for installing a tracer provider.
	EnableTracing bool
}

// applyDefaults fills zero fields.
func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8085"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 16
	}
	if c.InvokeRatePerSec <= 0 {
		c.InvokeRatePerSec = 20
	}
	if c.InvokeBurst <= 0 {
		c.InvokeBurst = 40
	}
}

// Deps are the collaborating services the gateway coordinates. All fields
// are required except Index.
type Deps struct {
	Registry *registry.Registry
	Engine   *phasepolicy.Engine
	Monitor  *ramwatch.Monitor
	Audit    *provenance.AuditLog

	// Index is optional; when present every audit entry is also indexed
	// by request id for the replay CLI.
	Index *provenance.Index

	// Process and HTTP are the two execution strategies. Entrypoints
	// beginning with http:// or https:// route to HTTP, everything else
	// to Process.
	Process runner.Runner
	HTTP    runner.Runner

	Logger *logging.Logger
}

// Service is one gateway instance. All state is constructor-injected;
// multiple isolated instances can coexist in one process.
type Service struct {
	cfg     Config
	deps    Deps
	opts    extensions.ServiceOptions
	sched   *scheduler.Scheduler
	metrics *observability.Metrics
	promReg *prometheus.Registry
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *logging.Logger

	// defaultProfile applies to overlays without a rune annotation.
	defaultProfile *memrune.MemoryProfile

	// now is injected by tests.
	now func() time.Time
}

// New wires a gateway Service.
func New(cfg Config, deps Deps, opts extensions.ServiceOptions) (*Service, error) {
	cfg.applyDefaults()
	if deps.Registry == nil || deps.Engine == nil || deps.Monitor == nil || deps.Audit == nil {
		return nil, fmt.Errorf("gateway: registry, engine, monitor, and audit are required")
	}
	if deps.Process == nil || deps.HTTP == nil {
		return nil, fmt.Errorf("gateway: both execution strategies are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	defaultProfile, err := memrune.NewMemoryProfile(
		memrune.MemBudget{SoftCapMB: 512, HardCapMB: 1024},
		nil, memrune.TierLocal, memrune.DefaultPriority, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("gateway default profile: %w", err)
	}

	s := &Service{
		cfg:            cfg,
		deps:           deps,
		opts:           opts.Normalize(),
		sem:            semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter:        rate.NewLimiter(rate.Limit(cfg.InvokeRatePerSec), cfg.InvokeBurst),
		logger:         deps.Logger,
		defaultProfile: defaultProfile,
		now:            time.Now,
	}

	s.sched, err = scheduler.New(scheduler.DefaultConfig(), deps.Monitor,
		scheduler.ExecutorFunc(s.executeJob), deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("gateway scheduler: %w", err)
	}

	s.promReg = prometheus.NewRegistry()
	s.promReg.MustRegister(collectors.NewGoCollector())
	s.metrics = observability.NewMetrics(s.promReg, deps.Monitor.Current)

	return s, nil
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if s.cfg.EnableTracing {
		router.Use(otelgin.Middleware("wardstone-gateway"))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	v1.GET("/overlays", s.handleListOverlays)
	v1.POST("/invoke", s.rateLimit(), s.handleInvoke)

	return router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// rateLimit guards the invoke route.
func (s *Service) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":    false,
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// executeJob is the scheduler's executor: it dispatches the invocation
// request carried in the job metadata to the matching execution strategy.
func (s *Service) executeJob(ctx context.Context, job *scheduler.JobContext) (any, error) {
	req, ok := job.Metadata[metaInvocationRequest].(runner.Request)
	if !ok {
		return nil, fmt.Errorf("job %q carries no invocation request", job.JobID)
	}
	strategy := s.deps.Process
	if isHTTPEntrypoint(req.Entrypoint) {
		strategy = s.deps.HTTP
	}
	return strategy.Invoke(ctx, req)
}

// metaInvocationRequest is the metadata key carrying the runner request
// from the invoke handler through the scheduler to the executor.
const metaInvocationRequest = "invocation_request"

// isHTTPEntrypoint reports whether an entrypoint selects the HTTP
// strategy.
func isHTTPEntrypoint(entrypoint string) bool {
	return strings.HasPrefix(entrypoint, "http://") || strings.HasPrefix(entrypoint, "https://")
}
