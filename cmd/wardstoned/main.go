// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command wardstoned starts the Wardstone overlay execution governor.
//
// It reads configuration from environment variables and serves the gateway
// HTTP API until SIGINT/SIGTERM.
//
// # Environment Variables
//
//   - WARDSTONE_ADDR: listen address (default: :8085)
//   - WARDSTONE_OVERLAY_ROOT: overlay directory (default: ./overlays)
//   - WARDSTONE_AUDIT_LOG: audit log path (default: ./wardstone_audit.jsonl)
//   - WARDSTONE_INDEX_DIR: provenance index directory (optional; disables
//     the replay index when unset)
//   - WARDSTONE_PHASE_POLICY_FILE: phase policy YAML (default: embedded policy)
//   - WARDSTONE_MAX_CONCURRENT: invocation concurrency bound (default: 16)
//   - WARDSTONE_LOG_DIR: JSON log file directory (optional)
//   - WARDSTONE_LOG_PAYLOADS: include raw payloads in audit entries (default: off)
//   - WARDSTONE_ENABLE_TRACING: stdout OTel tracing (default: off)
//
// # Usage
//
//	go build -o wardstoned ./cmd/wardstoned
//	WARDSTONE_OVERLAY_ROOT=/srv/overlays ./wardstoned
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/wardstone-io/wardstone/pkg/extensions"
	"github.com/wardstone-io/wardstone/pkg/logging"
	"github.com/wardstone-io/wardstone/services/gateway"
	"github.com/wardstone-io/wardstone/services/phasepolicy"
	"github.com/wardstone-io/wardstone/services/provenance"
	"github.com/wardstone-io/wardstone/services/ramwatch"
	"github.com/wardstone-io/wardstone/services/registry"
	"github.com/wardstone-io/wardstone/services/runner"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "wardstoned",
		JSON:    true,
		LogDir:  os.Getenv("WARDSTONE_LOG_DIR"),
	})
	defer logger.Close()

	cfg := gateway.Config{
		Addr:          getEnvString("WARDSTONE_ADDR", ":8085"),
		MaxConcurrent: int64(getEnvInt("WARDSTONE_MAX_CONCURRENT", 16)),
		EnableTracing: getEnvBool("WARDSTONE_ENABLE_TRACING"),
	}
	overlayRoot := getEnvString("WARDSTONE_OVERLAY_ROOT", "./overlays")
	auditPath := getEnvString("WARDSTONE_AUDIT_LOG", "./wardstone_audit.jsonl")
	indexDir := os.Getenv("WARDSTONE_INDEX_DIR")
	policyFile := os.Getenv("WARDSTONE_PHASE_POLICY_FILE")

	logger.Info("starting wardstoned",
		"addr", cfg.Addr,
		"overlay_root", overlayRoot,
		"audit_log", auditPath,
		"policy", policyName(policyFile),
		"payload_logging", provenance.PayloadLoggingEnabled(),
	)

	if cfg.EnableTracing {
		shutdown, err := initTracing()
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer shutdown()
	}

	engine, err := loadPolicy(policyFile)
	if err != nil {
		log.Fatalf("Failed to load phase policy: %v", err)
	}

	reg, err := registry.New(overlayRoot, logger)
	if err != nil {
		log.Fatalf("Failed to open overlay registry: %v", err)
	}

	audit, err := provenance.OpenAuditLog(auditPath, provenance.PayloadLoggingEnabled())
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer audit.Close()

	var index *provenance.Index
	if indexDir != "" {
		index, err = provenance.OpenIndex(indexDir)
		if err != nil {
			log.Fatalf("Failed to open provenance index: %v", err)
		}
		defer index.Close()
	}

	svc, err := gateway.New(cfg, gateway.Deps{
		Registry: reg,
		Engine:   engine,
		Monitor:  ramwatch.NewMonitor(),
		Audit:    audit,
		Index:    index,
		Process:  runner.NewProcessRunner(nil, logger),
		HTTP:     runner.NewHTTPRunner(logger),
		Logger:   logger,
	}, extensions.DefaultOptions())
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := reg.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("registry watcher stopped", "error", err.Error())
		}
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
	logger.Info("wardstoned stopped")
}

// loadPolicy loads the policy file or falls back to the embedded default.
func loadPolicy(path string) (*phasepolicy.Engine, error) {
	if path != "" {
		return phasepolicy.LoadFile(path)
	}
	return phasepolicy.LoadDefault()
}

func policyName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// initTracing installs a stdout tracer provider and returns its shutdown
// function.
func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}, nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool treats 1/true/yes/on as true.
func getEnvBool(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
