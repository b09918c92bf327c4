// Command investigatord runs the investigative intelligence engine as
// an MCP server, exposing "analyze" and "investigate" tools over
// stdio. Configuration is provided through environment variables; see
// internal/config for the full list.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kestrelsec/intelgraph/internal/cachestore"
	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/config"
	"github.com/kestrelsec/intelgraph/internal/engine"
	"github.com/kestrelsec/intelgraph/internal/graphstore"
	"github.com/kestrelsec/intelgraph/internal/health"
	"github.com/kestrelsec/intelgraph/internal/llmclient"
	"github.com/kestrelsec/intelgraph/internal/llmprovider"
	"github.com/kestrelsec/intelgraph/internal/mcpserver"
	"github.com/kestrelsec/intelgraph/internal/obsmetrics"
	"github.com/kestrelsec/intelgraph/internal/pipeline"
	"github.com/kestrelsec/intelgraph/internal/strategies"
	"github.com/kestrelsec/intelgraph/internal/tracing"
)

// Build information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	builtBy = "manual"
)

func main() {
	_ = godotenv.Load()

	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting investigative intelligence engine",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built_by", builtBy),
	)

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName:    "investigatord",
		ServiceVersion: version,
		Enabled:        cfg.EnableTracing,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Failed to shut down tracing", zap.Error(err))
		}
	}()

	llm, err := llmprovider.New(cfg.LLM.Provider, cfg.LLM.Model)
	if err != nil {
		logger.Fatal("Failed to create LLM provider", zap.Error(err))
	}

	var cache capability.Cache
	if cfg.Engine.CacheEnabled {
		cache = cachestore.New(cfg.Cache.MaxEntries)
	}

	llmMetrics := obsmetrics.NewLLMClientMetrics()
	rateLimitedLLM := llmclient.New(llm, cache, llmclient.Config{
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		TokensPerMinute:   cfg.LLM.TokensPerMinute,
		RetryAttempts:     cfg.LLM.RetryAttempts,
		RetryDelayMin:     cfg.LLM.RetryDelay,
		RetryDelayMax:     30 * time.Second,
		CacheTTLSeconds:   int(cfg.Cache.DefaultTTL.Seconds()),
	}, llmMetrics)

	graph := graphstore.New()

	eng := engine.New(rateLimitedLLM.AsProvider(), graph, cache, strategies.NewRegistry().All(), engine.Config{
		EnableCaching:   cfg.Engine.CacheEnabled,
		CacheTTLSeconds: int(cfg.Engine.CacheResultTTL.Seconds()),
		TimeoutSeconds:  int(cfg.Engine.DefaultTimeout.Seconds()),
		CollectMetrics:  true,
	}, logger)

	pl := pipeline.New(eng, pipeline.Config{
		Adaptive:          cfg.Pipeline.Adaptive,
		TimeoutSeconds:    int(cfg.Pipeline.Timeout.Seconds()),
		EnableParallel:    true,
		EnablePersistence: true,
		CollectMetrics:    true,
	}, logger)

	checker := health.New(eng, pl, graph, cache, logger)
	mcpServer := mcpserver.New(cfg, eng, pl, checker, logger, version)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverDone := make(chan error, 1)
	go func() { serverDone <- mcpServer.Start(ctx) }()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
		cancel()
		return
	}

	logger.Info("Initiating graceful shutdown", zap.Duration("timeout", cfg.ShutdownTimeout))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-serverDone:
		logger.Info("Server shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit", zap.Duration("timeout", cfg.ShutdownTimeout))
	}
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
