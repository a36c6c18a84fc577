// PromptShield server - validates LLM endpoints against probe suites, scores
// safety posture, and detects behavioral drift against stored baselines.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/promptshield/promptshield/pkg/adapters"
	"github.com/promptshield/promptshield/pkg/api"
	"github.com/promptshield/promptshield/pkg/baseline"
	"github.com/promptshield/promptshield/pkg/config"
	"github.com/promptshield/promptshield/pkg/database"
	"github.com/promptshield/promptshield/pkg/drift"
	"github.com/promptshield/promptshield/pkg/embedding"
	"github.com/promptshield/promptshield/pkg/engine"
	"github.com/promptshield/promptshield/pkg/llm"
	"github.com/promptshield/promptshield/pkg/store"
	"github.com/promptshield/promptshield/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))
	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting PromptShield", "version", version.Full(), "http_port", httpPort)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, schema up to date")

	stores := store.New(dbClient.DB())

	transport := llm.NewTransport(cfg.HTTPTimeout, cfg.HTTPMaxRetries)
	registry := adapters.DefaultRegistry(transport)
	slog.Info("Probe adapters registered", "adapters", registry.Names())

	embedder := embedding.NewClient(cfg.EmbeddingServiceURL, cfg.EmbeddingModelName, cfg.EmbeddingBatchSize)
	if !embedder.Enabled() {
		slog.Warn("No embedding service configured; embedding drift will be unavailable")
	}

	execEngine := engine.NewEngine(stores, registry, embedder, cfg)
	pool := engine.NewPool(execEngine, stores, cfg)
	pool.Start(ctx)

	selector := baseline.NewSelector(stores.ExecutionStore, stores.BaselineStore)
	driftEngine := drift.NewEngine(
		stores.ExecutionStore,
		stores.FindingStore,
		stores.DriftStore,
		selector,
		cfg.DriftThresholds,
		cfg.DriftComparisonTimeout,
	)

	server := api.NewServer(dbClient, stores, pool, driftEngine)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + httpPort)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	pool.Stop()
	slog.Info("PromptShield stopped")
}
