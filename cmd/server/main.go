// Package main is the entry point for the llmgate gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fincore/llmgate"
	"github.com/fincore/llmgate/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting llmgate gateway", "version", llmgate.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Config changes are logged so operators can see drift; the running
	// client is not hot-swapped.
	cfgManager.OnChange(func(updated *config.Config) {
		logger.Info("configuration file changed; restart to apply",
			"providers", len(updated.Providers))
	})
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config change watching disabled", "error", err)
	}

	client, err := llmgate.NewFromConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to build gateway client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	handler := newHandler(client, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/generate", handler.Generate)
	mux.HandleFunc("POST /v1/extract", handler.Extract)
	mux.HandleFunc("GET /v1/health", handler.Health)
	mux.HandleFunc("GET /v1/breakers", handler.Breakers)
	mux.HandleFunc("GET /v1/cache/stats", handler.CacheStats)
	mux.HandleFunc("GET /v1/metrics/summary", handler.MetricsSummary)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cfgManager.Close()
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
