package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/azmon-forwarder/internal/adapter/api"
	"github.com/V4T54L/azmon-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/azmon-forwarder/internal/adapter/openobserve"
	"github.com/V4T54L/azmon-forwarder/internal/pkg/config"
	"github.com/V4T54L/azmon-forwarder/internal/pkg/logger"
	"github.com/V4T54L/azmon-forwarder/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.NewForwarderMetrics(nil)

	// --- Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Forwarding Pipeline ---
	client, err := openobserve.NewClient(openobserve.OptionsFromConfig(cfg), logger, m)
	if err != nil {
		logger.Error("failed to create openobserve client", "error", err)
		os.Exit(1)
	}
	router := usecase.NewRouter(logger, m)
	forwarder := usecase.NewForwardBatchUseCase(router, client, logger, m, cfg.MaxConcurrentSends)

	// --- Custom Handler Server ---
	// Invocations wait for every send, so there is no write timeout.
	server := &http.Server{
		Addr:        ":" + cfg.FunctionsPort,
		Handler:     api.NewRouter(cfg, logger, forwarder),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("starting custom handler", "addr", server.Addr, "function", cfg.FunctionName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("custom handler failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("custom handler shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}
