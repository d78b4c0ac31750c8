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
	goredis "github.com/redis/go-redis/v9"

	"github.com/V4T54L/azmon-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/azmon-forwarder/internal/adapter/openobserve"
	kafkasource "github.com/V4T54L/azmon-forwarder/internal/adapter/source/kafka"
	redissource "github.com/V4T54L/azmon-forwarder/internal/adapter/source/redis"
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
	if err := cfg.ValidateSource(); err != nil {
		slog.Error("invalid source config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting consumer worker", "source", cfg.TriggerSource)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewForwarderMetrics(nil)
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	client, err := openobserve.NewClient(openobserve.OptionsFromConfig(cfg), log, m)
	if err != nil {
		log.Error("failed to create openobserve client", "error", err)
		os.Exit(1)
	}
	forwarder := usecase.NewForwardBatchUseCase(usecase.NewRouter(log, m), client, log, m, cfg.MaxConcurrentSends)

	// Create a unique consumer name for this instance
	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "consumer-default"
	}

	var runErr error
	switch cfg.TriggerSource {
	case config.SourceKafka:
		reader := kafkasource.NewReader(cfg)
		defer reader.Close()
		source := kafkasource.NewSource(reader, forwarder, log, cfg.ConsumerBatchSize, cfg.ConsumerBatchWait)
		runErr = source.Run(ctx)

	case config.SourceRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := goredis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		log.Info("connected to redis")

		source, err := redissource.NewSource(ctx, redisClient, forwarder, log, cfg.RedisStream, cfg.RedisGroup, consumerName, cfg.ConsumerBatchSize, cfg.ConsumerBatchWait)
		if err != nil {
			log.Error("failed to create redis source", "error", err)
			os.Exit(1)
		}
		runErr = source.Run(ctx)
	}

	if runErr != nil {
		log.Error("consumer stopped with error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}

	log.Info("consumer worker shut down gracefully")
}
