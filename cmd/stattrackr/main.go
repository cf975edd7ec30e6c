// Package main implements the entry point for the stattrackr sync
// service: a two-tier cached store of sports betting odds kept fresh by
// a checkpointed, budgeted scan engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Stattrackrr/stattrackr-sub010/config"
	"github.com/Stattrackrr/stattrackr-sub010/gateway"
	"github.com/Stattrackrr/stattrackr-sub010/metric"
	"github.com/Stattrackrr/stattrackr-sub010/natskv"
	"github.com/Stattrackrr/stattrackr-sub010/pkg/cache"
	"github.com/Stattrackrr/stattrackr-sub010/scan"
	"github.com/Stattrackrr/stattrackr-sub010/tiercache"
	"github.com/Stattrackrr/stattrackr-sub010/upstream"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "stattrackr"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting stattrackr",
		"version", Version,
		"configPath", cliCfg.ConfigPath,
		"sport", cfg.Upstream.Sport)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewRegistry()
	metricsServer := metric.NewServer(cfg.HTTP.MetricsPort, "/metrics", registry)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	natsClient, err := natskv.Connect(natskv.ClientConfig{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait.Std(),
	}, logger)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	defer natsClient.Close()

	bucket, err := natsClient.Bucket(ctx, cfg.Cache.Bucket)
	if err != nil {
		return fmt.Errorf("open KV bucket: %w", err)
	}

	mem, err := cache.New[[]byte](ctx, cfg.Cache.SweepInterval.Std(),
		cache.WithMetrics[[]byte](registry, "ephemeral"))
	if err != nil {
		return fmt.Errorf("create ephemeral cache: %w", err)
	}
	defer func() { _ = mem.Close() }()

	durable := tiercache.NewDurable(bucket, logger)
	cacheService := tiercache.NewService(mem, durable, logger)

	client, err := upstream.New(upstream.Config{
		APIKey:         cfg.Upstream.APIKey,
		RequestTimeout: cfg.Upstream.RequestTimeout.Std(),
		RetryCeiling:   cfg.Upstream.RetryCeiling,
		BackoffBase:    cfg.Upstream.BackoffBase.Std(),
		MaxPages:       cfg.Upstream.MaxPages,
	}, upstream.WithLogger(logger), upstream.WithMetrics(registry))
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}

	syncer := scan.NewSyncer(cacheService, client, cfg.Upstream.BaseURL, cfg.Upstream.Sport, logger)
	checkpoints := scan.NewCheckpointStore(durable, "props",
		cfg.Scan.CheckpointStaleness.Std(), logger)
	scanner := scan.NewScanner(scan.Config{
		GroupSize:   cfg.Scan.GroupSize,
		Concurrency: cfg.Scan.Concurrency,
		GroupDelay:  cfg.Scan.GroupDelay.Std(),
		Budget:      cfg.Scan.Budget.Std(),
	}, checkpoints, syncer.RefreshEntity,
		scan.WithLogger(logger), scan.WithMetrics(registry, "props"))

	scheduler := scan.NewScheduler(scan.SchedulerConfig{
		Interval: cfg.Scan.TriggerInterval.Std(),
		Cadence:  cfg.Scan.Cadence(),
	}, syncer, scanner, checkpoints, logger)
	scheduler.Start(ctx)

	apiServer := gateway.NewServer(cfg.HTTP.Port, cacheService, syncer, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			stop()
		}
	}()

	logger.Info("stattrackr started",
		"apiPort", cfg.HTTP.Port,
		"metricsPort", cfg.HTTP.MetricsPort,
		"triggerInterval", cfg.Scan.TriggerInterval.Std().String())

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()

	scheduler.Stop()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", "error", err)
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("stattrackr shutdown complete")
	return nil
}
