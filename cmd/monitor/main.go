package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	httpadapter "github.com/couchcryptid/sealevel-monitor/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sealevel-monitor/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/sealevel-monitor/internal/adapter/redis"
	"github.com/couchcryptid/sealevel-monitor/internal/config"
	"github.com/couchcryptid/sealevel-monitor/internal/forecast"
	"github.com/couchcryptid/sealevel-monitor/internal/modelcache"
	"github.com/couchcryptid/sealevel-monitor/internal/observability"
	"github.com/couchcryptid/sealevel-monitor/internal/pipeline"
	"github.com/couchcryptid/sealevel-monitor/internal/qc"
	"github.com/couchcryptid/sealevel-monitor/internal/regime"
	"github.com/couchcryptid/sealevel-monitor/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	registry, err := config.LoadStations(cfg.StationsFile)
	if err != nil {
		logger.Error("failed to load stations", "error", err, "path", cfg.StationsFile)
		os.Exit(1)
	}
	logger.Info("station network loaded", "stations", registry.Stations())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}

	// Forecast snapshots are published only when REDIS_ADDR is set.
	var snapshots *redisadapter.SnapshotStore
	var publisher pipeline.SnapshotPublisher
	if cfg.RedisAddr != "" {
		client, err := redisadapter.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
		snapshots = redisadapter.NewSnapshotStore(client, cfg.SnapshotTTL)
		publisher = snapshots
		logger.Info("forecast snapshots enabled", "addr", cfg.RedisAddr, "ttl", cfg.SnapshotTTL)
	} else {
		logger.Info("forecast snapshots disabled")
	}

	engine := qc.NewEngine(registry,
		qc.WithValidationThreshold(cfg.ValidationThreshold),
		qc.WithFallback(cfg.FallbackLookback, cfg.FallbackMinSources),
	)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(engine, cfg.FallbackLookback, logger, metrics)
	p := pipeline.New(reader, transformer, db, writer, logger, metrics, cfg.BatchSize)

	job := pipeline.NewForecastJob(pipeline.ForecastConfig{
		Stations:    registry.Stations(),
		Spec:        forecast.DefaultSpec(),
		Horizon:     cfg.ForecastHorizon,
		Lookback:    cfg.ForecastLookback,
		FitTimeout:  cfg.FitTimeout,
		Interval:    cfg.ForecastInterval,
		Concurrency: cfg.ForecastConcurrency,
	}, db, publisher, modelcache.New[*regime.Ensemble](cfg.ModelCacheTTL, cfg.ModelCacheSize), logger, metrics)

	checks := []httpadapter.Check{
		{Name: "pipeline", Checker: p},
		{Name: "store", Checker: db},
	}
	if snapshots != nil {
		checks = append(checks, httpadapter.Check{Name: "redis", Checker: snapshots})
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, checks, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := job.Run(ctx); err != nil {
			logger.Error("forecast job error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not stop before shutdown timeout")
	}

	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if snapshots != nil {
		if err := snapshots.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}
	if err := db.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
