package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/fernledge/homestream/internal/adapter/http"
	"github.com/fernledge/homestream/internal/adapter/hub"
	"github.com/fernledge/homestream/internal/adapter/influx"
	kafkaadapter "github.com/fernledge/homestream/internal/adapter/kafka"
	"github.com/fernledge/homestream/internal/adapter/weather"
	"github.com/fernledge/homestream/internal/config"
	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	"github.com/fernledge/homestream/internal/pipeline"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	// Weather enrichment is feature-flagged via WEATHER_ENABLED / WEATHER_API_KEY.
	var provider domain.WeatherProvider
	var cache pipeline.CacheStats
	if cfg.WeatherEnabled {
		client := weather.NewClient(cfg.WeatherAPIKey, cfg.WeatherLat, cfg.WeatherLon, cfg.WeatherTimeout, logger, metrics)
		if cfg.WeatherURL != "" {
			client.SetBaseURL(cfg.WeatherURL)
		}
		cached := weather.NewCachedProvider(client, cfg.WeatherTTL, clock, metrics)
		provider = cached
		cache = cached
		metrics.WeatherEnabled.Set(1)
		logger.Info("weather enrichment enabled",
			"lat", cfg.WeatherLat, "lon", cfg.WeatherLon, "ttl", cfg.WeatherTTL)
	} else {
		logger.Info("weather enrichment disabled")
	}

	deadLetter := kafkaadapter.NewDeadLetter(cfg.KafkaDLQBrokers, cfg.KafkaDLQTopic, logger)
	if deadLetter != nil {
		logger.Info("dead-letter topic enabled", "topic", cfg.KafkaDLQTopic)
	}

	writer := influx.NewWriter(influx.Config{
		URL:         cfg.InfluxURL,
		Token:       cfg.InfluxToken,
		Org:         cfg.InfluxOrg,
		Bucket:      cfg.InfluxBucket,
		Measurement: cfg.InfluxMeasurement,
	}, logger, metrics)

	source := hub.New(hub.Config{
		URL:             cfg.HubURL,
		Token:           cfg.HubToken,
		PingInterval:    cfg.HubPingInterval,
		PongTimeout:     cfg.HubPongTimeout,
		MaxAuthFailures: cfg.HubMaxAuthFailures,
		BufferSize:      cfg.HubBufferSize,
	}, logger, metrics)

	batcher := pipeline.NewBatcher(pipeline.BatcherConfig{
		Size:          cfg.BatchSize,
		FlushInterval: cfg.BatchFlushInterval,
		MaxRetries:    cfg.BatchMaxRetries,
		DrainTimeout:  cfg.ShutdownTimeout / 2,
	}, writer, deadLetter, clock, logger, metrics)

	processor := pipeline.NewProcessor(provider, batcher, deadLetter, logger, metrics)

	forwarder := pipeline.NewForwarder(pipeline.ForwarderConfig{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Cooldown:         cfg.BreakerCooldown,
		MaxAttempts:      cfg.ForwardRetries,
	}, processor, logger, metrics)

	p := pipeline.New(source, forwarder, processor, batcher, cache, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- p.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		// Wait for the final batch drain before closing the store client.
		select {
		case err := <-pipelineDone:
			if err != nil {
				logger.Error("pipeline error", "error", err)
			}
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("pipeline did not stop within the shutdown timeout")
		}
	case err := <-pipelineDone:
		// Terminal pipeline failure (auth limit); shut down everything else.
		if err != nil {
			logger.Error("pipeline failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	writer.Close()
	if err := deadLetter.Close(); err != nil {
		logger.Error("dead-letter close error", "error", err)
	}

	logger.Info("shutdown complete")
}
