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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/fleetorders/internal/config"
	"github.com/joao-fontenele/fleetorders/internal/dispatcher"
	"github.com/joao-fontenele/fleetorders/internal/kv"
	"github.com/joao-fontenele/fleetorders/internal/messaging"
	"github.com/joao-fontenele/fleetorders/internal/settings"
	"github.com/joao-fontenele/fleetorders/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	if cfg.PushServiceURL == "" {
		logger.Error("PUSH_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "notifier", "0.1.0", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	store, closeStore, err := kv.Open(ctx, cfg.StorageDriver, cfg.StorageDir, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open storage", "error", err, "driver", cfg.StorageDriver)
		os.Exit(1)
	}
	defer func() { _ = closeStore() }()

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, cfg.NotificationsTopic, cfg.ConsumerGroup, logger)
	defer func() { _ = consumer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	d := dispatcher.NewDispatcher(cfg.PushServiceURL, httpClient, settings.NewService(store, logger), logger)
	defer d.Close()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification dispatcher", "brokers", cfg.KafkaBrokers, "topic", cfg.NotificationsTopic)

	if err := consumer.Consume(ctx, d.Handle); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
