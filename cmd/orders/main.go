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
	"github.com/joao-fontenele/fleetorders/internal/kv"
	"github.com/joao-fontenele/fleetorders/internal/messaging"
	"github.com/joao-fontenele/fleetorders/internal/notify"
	"github.com/joao-fontenele/fleetorders/internal/orders"
	"github.com/joao-fontenele/fleetorders/internal/scheduler"
	"github.com/joao-fontenele/fleetorders/internal/settings"
	"github.com/joao-fontenele/fleetorders/internal/telemetry"
)

const (
	serviceName    = "orders"
	serviceVersion = "0.1.0"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	store, closeStore, err := kv.Open(ctx, cfg.StorageDriver, cfg.StorageDir, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open storage", "error", err, "driver", cfg.StorageDriver)
		os.Exit(1)
	}
	defer func() { _ = closeStore() }()

	var gateway notify.Gateway
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.NotificationsTopic)
		defer func() { _ = producer.Close() }()
		gateway = notify.NewKafkaGateway(producer)
		logger.Info("publishing notifications to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.NotificationsTopic)
	} else {
		gateway = notify.NewLocalGateway(logger)
		logger.Info("KAFKA_BROKERS not set, delivering notifications to the log")
	}

	storeOpts := []orders.Option{
		orders.WithPreDueLead(cfg.PreDueLead),
		orders.WithOverdueThrottle(cfg.OverdueThrottle),
	}
	if cfg.StrictTransitions {
		storeOpts = append(storeOpts, orders.WithStrictTransitions())
	}
	if !cfg.SeedDemoData {
		storeOpts = append(storeOpts, orders.WithoutSeedData())
	}
	orderStore := orders.NewStore(store, gateway, logger, storeOpts...)
	if err := orderStore.Initialize(ctx); err != nil {
		logger.Warn("starting with an empty order list", "error", err)
	}

	sched := scheduler.New(orderStore, gateway, logger,
		scheduler.WithInterval(cfg.CheckInterval),
		scheduler.WithDueSoonWindow(cfg.DueSoonWindow),
		scheduler.WithStaleAfter(cfg.StaleAfter),
		scheduler.WithThrottle(cfg.SchedulerThrottle),
	)
	sched.Start(ctx)
	defer sched.Stop()

	mux := http.NewServeMux()
	orders.NewHandler(orderStore, logger).Register(mux, telemetry.WithHTTPRoute)
	settings.NewHandler(settings.NewService(store, logger), logger).Register(mux, telemetry.WithHTTPRoute)
	mux.HandleFunc("POST /checks/run", telemetry.WithHTTPRoute(scheduler.NewHandler(sched, logger).HandleRunChecks))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", cfg.Port, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
