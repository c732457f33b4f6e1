package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/amqp"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/store"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/worker"
	"github.com/united-manufacturing-hub/data-collector/internal"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
	"net/http"
	"os"
)

func main() {
	InitLogging()
	cfg, err := LoadConfig()
	if err != nil {
		zap.S().Fatalf("Invalid configuration: %s", err)
	}
	InitPrometheus(cfg.MetricsPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := connectStore(ctx, cfg)

	consumer := amqp.NewConsumer(amqp.NewDialer(cfg.DataMQ.URL()), cfg.DataQueue, consumerTag())
	err = internal.RetryFixed(ctx, "connect to data MQ", cfg.ConnectAttempts, cfg.ConnectRetryDelay, consumer.Start)
	if err != nil {
		_ = st.Close()
		zap.S().Fatalf("Failed to start consumer: %s", err)
	}
	forwarder := amqp.NewForwarder(amqp.NewDialer(cfg.ServicesMQ.URL()))
	err = internal.RetryFixed(ctx, "connect to services MQ", cfg.ConnectAttempts, cfg.ConnectRetryDelay, forwarder.Connect)
	if err != nil {
		_ = consumer.Close()
		_ = st.Close()
		zap.S().Fatalf("Failed to connect forwarder: %s", err)
	}

	InitHealthCheck(cfg.HealthcheckPort, st, consumer)
	server := SetupRestAPI(st, cfg.HTTPPort)

	w := worker.NewWorker(consumer, st, forwarder, worker.Queues{
		Validated:       cfg.CollectedDataQueue,
		ValidationError: cfg.ValidationErrorQueue,
	})
	var workerErr error
	workerStopped := make(chan struct{})

	shutdown := internal.NewGracefulShutdown(func() error {
		cancel()
		<-workerStopped
		return errors.Join(
			ShutdownRestAPI(server, internal.FiveSeconds),
			consumer.Close(),
			forwarder.Close(),
			st.Close(),
		)
	}, internal.ThirtySeconds)

	go func() {
		defer close(workerStopped)
		workerErr = w.Run(ctx)
		if workerErr != nil {
			zap.S().Errorf("Worker stopped: %s", workerErr)
			shutdown.Shutdown()
		}
	}()

	shutdown.Wait()
	_ = zap.S().Sync()
	if workerErr != nil {
		os.Exit(1)
	}
}

func connectStore(ctx context.Context, cfg Config) shared.Store {
	if cfg.DryRun {
		return store.NewMemoryStore()
	}
	st, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		zap.S().Fatalf("Failed to create redis store: %s", err)
	}
	err = internal.RetryFixed(ctx, "connect to redis", cfg.ConnectAttempts, cfg.ConnectRetryDelay, func() error {
		return st.Ping(ctx)
	})
	if err != nil {
		_ = st.Close()
		zap.S().Fatalf("Failed to connect to redis: %s", err)
	}
	return st
}

func consumerTag() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "data-collector"
	}
	return "data-collector-" + hostname
}

func InitLogging() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	_ = logger.New(logLevel)
}

func InitPrometheus(port int) {
	// Prometheus
	metricsPath := "/metrics"
	metricsPort := fmt.Sprintf(":%d", port)
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, metricsPort)

	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()
}

func InitHealthCheck(port int, st shared.Store, consumer *amqp.Consumer) {
	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))

	storeCheck := func() error {
		return st.Ping(context.Background())
	}
	health.AddReadinessCheck("store", storeCheck)
	health.AddReadinessCheck("amqp", amqp.GetReadinessCheck(consumer))
	health.AddLivenessCheck("amqp", amqp.GetLivenessCheck(consumer))
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
}
