package main

import (
	"context"
	"os"
	"time"

	"banksync/internal/cli"
	"banksync/internal/log"
	"banksync/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting banksync-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	a := cli.InitApp(startupCtx, logger, cfg)

	// The worker has no fallback role: without a broker there is nothing to consume.
	client, err := a.ConnectBroker(startupCtx)
	if err != nil {
		logger.Error("Failed to connect to broker", log.FieldError, err)
		a.Close()
		os.Exit(1)
	}

	qw := worker.NewQueueWorker(a.Syncer, client, worker.QueueWorkerConfig{
		Concurrency:   cfg.QueueConcurrency,
		RatePerSecond: cfg.QueueRatePerSecond,
		MaxRetries:    cfg.QueueMaxRetries,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		logger.Info("Shutting down worker...")
	})

	errCh := make(chan error, 1)
	go func() { errCh <- qw.Run(ctx, client) }()

	select {
	case err := <-errCh:
		// Consumer stopped on its own; the broker is gone.
		if err != nil {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
		a.Close()
		os.Exit(1)
	case <-ctx.Done():
	}

	// Run returns once in-flight deliveries are settled.
	select {
	case <-errCh:
	case <-time.After(30 * time.Second):
		logger.Warn("Worker shutdown timeout reached")
	}
	<-done

	if err := a.Close(); err != nil {
		logger.Error("Failed to release resources", log.FieldError, err)
	}
	logger.Info("Worker shutdown complete")
}
