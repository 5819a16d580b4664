package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"banksync/internal/cli"
	apphttp "banksync/internal/http"
	"banksync/internal/log"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	a := cli.InitApp(startupCtx, logger, cfg)
	dispatcher := a.SelectDispatcher(startupCtx)

	sched, err := a.NewScheduler(startupCtx)
	if err != nil {
		logger.Error("Failed to initialize scheduler", log.FieldError, err)
		a.Close()
		os.Exit(1)
	}

	// Executions left RUNNING by a previous process can never finish.
	if n, err := sched.ClearStuckJobs(startupCtx); err != nil {
		logger.Warn("Startup stuck-job sweep failed", log.FieldError, err)
	} else if n > 0 {
		logger.Info("Cleared stuck jobs from previous run", "count", n)
	}

	opts := []apphttp.Option{
		apphttp.WithDispatcher(dispatcher),
		apphttp.WithReadinessCheck("store", a.Ping),
	}
	if a.Broker != nil {
		opts = append(opts, apphttp.WithReadinessCheck("broker", a.Broker.Ping))
	}
	srv := apphttp.NewServer(":"+cfg.Port, sched, logger, opts...)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 5 * time.Minute // manual job runs are synchronous
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := sched.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Scheduler shutdown incomplete", log.FieldError, err)
		}
		if err := a.Close(); err != nil {
			logger.Error("Failed to release resources", log.FieldError, err)
		}
	})

	sched.Run()

	go func() {
		logger.Info("Starting banksync server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"dispatch_mode", dispatcher.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
