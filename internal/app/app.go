// Package app assembles the sync subsystem from configuration. Every binary
// builds one App and picks the pieces it needs.
package app

import (
	"context"
	"errors"
	"fmt"

	"banksync/internal/amqp"
	"banksync/internal/backend"
	"banksync/internal/banks"
	"banksync/internal/banks/all"
	"banksync/internal/config"
	"banksync/internal/log"
	"banksync/internal/scheduler"
	"banksync/internal/services"
	"banksync/internal/storage"
	"banksync/internal/vault"
	"banksync/internal/worker"
)

type App struct {
	Config   *config.Config
	Logger   *log.Logger
	Store    storage.Store
	Vault    *vault.Vault
	Registry *banks.Registry

	Syncer     *services.AccountSynchronizer
	Runner     *services.BatchRunner
	Direct     *worker.DirectDispatcher
	Dispatcher worker.Dispatcher
	Scheduler  *scheduler.Scheduler

	// Broker is nil until ConnectBroker succeeds.
	Broker *amqp.Client

	cleanup backend.CleanupFunc
}

// New opens the configured store and builds the sync pipeline. The
// dispatcher starts in direct mode; ConnectBroker or SelectDispatcher switch it.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	v, err := vault.New(cfg.MasterKey, cfg.MasterKeySalt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential vault: %w", err)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	registry := all.FromConfig(cfg)
	syncer := services.NewAccountSynchronizer(result.Store, v, registry, services.SynchronizerConfig{
		WindowDays:  cfg.SyncWindowDays,
		MaxAttempts: cfg.SyncMaxAttempts,
	}, logger)
	runner := services.NewBatchRunner(result.Store, syncer, services.BatchRunnerConfig{
		BatchSize:      cfg.SyncBatchSize,
		MaxConcurrent:  cfg.SyncMaxConcurrent,
		Pacing:         cfg.SyncPacing,
		AccountTimeout: cfg.SyncAccountTimeout,
	}, logger)
	direct := worker.NewDirectDispatcher(syncer)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      result.Store,
		Vault:      v,
		Registry:   registry,
		Syncer:     syncer,
		Runner:     runner,
		Direct:     direct,
		Dispatcher: direct,
		cleanup:    result.Cleanup,
	}, nil
}

// ConnectBroker dials the configured broker and keeps the client for Close.
func (a *App) ConnectBroker(ctx context.Context) (*amqp.Client, error) {
	if a.Broker != nil {
		return a.Broker, nil
	}
	if a.Config.AMQPURL == "" {
		return nil, errors.New("AMQP_URL is not set")
	}
	client, err := amqp.NewClient(ctx, a.Config.AMQPURL, a.Config.AMQPExchange, a.Config.AMQPQueue,
		amqp.WithEventsRoutingKey(a.Config.AMQPEventsRoutingKey),
		amqp.WithLogger(a.Logger))
	if err != nil {
		return nil, err
	}
	a.Broker = client
	return client, nil
}

// SelectDispatcher probes the broker once and installs the resulting
// dispatch strategy. Without AMQP_URL the app stays in direct mode.
func (a *App) SelectDispatcher(ctx context.Context) worker.Dispatcher {
	var connect worker.Connector
	if a.Config.AMQPURL != "" {
		connect = func(ctx context.Context) (worker.QueuePublisher, error) {
			return a.ConnectBroker(ctx)
		}
	}
	a.Dispatcher = worker.SelectDispatcher(ctx, connect, a.Direct, a.Logger)
	return a.Dispatcher
}

// Ping reports whether the store answers; used by readiness probes.
func (a *App) Ping(ctx context.Context) error {
	p, ok := a.Store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// Close releases the broker and the store. The scheduler must be shut down first.
func (a *App) Close() error {
	var errs []error
	if a.Broker != nil {
		errs = append(errs, a.Broker.Close())
	}
	if a.cleanup != nil {
		errs = append(errs, a.cleanup())
	}
	return errors.Join(errs...)
}
