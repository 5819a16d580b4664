package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"banksync/internal/amqp"
	"banksync/internal/cache"
	"banksync/internal/core"
	"banksync/internal/log"
	"banksync/internal/services"
)

// QueueWorkerConfig holds configuration for the queue consumer
type QueueWorkerConfig struct {
	// Concurrency caps account syncs running at once (default: 5)
	Concurrency int

	// RatePerSecond limits sync starts per second across the worker (default: 2)
	RatePerSecond float64

	// MaxRetries is the number of republishes after the first attempt (default: 3)
	MaxRetries int

	// Prefetch bounds unacknowledged deliveries held by this worker (default: 2 x Concurrency)
	Prefetch int

	// CompletedTTL is how long a finished message id is remembered so a
	// redelivery is acked without calling the bank again (default: 15m)
	CompletedTTL time.Duration
}

func DefaultQueueWorkerConfig() QueueWorkerConfig {
	return QueueWorkerConfig{
		Concurrency:   5,
		RatePerSecond: 2,
		MaxRetries:    3,
		Prefetch:      10,
		CompletedTTL:  15 * time.Minute,
	}
}

const completedCapacity = 10000

// Consumer is the consuming side of the broker.
type Consumer interface {
	ConsumeAccountSync(ctx context.Context, prefetch int, handler amqp.Handler) error
}

// QueueWorker handles account sync messages: bounded concurrency, a
// requests-per-second limit, and republishing failed attempts until
// MaxRetries is spent. Delivery is at-least-once; the store's idempotent
// ingestion absorbs duplicates.
type QueueWorker struct {
	syncer    services.AccountSyncer
	publisher QueuePublisher
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	completed *cache.LRU[struct{}]
	config    QueueWorkerConfig
	logger    *log.Logger
}

func NewQueueWorker(syncer services.AccountSyncer, publisher QueuePublisher, config QueueWorkerConfig, logger *log.Logger) *QueueWorker {
	defaults := DefaultQueueWorkerConfig()
	if config.Concurrency < 1 {
		config.Concurrency = defaults.Concurrency
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = defaults.RatePerSecond
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Prefetch < 1 {
		config.Prefetch = 2 * config.Concurrency
	}
	if config.CompletedTTL <= 0 {
		config.CompletedTTL = defaults.CompletedTTL
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	burst := max(1, int(config.RatePerSecond))
	return &QueueWorker{
		syncer:    syncer,
		publisher: publisher,
		sem:       semaphore.NewWeighted(int64(config.Concurrency)),
		limiter:   rate.NewLimiter(rate.Limit(config.RatePerSecond), burst),
		completed: cache.NewLRU[struct{}](completedCapacity, config.CompletedTTL),
		config:    config,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// Run consumes until ctx ends or the consumer fails.
func (w *QueueWorker) Run(ctx context.Context, consumer Consumer) error {
	w.logger.InfoContext(ctx, "Queue worker started",
		"concurrency", w.config.Concurrency,
		"rate_per_second", w.config.RatePerSecond,
		"max_retries", w.config.MaxRetries)
	err := consumer.ConsumeAccountSync(ctx, w.config.Prefetch, w.Handle)
	if errors.Is(err, context.Canceled) {
		w.logger.InfoContext(ctx, "Queue worker stopped")
		return nil
	}
	return err
}

// Handle processes one message. A nil return acks it; wrapping
// amqp.ErrDropMessage discards it; any other error requeues it.
func (w *QueueWorker) Handle(ctx context.Context, msg *amqp.AccountSyncMessage) error {
	if w.completed.Contains(msg.MessageID) {
		w.logger.DebugContext(ctx, "Duplicate delivery of completed sync, acking",
			log.FieldMessageID, msg.MessageID,
			log.FieldAccountID, msg.AccountID)
		return nil
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer w.sem.Release(1)

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	logger := w.logger.With(
		log.FieldMessageID, msg.MessageID,
		log.FieldAccountID, msg.AccountID,
		log.FieldAttempt, msg.Attempt)

	res, err := w.syncer.SyncAccount(ctx, msg.AccountID, services.SyncOptions{Start: msg.Start, End: msg.End})
	if err == nil {
		w.completed.Set(msg.MessageID, struct{}{})
		logger.InfoContext(ctx, "Queued sync completed",
			log.FieldBankCode, res.BankCode,
			log.FieldNewTx, res.NewTransactions)
		return nil
	}

	// Retrying cannot fix a missing or switched-off account.
	if errors.Is(err, core.ErrAccountNotFound) || errors.Is(err, core.ErrAccountInactive) {
		logger.WarnContext(ctx, "Dropping sync for unusable account", log.FieldError, err)
		return fmt.Errorf("%w: %w", amqp.ErrDropMessage, err)
	}

	if msg.Attempt > w.config.MaxRetries {
		logger.ErrorContext(ctx, "Sync retries exhausted, dropping message",
			log.FieldErrorKind, core.ErrorKind(err),
			log.FieldError, err)
		return fmt.Errorf("%w: %w", amqp.ErrDropMessage, err)
	}

	next := msg.Retry()
	if pubErr := w.publisher.PublishAccountSync(ctx, next); pubErr != nil {
		// Requeue the original so the attempt is not lost.
		logger.ErrorContext(ctx, "Failed to republish sync, requeueing", log.FieldError, pubErr)
		return errors.Join(err, pubErr)
	}
	logger.WarnContext(ctx, "Sync failed, republished",
		log.FieldErrorKind, core.ErrorKind(err),
		"next_attempt", next.Attempt,
		log.FieldError, err)
	return nil
}
