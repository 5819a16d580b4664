package worker

import (
	"context"
	"fmt"

	"banksync/internal/amqp"
	"banksync/internal/core"
	"banksync/internal/log"
	"banksync/internal/services"
)

const (
	ModeDirect = "direct"
	ModeQueue  = "queue"
)

// DispatchResult describes what happened to one account sync request. Queued
// requests carry a message id; direct ones carry the sync result.
type DispatchResult struct {
	Mode      string                `json:"mode"`
	AccountID int64                 `json:"account_id"`
	Queued    bool                  `json:"queued"`
	MessageID string                `json:"message_id,omitempty"`
	Result    *services.SyncResult `json:"result,omitempty"`
}

// Dispatcher hands an account sync to whichever path is available.
type Dispatcher interface {
	Dispatch(ctx context.Context, accountID int64, opts services.SyncOptions) (DispatchResult, error)
	Mode() string
}

// QueuePublisher is the publishing side of the broker.
type QueuePublisher interface {
	PublishAccountSync(ctx context.Context, msg *amqp.AccountSyncMessage) error
}

// DirectDispatcher runs the sync in-process.
type DirectDispatcher struct {
	syncer services.AccountSyncer
}

func NewDirectDispatcher(syncer services.AccountSyncer) *DirectDispatcher {
	return &DirectDispatcher{syncer: syncer}
}

func (d *DirectDispatcher) Mode() string { return ModeDirect }

func (d *DirectDispatcher) Dispatch(ctx context.Context, accountID int64, opts services.SyncOptions) (DispatchResult, error) {
	res, err := d.syncer.SyncAccount(ctx, accountID, opts)
	out := DispatchResult{Mode: ModeDirect, AccountID: accountID}
	if err != nil {
		return out, err
	}
	out.Result = &res
	return out, nil
}

// QueueDispatcher publishes a durable message and returns immediately.
type QueueDispatcher struct {
	publisher QueuePublisher
}

func NewQueueDispatcher(publisher QueuePublisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher}
}

func (d *QueueDispatcher) Mode() string { return ModeQueue }

func (d *QueueDispatcher) Dispatch(ctx context.Context, accountID int64, opts services.SyncOptions) (DispatchResult, error) {
	// Reject a reversed range before it reaches the queue; open-ended ranges
	// are resolved by the worker.
	if !opts.Start.IsZero() && !opts.End.IsZero() {
		if err := (core.DateRange{Start: opts.Start, End: opts.End}).Validate(); err != nil {
			return DispatchResult{}, &core.SyncError{AccountID: accountID, Err: err}
		}
	}
	msg := amqp.NewAccountSyncMessage(accountID, opts.Start, opts.End)
	if err := d.publisher.PublishAccountSync(ctx, msg); err != nil {
		return DispatchResult{Mode: ModeQueue, AccountID: accountID}, fmt.Errorf("enqueue account %d: %w", accountID, err)
	}
	return DispatchResult{Mode: ModeQueue, AccountID: accountID, Queued: true, MessageID: msg.MessageID}, nil
}

// Connector opens the broker. A nil Connector means no broker is configured.
type Connector func(ctx context.Context) (QueuePublisher, error)

// SelectDispatcher probes the broker once. When it answers, syncs go through
// the queue; otherwise they run in-process and a warning is logged.
func SelectDispatcher(ctx context.Context, connect Connector, direct *DirectDispatcher, logger *log.Logger) Dispatcher {
	logger = logger.WithComponent(log.ComponentWorker)
	if connect == nil {
		logger.InfoContext(ctx, "No broker configured, dispatching syncs in-process", "mode", ModeDirect)
		return direct
	}

	publisher, err := connect(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Broker unreachable, falling back to in-process syncs",
			"mode", ModeDirect,
			log.FieldError, err)
		return direct
	}

	logger.InfoContext(ctx, "Dispatching syncs through the queue", "mode", ModeQueue)
	return NewQueueDispatcher(publisher)
}
