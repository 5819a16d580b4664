package worker

import (
	"context"
	"fmt"

	"banksync/internal/log"
	"banksync/internal/services"
)

// EnqueueSummary counts the outcome of a fan-out over all active accounts.
type EnqueueSummary struct {
	Mode       string  `json:"mode"`
	Total      int     `json:"total"`
	Dispatched int     `json:"dispatched"`
	Failed     int     `json:"failed"`
	FailedIDs  []int64 `json:"failed_ids,omitempty"`
}

// EnqueueAll dispatches one sync per active account using the trailing
// default window. It fails only when the account list cannot be loaded.
func EnqueueAll(ctx context.Context, lister services.AccountLister, d Dispatcher, logger *log.Logger) (EnqueueSummary, error) {
	logger = logger.WithComponent(log.ComponentWorker)
	summary := EnqueueSummary{Mode: d.Mode()}

	accounts, err := lister.ListActiveAccounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("load active accounts: %w", err)
	}
	summary.Total = len(accounts)

	for _, a := range accounts {
		if ctx.Err() != nil {
			summary.Failed++
			summary.FailedIDs = append(summary.FailedIDs, a.ID)
			continue
		}
		if _, err := d.Dispatch(ctx, a.ID, services.SyncOptions{}); err != nil {
			summary.Failed++
			summary.FailedIDs = append(summary.FailedIDs, a.ID)
			logger.WarnContext(ctx, "Failed to dispatch account sync",
				log.FieldAccountID, a.ID,
				log.FieldBankCode, a.BankCode,
				log.FieldError, err)
			continue
		}
		summary.Dispatched++
	}

	logger.InfoContext(ctx, "Account syncs dispatched",
		"mode", summary.Mode,
		"total", summary.Total,
		"dispatched", summary.Dispatched,
		"failed", summary.Failed)
	return summary, nil
}
