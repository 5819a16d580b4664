package app

import (
	"context"
	"fmt"

	"banksync/internal/config"
	"banksync/internal/log"
	"banksync/internal/scheduler"
	"banksync/internal/worker"
)

const (
	JobBankSync     = "bankSyncJob"
	JobStuckSweeper = "stuckJobSweeper"
	JobLogRetention = "jobLogRetention"
)

// NewScheduler builds the scheduler, seeds job rows from JOBS_SEED_FILE and
// registers the built-in bodies. Timers are not started; call Run for that.
func (a *App) NewScheduler(ctx context.Context, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	var publisher scheduler.EventPublisher = scheduler.NewLogPublisher(a.Logger.WithComponent(log.ComponentScheduler))
	if a.Broker != nil {
		publisher = scheduler.MultiPublisher{publisher, a.Broker}
	}

	base := []scheduler.Option{
		scheduler.WithLogger(a.Logger),
		scheduler.WithPublisher(publisher),
		scheduler.WithStuckThreshold(a.Config.StuckJobThreshold),
	}
	sched := scheduler.New(a.Store, append(base, opts...)...)
	a.Scheduler = sched

	if err := a.seedJobs(ctx); err != nil {
		return nil, err
	}
	for _, j := range a.builtinJobs() {
		if err := sched.Register(ctx, j.def, j.body); err != nil {
			return nil, fmt.Errorf("register %s: %w", j.def.Name, err)
		}
	}
	return sched, nil
}

// seedJobs inserts rows declared in the seed file. Rows that already exist
// keep their persisted schedule and flag.
func (a *App) seedJobs(ctx context.Context) error {
	seeds, err := config.LoadJobSeeds(a.Config.JobsSeedFile)
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		job, err := seed.ToCronJob()
		if err != nil {
			return err
		}
		if _, err := a.Store.EnsureJob(ctx, job); err != nil {
			return fmt.Errorf("seed job %s: %w", seed.Name, err)
		}
	}
	if len(seeds) > 0 {
		a.Logger.InfoContext(ctx, "Job seeds applied", "count", len(seeds), "file", a.Config.JobsSeedFile)
	}
	return nil
}

type builtinJob struct {
	def  scheduler.JobDefinition
	body scheduler.JobFunc
}

func (a *App) builtinJobs() []builtinJob {
	return []builtinJob{
		{
			def: scheduler.JobDefinition{
				Name:            JobBankSync,
				DefaultSchedule: a.Config.BankSyncSchedule,
				Description:     "Synchronize transactions for every active bank account",
				DefaultEnabled:  true,
			},
			body: a.bankSync,
		},
		{
			def: scheduler.JobDefinition{
				Name:            JobStuckSweeper,
				DefaultSchedule: "*/5 * * * *",
				Description:     "Fail executions left RUNNING by a crashed process",
				DefaultEnabled:  true,
			},
			body: a.sweepStuckJobs,
		},
		{
			def: scheduler.JobDefinition{
				Name:            JobLogRetention,
				DefaultSchedule: "0 3 * * *",
				Description:     "Delete finished job logs past the retention period",
				DefaultEnabled:  true,
			},
			body: a.pruneJobLogs,
		},
	}
}

// bankSync runs the batch orchestrator in-process, or fans one message per
// account out to the queue when SYNC_VIA_QUEUE is set and a broker answered.
func (a *App) bankSync(ctx context.Context) (any, error) {
	if a.Config.SyncViaQueue && a.Dispatcher.Mode() == worker.ModeQueue {
		return worker.EnqueueAll(ctx, a.Store, a.Dispatcher, a.Logger)
	}
	return a.Runner.RunAll(ctx)
}

func (a *App) sweepStuckJobs(ctx context.Context) (any, error) {
	n, err := a.Scheduler.ClearStuckJobs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{"cleared": n}, nil
}

func (a *App) pruneJobLogs(ctx context.Context) (any, error) {
	n, err := a.Scheduler.PruneLogs(ctx, a.Config.LogRetention)
	if err != nil {
		return nil, err
	}
	a.Logger.InfoContext(ctx, "Old job logs pruned",
		log.FieldOperation, log.OpRetention,
		"deleted", n,
		"retention", a.Config.LogRetention.String())
	return map[string]int64{"deleted": n}, nil
}
