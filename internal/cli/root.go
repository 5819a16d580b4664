package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"banksync/internal/app"
	"banksync/internal/scheduler"
)

// Opener builds the App a command runs against.
type Opener func(ctx context.Context) (*app.App, error)

// session opens the App at most once per invocation and closes it after the
// command finishes.
type session struct {
	open  Opener
	app   *app.App
	sched *scheduler.Scheduler
}

func (s *session) App(ctx context.Context) (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	a, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

// Scheduler registers the built-in jobs without starting timers; commands
// only drive single operations.
func (s *session) Scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	if s.sched != nil {
		return s.sched, nil
	}
	a, err := s.App(ctx)
	if err != nil {
		return nil, err
	}
	sched, err := a.NewScheduler(ctx)
	if err != nil {
		return nil, err
	}
	s.sched = sched
	return sched, nil
}

// run wraps a RunE so the App is released whether or not the command fails.
func (s *session) run(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if cerr := s.Close(); err == nil {
			err = cerr
		}
		return err
	}
}

func (s *session) Close() error {
	if s.app == nil {
		return nil
	}
	if s.sched != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.sched.Shutdown(ctx)
	}
	err := s.app.Close()
	s.app, s.sched = nil, nil
	return err
}

// NewRootCommand builds the bankctl command tree.
func NewRootCommand(open Opener, version string) *cobra.Command {
	s := &session{open: open}

	root := &cobra.Command{
		Use:   "bankctl",
		Short: "Administer bank account synchronization",
		Long: `bankctl drives the bank sync subsystem directly against its database:
inspect and control scheduled jobs, trigger account syncs and rotate
encrypted bank credentials.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newJobsCommand(s))
	root.AddCommand(newSyncCommand(s))
	root.AddCommand(newCredentialsCommand(s))
	root.AddCommand(newAccountsCommand(s))
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDay(flag, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD", flag)
	}
	return t, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
