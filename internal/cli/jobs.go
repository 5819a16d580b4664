package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newJobsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control scheduled jobs",
		Long: `Inspect and control scheduled jobs.

Flag and schedule changes are persisted immediately; a running daemon picks
them up on restart. Use the HTTP API for live changes.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs with their last run and statistics",
		Args:  cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			sched, err := s.Scheduler(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := sched.ListJobs(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSCHEDULE\tENABLED\tLAST RUN\tSTATUS\tRUNS\tOK\tFAILED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%d\t%d\t%d\n",
					j.Name, j.Schedule, j.IsEnabled,
					formatTime(j.LastRunAt), orDash(string(j.LastRunStatus)),
					j.RunCount, j.SuccessCount, j.ErrorCount)
			}
			return tw.Flush()
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run a job now, even when it is disabled",
		Args:  cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			sched, err := s.Scheduler(cmd.Context())
			if err != nil {
				return err
			}
			res, err := sched.RunNow(cmd.Context(), args[0])
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			return err
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a job",
		Args:  cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			sched, err := s.Scheduler(cmd.Context())
			if err != nil {
				return err
			}
			if err := sched.Start(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s enabled\n", args[0])
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a job",
		Args:  cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			sched, err := s.Scheduler(cmd.Context())
			if err != nil {
				return err
			}
			if err := sched.Stop(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s disabled\n", args[0])
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "reschedule <name> <cron-expression>",
		Short:   "Change a job's five-field cron schedule",
		Example: `  bankctl jobs reschedule bankSyncJob "0 */2 * * *"`,
		Args:    cobra.ExactArgs(2),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			sched, err := s.Scheduler(cmd.Context())
			if err != nil {
				return err
			}
			if err := sched.UpdateSchedule(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s scheduled at %q\n", args[0], args[1])
			return nil
		}),
	})

	logs := &cobra.Command{
		Use:   "logs <name>",
		Short: "Show recent executions of a job",
		Args:  cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			clearLogs, _ := cmd.Flags().GetBool("clear")

			sched, err := s.Scheduler(cmd.Context())
			if err != nil {
				return err
			}
			if clearLogs {
				n, err := sched.ClearLogs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d log(s)\n", n)
				return nil
			}

			entries, err := sched.Logs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tDURATION\tERROR")
			for _, l := range entries {
				started := l.StartedAt
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					l.ID, formatTime(&started), l.Status, l.Duration, orDash(l.ErrorMessage))
			}
			return tw.Flush()
		}),
	}
	logs.Flags().Int("limit", 20, "Number of executions to show")
	logs.Flags().Bool("clear", false, "Delete the job's finished logs instead of listing them")
	cmd.AddCommand(logs)

	clearStuck := &cobra.Command{
		Use:   "clear-stuck",
		Short: "Fail executions left RUNNING longer than --older-than",
		Long: `Fail executions left RUNNING longer than --older-than.

bankctl cannot see executions in progress inside a running banksync daemon,
so a daemon run older than --older-than is closed as FAILED too. Keep the age
above the longest expected bank sync, or stop the daemon first. The daemon
clears its own orphaned executions at startup and every five minutes.`,
		Args: cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			age, _ := cmd.Flags().GetDuration("older-than")
			sched, err := s.Scheduler(cmd.Context())
			if err != nil {
				return err
			}
			n, err := sched.ClearStuckJobsOlderThan(cmd.Context(), age)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d stuck execution(s)\n", n)
			return nil
		}),
	}
	clearStuck.Flags().Duration("older-than", time.Hour, "Minimum age of a RUNNING execution to clear")
	cmd.AddCommand(clearStuck)

	return cmd
}
