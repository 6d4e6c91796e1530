package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"optibatch/internal/daemon"
	"optibatch/internal/daemonctl"
	"optibatch/internal/job"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Control the optimization job of a running daemon",
	}

	actions := []struct {
		name  string
		short string
	}{
		{"start", "Fetch the pending catalog and start a new run"},
		{"pause", "Pause at the next item boundary"},
		{"resume", "Resume a paused or quota-blocked run"},
		{"stop", "Finish the run at the next item boundary"},
		{"discard", "Abandon a paused run and its checkpoint"},
	}
	for _, action := range actions {
		jobCmd.AddCommand(&cobra.Command{
			Use:   action.name,
			Short: action.short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := ctx.daemonClient()
				if err != nil {
					return err
				}
				status, err := client.JobAction(cmd.Context(), action.name)
				if err != nil {
					return describeDaemonError(err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				printJobStatus(cmd, status)
				return nil
			},
		})
	}
	jobCmd.AddCommand(newWatchCommand(ctx))
	return jobCmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the daemon's event feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			err = client.Events(cmd.Context(), func(msg daemon.FeedMessage) error {
				if ctx.jsonOutput() {
					return writeJSON(cmd, msg)
				}
				out := cmd.OutOrStdout()
				switch msg.Type {
				case daemon.FeedSnapshot:
					if msg.Status != nil {
						printJobStatus(cmd, msg.Status.Job)
					}
				case daemon.FeedJob:
					evt := msg.Job
					if evt.Type == job.EventItemProcessed && evt.Record != nil {
						fmt.Fprintln(out, itemLine(evt.Progress, *evt.Record))
					} else if evt.Type == job.EventStateChanged {
						fmt.Fprintf(out, "job %s -> %s\n", evt.Previous, evt.State)
					}
				case daemon.FeedBulk:
					p := msg.Bulk
					fmt.Fprintf(out, "%s %s: %d/%d (%d ok, %d failed)\n", p.Workflow.Title(), p.State, p.CurrentIndex, p.TotalItems, p.Succeeded, p.Failed)
				}
				return nil
			})
			return describeDaemonError(err)
		},
	}
}

func printJobStatus(cmd *cobra.Command, status job.Status) {
	out := cmd.OutOrStdout()
	p := status.Progress
	fmt.Fprintf(out, "Job %s: %s (worker active: %s)\n", status.Job, status.State, yesNo(status.WorkerActive))
	if p.TotalItems > 0 {
		fmt.Fprintf(out, "Progress: %s/%s (%.0f%%), %d ok, %d skipped, %d failed, saved %s\n",
			count(p.CurrentIndex), count(p.TotalItems), p.Percent(),
			p.SuccessCount, p.SkippedCount, p.ErrorCount, bytesLabel(p.TotalSavedBytes))
	}
	if status.Current != "" {
		fmt.Fprintf(out, "Current: %s\n", status.Current)
	}
	if status.Quota != nil && !status.Quota.Pro {
		fmt.Fprintf(out, "Quota: %d of %d remaining\n", status.Quota.Remaining, status.Quota.Limit)
	}
	if status.UpgradeURL != "" {
		fmt.Fprintf(out, "Upgrade: %s\n", status.UpgradeURL)
	}
	if status.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", status.LastError)
	}
}

func describeDaemonError(err error) error {
	if err == nil {
		return nil
	}
	if daemonctl.IsUnavailable(err) {
		return fmt.Errorf("connect to daemon: %w; start it with `optibatch serve`", err)
	}
	return err
}
