package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"optibatch/internal/bulk"
	"optibatch/internal/daemonctl"
	"optibatch/internal/job"
	"optibatch/internal/preflight"
)

type localStatus struct {
	Job       *job.Status        `json:"job,omitempty"`
	Preflight []preflight.Result `json:"preflight"`
	Note      string             `json:"note,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job state, saved progress, and readiness checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if client, err := ctx.daemonClient(); err == nil {
				status, err := client.Status(cmd.Context())
				if err == nil {
					if ctx.jsonOutput() {
						return writeJSON(cmd, status)
					}
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Daemon: running (pid %d, %d viewers)\n", status.PID, status.Viewers)
					printJobStatus(cmd, status.Job)
					for _, wf := range []bulk.Workflow{bulk.WorkflowRestore, bulk.WorkflowSync} {
						if p, ok := status.Bulk[wf]; ok && p.State != bulk.StateIdle {
							fmt.Fprintf(out, "%s: %s %d/%d (%d ok, %d failed)\n", wf.Title(), p.State, p.CurrentIndex, p.TotalItems, p.Succeeded, p.Failed)
						}
					}
					return nil
				}
				if !daemonctl.IsUnavailable(err) {
					return err
				}
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result := localStatus{Preflight: preflight.RunAll(cmd.Context(), cfg)}
			if rt, err := ctx.openLocal(nil); err != nil {
				result.Note = err.Error()
			} else {
				if res, loadErr := rt.ctrl.Load(cmd.Context()); loadErr != nil {
					result.Note = loadErr.Error()
				} else if res.Invalidated {
					result.Note = "saved checkpoint was unusable: " + res.Reason
				}
				st := rt.ctrl.Status()
				result.Job = &st
				rt.Close()
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Daemon: not running")
			if result.Job != nil {
				printJobStatus(cmd, *result.Job)
			}
			if result.Note != "" {
				fmt.Fprintf(out, "Note: %s\n", result.Note)
			}
			rows := make([][]string, 0, len(result.Preflight))
			for _, check := range result.Preflight {
				state := "ok"
				if !check.Passed {
					state = "FAIL"
				}
				rows = append(rows, []string{check.Name, state, check.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "State", "Detail"}, rows, nil))
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the content server's lifetime optimization totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.newRemote(cfg)
			if err != nil {
				return fmt.Errorf("create remote client: %w", err)
			}
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch stats: %w", err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, stats)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Value"},
				[][]string{
					{"Optimized", count(stats.OptimizedCount)},
					{"Skipped", count(stats.SkippedCount)},
					{"Failed", count(stats.FailedCount)},
					{"Saved", bytesLabel(stats.TotalSavedBytes)},
				},
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newDiscardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Abandon the saved run, removing its checkpoint and ledger entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := ctx.openLocal(nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.ctrl.Load(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.ctrl.Discard(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case res.Restored:
				fmt.Fprintln(out, "Discarded saved run")
			case res.Invalidated:
				fmt.Fprintln(out, "Cleared unusable checkpoint")
			default:
				fmt.Fprintln(out, "No saved run")
			}
			return nil
		},
	}
}
