package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"optibatch/internal/job"
	"optibatch/internal/media"
	"optibatch/internal/preflight"
	"optibatch/internal/tui"
)

const shutdownTimeout = 30 * time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	var fresh bool
	var noTUI bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize every pending image, resuming a saved run when present",
		Long: `Run fetches the pending catalog and optimizes each item in order. A saved
checkpoint is resumed instead of starting over unless --fresh is given.

Interactive terminals get a progress view (p pause/resume, s stop, q quit).
Otherwise progress is printed line by line; the first interrupt pauses at
the next item boundary and the second exits immediately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			useTUI := !noTUI && !ctx.jsonOutput() && interactive(cmd.OutOrStdout())
			var logOut io.Writer = cmd.ErrOrStderr()
			if useTUI {
				logOut = nil
			}

			rt, err := ctx.openLocal(logOut)
			if err != nil {
				return err
			}
			defer rt.Close()

			if failed := preflight.Failed(preflight.RunAll(cmd.Context(), rt.cfg)); len(failed) > 0 && !ctx.jsonOutput() {
				for _, result := range failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "preflight: %s: %s\n", result.Name, result.Detail)
				}
			}

			events, unsubscribe := rt.ctrl.Subscribe(eventBuffer(rt.cfg.Workflow.EventBuffer))
			defer unsubscribe()
			rt.ctrl.SetForeground(true)

			if err := beginRun(cmd, rt.ctrl, fresh, !ctx.jsonOutput()); err != nil {
				return err
			}

			if useTUI {
				err = followTUI(rt.ctrl, events)
			} else {
				err = followPlain(cmd, rt.ctrl, events, !ctx.jsonOutput())
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if shutdownErr := rt.ctrl.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
				err = fmt.Errorf("wait for worker: %w", shutdownErr)
			}
			if err != nil {
				return err
			}
			return reportRun(cmd, ctx, rt.ctrl.Status())
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "Discard any saved run and start over")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Print progress lines instead of the interactive view")
	return cmd
}

func eventBuffer(n int) int {
	if n <= 0 {
		return 64
	}
	return n
}

// beginRun restores, resumes, or starts the controller's run.
func beginRun(cmd *cobra.Command, ctrl *job.Controller, fresh, verbose bool) error {
	ctx := cmd.Context()
	out := cmd.ErrOrStderr()

	res, err := ctrl.Load(ctx)
	if err != nil {
		return err
	}
	if res.Invalidated && verbose {
		fmt.Fprintf(out, "Saved checkpoint was unusable (%s); starting a new run\n", res.Reason)
	}
	if res.Restored {
		if fresh {
			if err := ctrl.Discard(ctx); err != nil {
				return fmt.Errorf("discard saved run: %w", err)
			}
			if verbose {
				fmt.Fprintln(out, "Discarded saved run")
			}
		} else {
			status := ctrl.Status()
			if verbose {
				fmt.Fprintf(out, "Resuming saved run at item %d of %d\n", status.Progress.CurrentIndex+1, status.Progress.TotalItems)
				if res.SettingsChanged {
					fmt.Fprintln(out, "Settings changed since this run started; the run keeps its original settings")
				}
			}
			if err := ctrl.Resume(ctx); err != nil {
				if errors.Is(err, job.ErrQuotaExhausted) {
					return fmt.Errorf("quota still exhausted; the run stays saved until more operations are available: %w", err)
				}
				return fmt.Errorf("resume: %w", err)
			}
			return nil
		}
	}
	return ctrl.Start(ctx)
}

func followTUI(ctrl *job.Controller, events <-chan job.Event) error {
	model := tui.NewModel(events, ctrl, ctrl.Status())
	_, err := tea.NewProgram(model).Run()
	return err
}

// followPlain prints item lines until the run leaves the running state.
func followPlain(cmd *cobra.Command, ctrl *job.Controller, events <-chan job.Event, verbose bool) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	workerDone := make(chan struct{})
	go func() {
		_ = ctrl.Wait(context.Background())
		close(workerDone)
	}()

	interrupted := false
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-sigs:
			if interrupted {
				return nil
			}
			interrupted = true
			fmt.Fprintln(errOut, "Pausing at the next item boundary; interrupt again to exit now")
			if err := ctrl.Pause(); err != nil && !errors.Is(err, job.ErrInvalidTransition) {
				return err
			}
		case <-workerDone:
			for {
				select {
				case evt, ok := <-events:
					if !ok {
						return nil
					}
					printEvent(out, evt, verbose)
				default:
					return nil
				}
			}
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(out, evt, verbose)
		}
	}
}

func printEvent(out io.Writer, evt job.Event, verbose bool) {
	if verbose && evt.Type == job.EventItemProcessed && evt.Record != nil {
		fmt.Fprintln(out, itemLine(evt.Progress, *evt.Record))
	}
}

func itemLine(p job.Progress, rec media.ResultRecord) string {
	name := rec.Title
	if name == "" {
		name = rec.Filename
	}
	prefix := fmt.Sprintf("[%d/%d]", p.CurrentIndex, p.TotalItems)
	switch rec.Status {
	case media.StatusSuccess:
		return fmt.Sprintf("%s optimized %s, saved %s", prefix, truncate(name, 60), savingsLabel(rec.SavedBytes, rec.SavingsPercent))
	case media.StatusSkipped:
		return fmt.Sprintf("%s skipped %s", prefix, truncate(name, 60))
	default:
		return fmt.Sprintf("%s failed %s: %s", prefix, truncate(name, 60), rec.ErrorMessage)
	}
}

func reportRun(cmd *cobra.Command, ctx *commandContext, status job.Status) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, status)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, tui.RenderSummary(tui.RunSummary(status.State, status.Progress)))
	switch status.State {
	case job.StatePaused:
		fmt.Fprintln(out, "Run paused. `optibatch run` resumes it; `optibatch discard` abandons it.")
	case job.StateQuotaBlocked:
		fmt.Fprintln(out, "Quota reached. The run is saved and resumes with `optibatch run` once more operations are available.")
		if status.UpgradeURL != "" {
			fmt.Fprintf(out, "Upgrade: %s\n", status.UpgradeURL)
		}
	}
	return nil
}
