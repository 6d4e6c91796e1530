package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"optibatch/internal/bulk"
	"optibatch/internal/notifications"
)

func newRestoreAllCommand(ctx *commandContext) *cobra.Command {
	return newBulkCommand(ctx, bulk.WorkflowRestore, "restore-all", "Restore every optimized item to its original file")
}

func newSyncLibraryCommand(ctx *commandContext) *cobra.Command {
	return newBulkCommand(ctx, bulk.WorkflowSync, "sync-library", "Re-sync library metadata in batches")
}

func newBulkCommand(ctx *commandContext, wf bulk.Workflow, use, short string) *cobra.Command {
	var viaDaemon bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if viaDaemon {
				client, err := ctx.daemonClient()
				if err != nil {
					return err
				}
				progress, err := client.BulkAction(cmd.Context(), wf, "start")
				if err != nil {
					return describeDaemonError(err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, progress)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s started on the daemon: %d items\n", wf.Title(), progress.TotalItems)
				return nil
			}
			return runBulkLocal(cmd, ctx, wf)
		},
	}
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "Start the workflow on a running daemon instead of in this process")
	return cmd
}

func runBulkLocal(cmd *cobra.Command, cc *commandContext, wf bulk.Workflow) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	client, err := cc.newRemote(cfg)
	if err != nil {
		return fmt.Errorf("create remote client: %w", err)
	}
	logger, logs, err := newLocalLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if logs != nil {
		defer logs.Close()
	}

	runner, err := bulk.NewRunner(wf, client, bulk.Options{
		BatchSize:     cfg.Workflow.SyncBatchSize,
		YieldInterval: time.Duration(cfg.Workflow.YieldIntervalMS) * time.Millisecond,
		Notifier:      notifications.NewService(cfg),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	updates, unsubscribe := runner.Subscribe(eventBuffer(cfg.Workflow.EventBuffer))
	defer unsubscribe()
	if err := runner.Start(cmd.Context()); err != nil {
		return fmt.Errorf("start %s: %w", wf, err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	go func() {
		_ = runner.Wait(context.Background())
		close(done)
	}()

	out := cmd.OutOrStdout()
	verbose := !cc.jsonOutput()
	for running := true; running; {
		select {
		case <-sigs:
			fmt.Fprintln(cmd.ErrOrStderr(), "Stopping at the next item boundary")
			_ = runner.Stop()
		case p := <-updates:
			if verbose && p.State != bulk.StateCompleted {
				fmt.Fprintf(out, "[%d/%d] %d ok, %d failed\n", p.CurrentIndex, p.TotalItems, p.Succeeded, p.Failed)
			}
		case <-done:
			running = false
		}
	}

	final := runner.Status()
	if cc.jsonOutput() {
		return writeJSON(cmd, final)
	}
	verb := "complete"
	if final.Stopped {
		verb = "stopped"
	}
	fmt.Fprintf(out, "%s %s: %s succeeded, %s failed of %s\n", wf.Title(), verb, count(final.Succeeded), count(final.Failed), count(final.TotalItems))
	if len(final.FailedIDs) > 0 {
		fmt.Fprintf(out, "Failed IDs: %v\n", final.FailedIDs)
	}
	return nil
}
