package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"optibatch/internal/daemonctl"
	"optibatch/internal/job"
	"optibatch/internal/ledger"
	"optibatch/internal/media"
)

type pageFlags struct {
	page    int
	perPage int
}

func (p *pageFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&p.perPage, "per-page", 20, "Entries per page (max 200)")
}

func (p pageFlags) pagination() ledger.Pagination {
	return ledger.Pagination{Page: p.page, PerPage: p.perPage}
}

func newProcessedCommand(ctx *commandContext) *cobra.Command {
	var status string
	var pages pageFlags

	cmd := &cobra.Command{
		Use:   "processed",
		Short: "List processed items of the current or most recent run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := media.ItemStatus(strings.ToLower(strings.TrimSpace(status)))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("invalid --status %q (want success, skipped, or error)", status)
			}
			page, err := fetchProcessed(cmd.Context(), ctx, filter, pages.pagination())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, page)
			}
			out := cmd.OutOrStdout()
			if page.Total == 0 {
				fmt.Fprintln(out, "No processed items")
				return nil
			}
			rows := make([][]string, 0, len(page.Items))
			for _, rec := range page.Items {
				rows = append(rows, []string{
					strconv.Itoa(rec.Position + 1),
					strconv.FormatInt(rec.ItemID, 10),
					truncate(recordName(rec), 40),
					string(rec.Status),
					bytesLabel(rec.OriginalBytes),
					bytesLabel(rec.OptimizedBytes),
					savedColumn(rec),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "ID", "Item", "Status", "Original", "Optimized", "Saved"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "Page %d of %d (%s items)\n", page.Page, page.Pages, count(page.Total))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: success, skipped, or error")
	pages.bind(cmd)
	return cmd
}

func newRemainingCommand(ctx *commandContext) *cobra.Command {
	var pages pageFlags

	cmd := &cobra.Command{
		Use:   "remaining",
		Short: "List items the current run has not processed yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := fetchRemaining(cmd.Context(), ctx, pages.pagination())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, page)
			}
			out := cmd.OutOrStdout()
			if page.Total == 0 {
				fmt.Fprintln(out, "Nothing remaining")
				return nil
			}
			rows := make([][]string, 0, len(page.Items))
			for _, entry := range page.Items {
				rows = append(rows, []string{
					strconv.Itoa(entry.Position + 1),
					strconv.FormatInt(entry.Item.ID, 10),
					truncate(entry.Item.DisplayName(), 50),
					entry.State,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "ID", "Item", "State"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "Page %d of %d (%s items)\n", page.Page, page.Pages, count(page.Total))
			return nil
		},
	}
	pages.bind(cmd)
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), job.DefaultJob, limit)
			if err != nil {
				return err
			}
			type runView struct {
				ledger.Run
				Counts ledger.Counts `json:"counts"`
			}
			views := make([]runView, 0, len(runs))
			for _, run := range runs {
				counts, err := store.Counts(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				views = append(views, runView{Run: run, Counts: counts})
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				outcome := v.Outcome
				if !v.Finished() {
					outcome = "in progress"
				}
				rows = append(rows, []string{
					v.StartedAt.Local().Format("2006-01-02 15:04"),
					outcome,
					fmt.Sprintf("%s/%s", count(v.Counts.Total()), count(v.TotalItems)),
					count(v.Counts.Success),
					count(v.Counts.Skipped),
					count(v.Counts.Error),
					bytesLabel(v.Counts.SavedBytes),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Started", "Outcome", "Processed", "OK", "Skipped", "Failed", "Saved"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	return cmd
}

// fetchProcessed asks the daemon and falls back to the local ledger when
// no daemon is listening.
func fetchProcessed(ctx context.Context, cc *commandContext, status media.ItemStatus, page ledger.Pagination) (ledger.Page[media.ResultRecord], error) {
	if client, err := cc.daemonClient(); err == nil {
		result, err := client.Processed(ctx, status, page)
		if err == nil || !daemonctl.IsUnavailable(err) {
			return result, err
		}
	}

	rt, err := cc.openLocal(nil)
	if err != nil {
		return ledger.Page[media.ResultRecord]{}, err
	}
	defer rt.Close()

	res, err := rt.ctrl.Load(ctx)
	if err != nil {
		return ledger.Page[media.ResultRecord]{}, err
	}
	if res.Restored {
		return rt.ctrl.Processed(ctx, status, page)
	}
	runs, err := rt.store.ListRuns(ctx, job.DefaultJob, 1)
	if err != nil || len(runs) == 0 {
		return ledger.Page[media.ResultRecord]{Items: []media.ResultRecord{}, Page: 1, PerPage: page.PerPage}, err
	}
	return rt.store.Processed(ctx, runs[0].ID, ledger.ProcessedQuery{Status: status, Page: page})
}

func fetchRemaining(ctx context.Context, cc *commandContext, page ledger.Pagination) (ledger.Page[ledger.RemainingEntry], error) {
	if client, err := cc.daemonClient(); err == nil {
		result, err := client.Remaining(ctx, page)
		if err == nil || !daemonctl.IsUnavailable(err) {
			return result, err
		}
	}

	rt, err := cc.openLocal(nil)
	if err != nil {
		return ledger.Page[ledger.RemainingEntry]{}, err
	}
	defer rt.Close()
	if _, err := rt.ctrl.Load(ctx); err != nil {
		return ledger.Page[ledger.RemainingEntry]{}, err
	}
	return rt.ctrl.Remaining(page), nil
}

func recordName(rec media.ResultRecord) string {
	if rec.Title != "" {
		return rec.Title
	}
	return rec.Filename
}

func savedColumn(rec media.ResultRecord) string {
	switch rec.Status {
	case media.StatusSuccess:
		return savingsLabel(rec.SavedBytes, rec.SavingsPercent)
	case media.StatusError:
		return truncate(rec.ErrorMessage, 40)
	default:
		return "-"
	}
}
