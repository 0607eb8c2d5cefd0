package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"assetopt/internal/logging"
	"assetopt/internal/logs"
	"assetopt/internal/optimizer"
	"assetopt/internal/runstore"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded optimization runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				if runs == nil {
					runs = []*runstore.Run{}
				}
				return writeJSON(cmd, runs)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			totals, err := store.Totals(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderTable(runTable(runs, totals)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 shows all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	cmd.AddCommand(newHistoryShowCommand(ctx))
	cmd.AddCommand(newHistoryAssetCommand(ctx))
	cmd.AddCommand(newHistoryLogCommand(ctx))
	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func runTable(runs []*runstore.Run, totals runstore.Totals) tableSpec {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortRunID(run.ID),
			humanize.Time(run.StartedAt),
			string(run.Status),
			strconv.Itoa(run.TotalCandidates),
			strconv.Itoa(run.Optimized),
			strconv.Itoa(run.Skipped),
			strconv.Itoa(run.Failed),
			savedColumn(run.SavedBytes(), run.SavingsPercent()),
		})
	}
	saved := totals.OriginalBytes - totals.OptimizedBytes
	var percent float64
	if totals.OriginalBytes > 0 {
		percent = float64(saved) / float64(totals.OriginalBytes) * 100
	}
	return tableSpec{
		headers: []string{"Run", "Started", "Status", "Candidates", "Optimized", "Skipped", "Failed", "Saved"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
		footer: []string{
			fmt.Sprintf("%d completed", totals.Runs), "", "", "",
			strconv.Itoa(totals.Optimized), strconv.Itoa(totals.Skipped), strconv.Itoa(totals.Failed),
			savedColumn(saved, percent),
		},
	}
}

func savedColumn(saved int64, percent float64) string {
	if saved <= 0 {
		return "-"
	}
	return fmt.Sprintf("%s (%.0f%%)", humanize.IBytes(uint64(saved)), percent)
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var statusFilter []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run and its per-asset outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFilter)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outcomes, err := store.ListOutcomes(cmd.Context(), run.ID, statuses...)
			if err != nil {
				return err
			}

			if asJSON {
				if outcomes == nil {
					outcomes = []*runstore.OutcomeRecord{}
				}
				return writeJSON(cmd, struct {
					Run      *runstore.Run              `json:"run"`
					Outcomes []*runstore.OutcomeRecord `json:"outcomes"`
				}{run, outcomes})
			}

			out := cmd.OutOrStdout()
			printRunDetails(out, run)
			if len(outcomes) == 0 {
				fmt.Fprintln(out, "No outcomes recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable(outcomeTable(outcomes, false)))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statusFilter, "status", nil, "Filter outcomes by status (optimized, skipped, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printRunDetails(out io.Writer, run *runstore.Run) {
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Run "+run.ID, colorize) {
		fmt.Fprintln(out, line)
	}

	kind := statusOK
	switch run.Status {
	case runstore.RunRunning:
		kind = statusInfo
	case runstore.RunAborted:
		kind = statusError
	default:
		if run.Failed > 0 {
			kind = statusWarn
		}
	}
	fmt.Fprintln(out, renderStatusLine("Status", kind, string(run.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Started", statusInfo, run.StartedAt.Local().Format(time.DateTime), colorize))
	if run.FinishedAt != nil {
		fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, run.Duration().Round(time.Second).String(), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Candidates", statusInfo, candidatesLabel(run), colorize))
	fmt.Fprintln(out, renderStatusLine("Results", statusInfo,
		fmt.Sprintf("optimized %d, skipped %d, failed %d", run.Optimized, run.Skipped, run.Failed), colorize))
	if run.Optimized > 0 {
		fmt.Fprintln(out, renderStatusLine("Saved", statusOK,
			fmt.Sprintf("%s (%.0f%%)", optimizer.FormatFileSize(run.SavedBytes()), run.SavingsPercent()), colorize))
	}
	if run.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, run.ErrorMessage, colorize))
	}
}

func candidatesLabel(run *runstore.Run) string {
	label := strconv.Itoa(run.TotalCandidates)
	if run.ReportedCandidates > 0 && run.ReportedCandidates != int64(run.TotalCandidates) {
		label += fmt.Sprintf(" (server reported %d)", run.ReportedCandidates)
	}
	return label
}

func outcomeTable(outcomes []*runstore.OutcomeRecord, withRun bool) tableSpec {
	headers := []string{"#", "Asset", "Path", "Status", "Original", "Optimized", "Detail"}
	if withRun {
		headers[0] = "Run"
	}
	rows := make([][]string, 0, len(outcomes))
	for _, rec := range outcomes {
		first := strconv.Itoa(rec.Position + 1)
		if withRun {
			first = shortRunID(rec.RunID)
		}
		original, optimized := "-", "-"
		if rec.Status == optimizer.StatusOptimized {
			original = optimizer.FormatFileSize(rec.OriginalSize)
			optimized = optimizer.FormatFileSize(rec.OptimizedSize)
		}
		detail := rec.Reason
		if rec.Error != "" {
			detail = rec.Error
		}
		rows = append(rows, []string{first, rec.AssetID, rec.Path, string(rec.Status), original, optimized, detail})
	}
	return tableSpec{
		headers: headers,
		rows:    rows,
		aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	}
}

func parseStatuses(values []string) ([]optimizer.OutcomeStatus, error) {
	statuses := make([]optimizer.OutcomeStatus, 0, len(values))
	for _, value := range values {
		status := optimizer.OutcomeStatus(strings.ToLower(strings.TrimSpace(value)))
		switch status {
		case optimizer.StatusOptimized, optimizer.StatusSkipped, optimizer.StatusFailed:
			statuses = append(statuses, status)
		default:
			return nil, fmt.Errorf("unknown status %q (optimized, skipped, failed)", value)
		}
	}
	return statuses, nil
}

func newHistoryAssetCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "asset ASSET_ID",
		Short: "Show every recorded outcome for one asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.AssetHistory(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if asJSON {
				if records == nil {
					records = []*runstore.OutcomeRecord{}
				}
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintf(out, "No history for asset %s\n", args[0])
				return nil
			}
			fmt.Fprintln(out, renderTable(outcomeTable(records, true)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs and run logs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			days := olderThan
			if !cmd.Flags().Changed("older-than") {
				days = cfg.History.RetentionDays
			}
			if days <= 0 {
				return errors.New("retention must be at least one day (set --older-than or history.retention_days)")
			}

			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			now := time.Now()
			pruned, err := store.Prune(cmd.Context(), now.AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			logs := logging.PruneRunLogs(logger, cfg.Paths.LogDir, days, now)
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s) and %d run log(s) older than %d day(s)\n", pruned, logs, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThan, "older-than", 0, "Age in days (defaults to history.retention_days)")
	return cmd
}

func newHistoryLogCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var raw bool

	cmd := &cobra.Command{
		Use:   "log RUN_ID",
		Short: "Print the structured log of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			run, err := store.GetRun(cmd.Context(), args[0])
			store.Close()
			if err != nil {
				return err
			}

			path := logging.RunLogPath(cfg.Paths.LogDir, run.ID)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("run log for %s: %w", shortRunID(run.ID), err)
			}

			out := cmd.OutOrStdout()
			emit := func(line string) error {
				if !raw {
					line = logs.FormatLine(line)
				}
				_, err := fmt.Fprintln(out, line)
				return err
			}

			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				if err := emit(line); err != nil {
					return err
				}
			}
			if !follow {
				return nil
			}
			followCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return logs.Follow(followCtx, path, offset, logs.DefaultPoll, emit)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as the run writes them")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON records unformatted")
	return cmd
}
