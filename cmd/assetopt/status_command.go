package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"assetopt/internal/config"
	"assetopt/internal/preflight"
	"assetopt/internal/runlock"
	"assetopt/internal/runstore"
)

type statusReport struct {
	Checks   []preflight.Result `json:"checks"`
	Running  bool               `json:"running"`
	LockPID  int                `json:"lock_pid,omitempty"`
	LastRun  *runstore.Run      `json:"last_run,omitempty"`
	Totals   runstore.Totals    `json:"totals"`
	Problems int                `json:"problems"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check API access, directories, the run lock and the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := collectStatus(cmd, ctx, cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func collectStatus(cmd *cobra.Command, ctx *commandContext, cfg *config.Config) (*statusReport, error) {
	report := &statusReport{Checks: preflight.RunAll(cmd.Context(), cfg)}
	report.Problems = len(preflight.Failed(report.Checks))

	held, err := runlock.Held(cfg.LockPath())
	if err != nil {
		return nil, err
	}
	report.Running = held
	if held {
		if pid, ok := runlock.HolderPID(cfg.LockPath()); ok {
			report.LockPID = pid
		}
	}

	store, err := ctx.openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		report.LastRun = runs[0]
	}
	if report.Totals, err = store.Totals(cmd.Context()); err != nil {
		return nil, err
	}
	return report, nil
}

func printStatus(out io.Writer, report *statusReport) {
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Runs", colorize) {
		fmt.Fprintln(out, line)
	}
	switch {
	case report.Running && report.LockPID > 0:
		fmt.Fprintln(out, renderStatusLine("Run lock", statusWarn, fmt.Sprintf("held by pid %d", report.LockPID), colorize))
	case report.Running:
		fmt.Fprintln(out, renderStatusLine("Run lock", statusWarn, "held", colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Run lock", statusOK, "free", colorize))
	}
	if report.LastRun == nil {
		fmt.Fprintln(out, renderStatusLine("Last run", statusInfo, "none recorded", colorize))
	} else {
		run := report.LastRun
		kind := statusOK
		if run.Status == runstore.RunAborted || run.Failed > 0 {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine("Last run", kind,
			fmt.Sprintf("%s %s %s, optimized %d of %d", shortRunID(run.ID), run.Status, humanize.Time(run.StartedAt), run.Optimized, run.TotalCandidates),
			colorize))
	}
	saved := report.Totals.OriginalBytes - report.Totals.OptimizedBytes
	fmt.Fprintln(out, renderStatusLine("All time", statusInfo,
		fmt.Sprintf("%d runs, %d assets optimized, %s saved", report.Totals.Runs, report.Totals.Optimized, humanize.IBytes(uint64(max(saved, 0)))),
		colorize))

	if report.Problems > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderAlert("Not ready", fmt.Sprintf("%d check(s) failed", report.Problems), colorize))
	}
}
