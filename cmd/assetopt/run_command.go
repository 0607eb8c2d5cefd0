package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"assetopt/internal/config"
	"assetopt/internal/datocms"
	"assetopt/internal/logging"
	"assetopt/internal/metrics"
	"assetopt/internal/notifications"
	"assetopt/internal/optimizer"
	"assetopt/internal/preflight"
	"assetopt/internal/runlock"
	"assetopt/internal/runstore"
	"assetopt/internal/services"
)

type runOptions struct {
	settingsPath string
	threshold    float64
	asJSON       bool
}

// runReport is the --json document for a finished run.
type runReport struct {
	*optimizer.BatchResult
	SavedBytes     int64                `json:"saved_bytes"`
	SavingsPercent float64              `json:"savings_percent"`
	Activity       []optimizer.LogEntry `json:"activity"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize every image asset above the size threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runBatch(cmd, ctx, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.settingsPath, "settings", "", "JSON optimization settings overriding [optimization]")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Override the large asset threshold in MB")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the run result as JSON")
	return cmd
}

func resolveSettings(cfg *config.Config, opts runOptions) (config.Optimization, error) {
	settings := cfg.Optimization
	if opts.settingsPath != "" {
		loaded, err := config.LoadOptimizationFile(opts.settingsPath)
		if err != nil {
			return config.Optimization{}, err
		}
		settings = loaded
	}
	if opts.threshold > 0 {
		settings.LargeAssetThreshold = opts.threshold
	}
	if err := settings.Validate(); err != nil {
		return config.Optimization{}, err
	}
	return settings, nil
}

func runBatch(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, opts runOptions) error {
	settings, err := resolveSettings(cfg, opts)
	if err != nil {
		return err
	}
	client, err := ctx.datoClient(cfg)
	if err != nil {
		return err
	}

	lock, err := runlock.Acquire(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	if failed := preflight.Failed(preflight.RunAll(cmd.Context(), cfg)); len(failed) > 0 {
		return preflightError(failed)
	}

	baseLogger, err := ctx.logger(cfg)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	runHandler, runLogFile, err := logging.OpenRunLog(cfg.Paths.LogDir, runID)
	if err != nil {
		return err
	}
	defer runLogFile.Close()
	logger := logging.TeeLogger(baseLogger, runHandler)

	store, err := ctx.openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopGuard := guardInterrupts(cmd.ErrOrStderr(), cancel)
	defer stopGuard()

	if reclaimed, err := store.ReclaimInterrupted(runCtx); err != nil {
		logger.Warn("reclaim interrupted runs failed",
			logging.String(logging.FieldEventType, "history_reclaim_failed"),
			logging.Error(err),
		)
	} else if reclaimed > 0 {
		logger.Info("marked interrupted runs as aborted", logging.Int64("runs", reclaimed))
	}

	notifier := notifications.NewRunRecorder(notifications.NewService(cfg), cfg.Notifications)
	registry := metrics.New(cfg.Metrics.ProcessCollectors)

	orch := optimizer.New(client, client,
		optimizer.WithLogger(logger),
		optimizer.WithRecorders(store, notifier, registry),
		optimizer.WithRunIDs(func() string { return runID }),
	)

	activity := &optimizer.ActivityLog{}
	display := newRunDisplay(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.asJSON)
	result, runErr := orch.RunBatch(runCtx, settings, optimizer.Callbacks{
		Progress: display.progress,
		Log: func(entry optimizer.LogEntry) {
			activity.Append(entry)
			display.log(entry)
		},
	})
	display.finish()

	finishRun(cmd.Context(), logger, cfg, registry, store)

	if runErr != nil {
		reason := runErr.Error()
		if errors.Is(runErr, context.Canceled) {
			reason = "interrupted by user"
		}
		fmt.Fprintln(cmd.ErrOrStderr(), renderAlert("Optimization aborted", reason, shouldColorize(cmd.ErrOrStderr())))
		return reportedError{runErr}
	}

	if opts.asJSON {
		return writeJSON(cmd, runReport{
			BatchResult:    result,
			SavedBytes:     result.SavedBytes(),
			SavingsPercent: result.SavingsPercent(),
			Activity:       activity.Entries(),
		})
	}
	printRunSummary(cmd.OutOrStdout(), result)
	return nil
}

// reportedError marks an error the command already showed to the user.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// finishRun writes the metrics textfile and applies history retention. Both
// are best effort; failures are logged only.
func finishRun(ctx context.Context, logger *slog.Logger, cfg *config.Config, registry *metrics.Registry, store *runstore.Store) {
	if cfg.Metrics.Textfile != "" {
		if err := registry.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics textfile write failed",
				logging.String(logging.FieldEventType, "metrics_write_failed"),
				logging.String("path", cfg.Metrics.Textfile),
				logging.Error(err),
			)
		}
	}

	days := cfg.History.RetentionDays
	if days <= 0 {
		return
	}
	now := time.Now()
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, days, now)
	pruned, err := store.Prune(context.WithoutCancel(ctx), now.AddDate(0, 0, -days))
	if err != nil {
		logger.Warn("history prune failed",
			logging.String(logging.FieldEventType, "history_prune_failed"),
			logging.Error(err),
		)
		return
	}
	if pruned > 0 {
		logger.Info("pruned run history", logging.Int64("runs", pruned), logging.Int("retention_days", days))
	}
}

// guardInterrupts warns on the first SIGINT/SIGTERM and cancels on the second.
// The orchestrator stops before the next asset; the asset in flight finishes.
func guardInterrupts(stderr io.Writer, cancel context.CancelFunc) func() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		warned := false
		for {
			select {
			case <-done:
				return
			case <-signals:
				if !warned {
					warned = true
					fmt.Fprintln(stderr, "Optimization in progress. Press Ctrl+C again to stop after the current asset.")
					continue
				}
				cancel()
				return
			}
		}
	}()
	return func() {
		signal.Stop(signals)
		close(done)
	}
}

// runDisplay renders progress as a bar on terminals and as plain activity
// lines otherwise. JSON mode prints nothing until the final document.
type runDisplay struct {
	out    io.Writer
	errOut io.Writer
	quiet  bool
	useBar bool
	bar    *progressbar.ProgressBar
}

func newRunDisplay(out, errOut io.Writer, asJSON bool) *runDisplay {
	return &runDisplay{
		out:    out,
		errOut: errOut,
		quiet:  asJSON,
		useBar: !asJSON && isTerminal(errOut),
	}
}

func (d *runDisplay) progress(current, total int, asset datocms.Asset) {
	if d.quiet {
		return
	}
	if !d.useBar {
		fmt.Fprintf(d.out, "[%d/%d] %s (%s)\n", current, total, asset.Path, humanize.IBytes(uint64(max(asset.Size, 0))))
		return
	}
	if d.bar == nil {
		d.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(d.errOut),
			progressbar.OptionSetDescription("Optimizing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	d.bar.Describe(asset.Basename)
	_ = d.bar.Set(current)
}

func (d *runDisplay) log(entry optimizer.LogEntry) {
	if d.quiet || d.useBar {
		return
	}
	fmt.Fprintf(d.out, "%s %s\n", entry.Time.Format("15:04:05"), entry.Text)
}

func (d *runDisplay) finish() {
	if d.bar != nil {
		_ = d.bar.Finish()
	}
}

func printRunSummary(out io.Writer, result *optimizer.BatchResult) {
	colorize := shouldColorize(out)
	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Run "+shortRunID(result.RunID), colorize) {
		fmt.Fprintln(out, line)
	}

	saved := "-"
	if result.Optimized > 0 {
		saved = fmt.Sprintf("%s (%.0f%%)", optimizer.FormatFileSize(result.SavedBytes()), result.SavingsPercent())
	}
	rows := [][]string{
		{"Candidates", strconv.Itoa(result.TotalCandidates)},
		{"Optimized", strconv.Itoa(result.Optimized)},
		{"Skipped", strconv.Itoa(result.Skipped)},
		{"Failed", strconv.Itoa(result.Failed)},
		{"Saved", saved},
		{"Duration", result.Duration().Round(time.Second).String()},
	}
	fmt.Fprintln(out, renderTable(tableSpec{
		headers: []string{"Metric", "Value"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignRight},
	}))

	if len(result.FailedAssets) == 0 {
		return
	}
	failed := make([][]string, 0, len(result.FailedAssets))
	for _, outcome := range result.FailedAssets {
		failed = append(failed, []string{outcome.AssetID, outcome.Path, outcome.Reason, outcome.Error})
	}
	fmt.Fprintln(out, renderStatusLine("Failures", statusError, strconv.Itoa(result.Failed)+" asset(s) not replaced", colorize))
	fmt.Fprintln(out, renderTable(tableSpec{
		headers: []string{"ID", "Path", "Reason", "Error"},
		rows:    failed,
	}))
}

func preflightError(failed []preflight.Result) error {
	details := make([]string, 0, len(failed))
	for _, result := range failed {
		details = append(details, result.Name+": "+result.Detail)
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "run checks", strings.Join(details, "; "), nil)
}
