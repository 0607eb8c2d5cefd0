package optimizer

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"assetopt/internal/config"
	"assetopt/internal/datocms"
	"assetopt/internal/logging"
	"assetopt/internal/services"
	"assetopt/internal/textutil"
)

// State is the lifecycle of an orchestrator.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "idle"
	}
}

// Catalog lists candidate assets.
type Catalog interface {
	Candidates(ctx context.Context, minSize int64) iter.Seq2[datocms.Asset, error]
	CountCandidates(ctx context.Context, minSize int64) (int64, error)
}

// Replacer swaps an asset's binary for the image at a URL.
type Replacer interface {
	ReplaceFromURL(ctx context.Context, assetID, sourceURL, filename string) (*datocms.Asset, error)
}

// Fetcher downloads transformed renditions.
type Fetcher interface {
	Fetch(ctx context.Context, transformURL string) (*Rendition, error)
}

// Callbacks stream progress to the caller. Either field may be nil.
type Callbacks struct {
	Progress func(current, total int, asset datocms.Asset)
	Log      func(LogEntry)
}

// Orchestrator drives batch optimization runs, one asset at a time.
type Orchestrator struct {
	catalog   Catalog
	replacer  Replacer
	fetcher   Fetcher
	recorders []Recorder
	logger    *slog.Logger
	now       func() time.Time
	newRunID  func() string

	running atomic.Bool
	state   atomic.Int32
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFetcher overrides the rendition fetcher.
func WithFetcher(fetcher Fetcher) Option {
	return func(o *Orchestrator) {
		if fetcher != nil {
			o.fetcher = fetcher
		}
	}
}

// WithRecorders registers run observers.
func WithRecorders(recorders ...Recorder) Option {
	return func(o *Orchestrator) {
		for _, r := range recorders {
			if r != nil {
				o.recorders = append(o.recorders, r)
			}
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunIDs overrides run identifier generation.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newRunID = next
		}
	}
}

// New builds an orchestrator over a catalog and a replacer. The DatoCMS
// client satisfies both.
func New(catalog Catalog, replacer Replacer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:  catalog,
		replacer: replacer,
		fetcher:  NewRenditionFetcher(nil),
		logger:   logging.NewNop(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "optimizer")
	return o
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Running reports whether a batch is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

type run struct {
	o        *Orchestrator
	ctx      context.Context
	logger   *slog.Logger
	settings config.Optimization
	cb       Callbacks
	result   *BatchResult
}

// RunBatch optimizes every candidate above settings' large threshold. Assets
// are processed strictly in catalog order. Per-asset failures are recorded and
// the batch continues; a catalog failure, invalid settings or cancellation
// between assets aborts the run and returns a nil result.
func (o *Orchestrator) RunBatch(ctx context.Context, settings config.Optimization, cb Callbacks) (*BatchResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, services.Wrap(services.ErrRunInProgress, "optimizer", "run batch", "", nil)
	}
	defer o.running.Store(false)
	o.state.Store(int32(StateRunning))

	runID := o.newRunID()
	ctx = services.WithRunID(ctx, runID)
	r := &run{
		o:        o,
		ctx:      ctx,
		logger:   logging.WithContext(ctx, o.logger),
		settings: settings,
		cb:       cb,
		result:   &BatchResult{RunID: runID, StartedAt: o.now()},
	}

	r.log("Starting asset optimization process...")
	o.notifyStarted(ctx, r)

	if err := settings.Validate(); err != nil {
		return r.abort(services.Wrap(services.ErrConfiguration, "optimizer", "validate settings", "", err))
	}

	candidates, err := r.collectCandidates()
	if err != nil {
		return r.abort(err)
	}

	total := len(candidates)
	for i, asset := range candidates {
		if err := ctx.Err(); err != nil {
			return r.abort(err)
		}
		if cb.Progress != nil {
			cb.Progress(i+1, total, asset)
		}
		outcome := r.processAsset(asset)
		r.result.record(outcome)
		o.notifyOutcome(context.WithoutCancel(ctx), runID, i, outcome)
	}

	r.result.FinishedAt = o.now()
	res := r.result
	r.log(fmt.Sprintf("Optimization complete. Optimized: %d, Skipped: %d, Failed: %d", res.Optimized, res.Skipped, res.Failed))
	if res.Optimized > 0 {
		r.log(fmt.Sprintf("Total size savings: %s (%d%%)", FormatFileSize(res.SavedBytes()), int(math.Round(res.SavingsPercent()))))
	}
	r.log("Asset optimization process completed!")
	r.logger.Info("batch completed",
		logging.String(logging.FieldEventType, "run_completed"),
		logging.Int("candidates", res.TotalCandidates),
		logging.Int("optimized", res.Optimized),
		logging.Int("skipped", res.Skipped),
		logging.Int("failed", res.Failed),
		logging.Int64("saved_bytes", res.SavedBytes()),
		logging.Duration("run_duration", res.Duration()),
	)

	o.state.Store(int32(StateCompleted))
	o.notifyFinished(ctx, res, nil)
	return res, nil
}

func (r *run) collectCandidates() ([]datocms.Asset, error) {
	r.log("Fetching assets from DatoCMS...")
	minSize := r.settings.LargeThresholdBytes()

	if reported, err := r.o.catalog.CountCandidates(r.ctx, minSize); err != nil {
		logging.WarnWithContext(r.logger, "candidate count unavailable", "candidate_count_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "server total not shown; iteration is unaffected"),
		)
	} else {
		r.result.ReportedCandidates = reported
	}

	var candidates []datocms.Asset
	for asset, err := range r.o.catalog.Candidates(r.ctx, minSize) {
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, asset)
	}

	threshold := formatMegabytes(r.settings.LargeAssetThreshold)
	if r.result.ReportedCandidates > 0 && r.result.ReportedCandidates != int64(len(candidates)) {
		r.log(fmt.Sprintf("Server reports %d assets larger than %sMB.", r.result.ReportedCandidates, threshold))
	}
	r.log(fmt.Sprintf("Found %d assets larger than %sMB.", len(candidates), threshold))
	r.logger.Info("candidates fetched",
		logging.String(logging.FieldEventType, "candidates_fetched"),
		logging.Int("candidates", len(candidates)),
		logging.Int64("reported", r.result.ReportedCandidates),
	)
	return candidates, nil
}

// processAsset runs one asset to completion. Cancelling the run stops the loop
// before the next asset; the asset in flight keeps its context values but not
// the cancellation, so a committed replacement is awaited and recorded.
func (r *run) processAsset(asset datocms.Asset) Outcome {
	ctx := services.WithAssetID(context.WithoutCancel(r.ctx), asset.ID)
	logger := logging.WithContext(ctx, r.o.logger)
	base := Outcome{AssetID: asset.ID, Path: asset.Path, URL: asset.URL}

	r.log(fmt.Sprintf("Processing asset: %s (%s)", asset.Path, FormatFileSize(asset.Size)))

	spec := SelectParams(asset, r.settings)
	if spec == nil {
		r.log(fmt.Sprintf("Skipping asset %s: No suitable optimization parameters found.", asset.Path))
		return r.skip(logger, base, "no_params")
	}

	transformURL := spec.URL(asset.URL)
	r.log(fmt.Sprintf("Optimizing with parameters: %s", spec))

	rendition, err := r.o.fetcher.Fetch(ctx, transformURL)
	if err != nil {
		r.log(fmt.Sprintf("Error optimizing asset %s: %v", asset.Path, err))
		return r.fail(logger, base, err)
	}
	r.log(fmt.Sprintf("Optimized image size: %s", FormatFileSize(rendition.Size)))

	minimumAcceptable := float64(asset.Size) * (1 - r.settings.MinimumReduction/100)
	if float64(rendition.Size) > minimumAcceptable {
		r.log(fmt.Sprintf("Optimization not significant enough for %s. Skipping.", asset.Path))
		return r.skip(logger, base, "insufficient_reduction")
	}

	r.log(fmt.Sprintf("Replacing asset %s...", asset.Path))
	if _, err := r.o.replacer.ReplaceFromURL(ctx, asset.ID, transformURL, replacementFilename(asset, spec, rendition)); err != nil {
		r.log(fmt.Sprintf("Error replacing asset: %v", err))
		return r.fail(logger, base, err)
	}

	outcome := base
	outcome.Status = StatusOptimized
	outcome.OriginalSize = asset.Size
	outcome.OptimizedSize = rendition.Size

	savings := savingsPercent(asset.Size, rendition.Size)
	text := fmt.Sprintf("Optimized %s: %s → %s (%.0f%% smaller)", asset.Path, FormatFileSize(asset.Size), FormatFileSize(rendition.Size), savings)
	r.emit(NewSizeLogEntry(r.o.now(), text, asset.Size, rendition.Size))
	r.log(fmt.Sprintf("Successfully replaced asset %s", asset.Path))

	logger.Info("asset optimized",
		logging.String(logging.FieldEventType, "asset_optimized"),
		logging.String(logging.FieldAssetPath, asset.Path),
		logging.Int64("original_bytes", asset.Size),
		logging.Int64("optimized_bytes", rendition.Size),
		logging.Float64("savings_percent", savings),
		logging.String("transform_url", transformURL),
	)
	return outcome
}

func (r *run) skip(logger *slog.Logger, base Outcome, reason string) Outcome {
	base.Status = StatusSkipped
	base.Reason = reason
	logger.Debug("asset skipped",
		logging.String(logging.FieldEventType, "asset_skipped"),
		logging.String(logging.FieldAssetPath, base.Path),
		logging.String("reason", reason),
	)
	return base
}

func (r *run) fail(logger *slog.Logger, base Outcome, err error) Outcome {
	base.Status = StatusFailed
	base.Reason = services.FailureReason(err)
	base.Error = err.Error()
	logging.WarnWithContext(logger, "asset failed", "asset_failed",
		logging.String(logging.FieldAssetPath, base.Path),
		logging.String("reason", base.Reason),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "rerun the batch to retry; the original asset is unchanged"),
	)
	return base
}

func (r *run) abort(err error) (*BatchResult, error) {
	r.result.FinishedAt = r.o.now()
	r.log(fmt.Sprintf("Error during optimization process: %v", err))
	logging.ErrorWithContext(r.logger, "batch aborted", "run_aborted",
		logging.Error(err),
		logging.Int("processed", r.result.TotalCandidates),
		logging.String(logging.FieldErrorHint, "check the DatoCMS token and network, then rerun"),
	)
	r.o.state.Store(int32(StateAborted))
	r.o.notifyFinished(r.ctx, r.result, err)
	return nil, err
}

func (r *run) log(text string) {
	r.emit(LogEntry{Time: r.o.now(), Text: text})
}

func (r *run) emit(entry LogEntry) {
	if r.cb.Log != nil {
		r.cb.Log(entry)
	}
}

func (o *Orchestrator) notifyStarted(ctx context.Context, r *run) {
	for _, rec := range o.recorders {
		if err := rec.RunStarted(ctx, r.result.RunID, r.result.StartedAt, r.settings); err != nil {
			o.recorderFailed(ctx, "run_started", err)
		}
	}
}

func (o *Orchestrator) notifyOutcome(ctx context.Context, runID string, position int, outcome Outcome) {
	for _, rec := range o.recorders {
		if err := rec.OutcomeRecorded(ctx, runID, position, outcome); err != nil {
			o.recorderFailed(ctx, "outcome_recorded", err)
		}
	}
}

func (o *Orchestrator) notifyFinished(ctx context.Context, result *BatchResult, runErr error) {
	// Recorders still need to persist the final state after cancellation.
	ctx = context.WithoutCancel(ctx)
	for _, rec := range o.recorders {
		if err := rec.RunFinished(ctx, result, runErr); err != nil {
			o.recorderFailed(ctx, "run_finished", err)
		}
	}
}

func (o *Orchestrator) recorderFailed(ctx context.Context, hook string, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, o.logger), "run recorder failed", "recorder_failed",
		logging.String("hook", hook),
		logging.Error(err),
		logging.String(logging.FieldImpact, "run history or metrics may be incomplete"),
	)
}

// replacementFilename keeps the asset's basename and takes the extension of
// the rendition actually produced.
func replacementFilename(asset datocms.Asset, spec *TransformSpec, rendition *Rendition) string {
	name := textutil.SanitizeFileName(asset.Basename)
	if name == "" {
		name = textutil.SanitizeFileName(strings.TrimSuffix(path.Base(asset.Path), path.Ext(asset.Path)))
	}
	if name == "" || name == "." || name == "/" {
		name = "optimized-image"
	}
	ext := rendition.Extension
	if ext == "" {
		ext = spec.Format
	}
	if ext == "" {
		ext = strings.TrimPrefix(path.Ext(asset.Path), ".")
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func formatMegabytes(mb float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", mb), "0"), ".")
}
