package optimizer_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"assetopt/internal/config"
	"assetopt/internal/datocms"
	"assetopt/internal/optimizer"
	"assetopt/internal/services"
)

type fakeCatalog struct {
	assets   []datocms.Asset
	err      error
	count    int64
	countErr error
}

func (c *fakeCatalog) Candidates(_ context.Context, _ int64) iter.Seq2[datocms.Asset, error] {
	return func(yield func(datocms.Asset, error) bool) {
		for _, asset := range c.assets {
			if !yield(asset, nil) {
				return
			}
		}
		if c.err != nil {
			yield(datocms.Asset{}, c.err)
		}
	}
}

func (c *fakeCatalog) CountCandidates(context.Context, int64) (int64, error) {
	return c.count, c.countErr
}

type replaceCall struct {
	assetID   string
	sourceURL string
	filename  string
}

type fakeReplacer struct {
	mu     sync.Mutex
	calls  []replaceCall
	errors map[string]error
}

func (r *fakeReplacer) ReplaceFromURL(_ context.Context, assetID, sourceURL, filename string) (*datocms.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, replaceCall{assetID: assetID, sourceURL: sourceURL, filename: filename})
	if err := r.errors[assetID]; err != nil {
		return nil, err
	}
	return &datocms.Asset{ID: assetID}, nil
}

// fakeFetcher answers by asset path; the query string is ignored.
type fakeFetcher struct {
	mu         sync.Mutex
	renditions map[string]*optimizer.Rendition
	errors     map[string]error
	urls       []string
	block      chan struct{}
	entered    chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context, transformURL string) (*optimizer.Rendition, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, transformURL)
	key := strings.SplitN(transformURL, "?", 2)[0]
	if err := f.errors[key]; err != nil {
		return nil, err
	}
	if r, ok := f.renditions[key]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: no rendition for %s", services.ErrTransformFetch, key)
}

type fakeRecorder struct {
	mu        sync.Mutex
	started   []string
	outcomes  []optimizer.Outcome
	positions []int
	finished  *optimizer.BatchResult
	runErr    error
	failWith  error
}

func (r *fakeRecorder) RunStarted(_ context.Context, runID string, _ time.Time, _ config.Optimization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, runID)
	return r.failWith
}

func (r *fakeRecorder) OutcomeRecorded(_ context.Context, _ string, position int, outcome optimizer.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, position)
	r.outcomes = append(r.outcomes, outcome)
	return r.failWith
}

func (r *fakeRecorder) RunFinished(_ context.Context, result *optimizer.BatchResult, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = result
	r.runErr = runErr
	return r.failWith
}

func asset(id string, size int64, format string, width int) datocms.Asset {
	a := imageAsset(size, format, width)
	a.ID = id
	a.Path = "/" + id + "/photo-" + id + "." + format
	a.Basename = "photo-" + id
	a.URL = "https://www.datocms-assets.com" + a.Path
	return a
}

func avif(size int64) *optimizer.Rendition {
	return &optimizer.Rendition{Size: size, MIME: "image/avif", Extension: "avif"}
}

func newOrchestrator(catalog *fakeCatalog, replacer *fakeReplacer, fetcher *fakeFetcher, recorders ...optimizer.Recorder) *optimizer.Orchestrator {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return optimizer.New(catalog, replacer,
		optimizer.WithFetcher(fetcher),
		optimizer.WithRecorders(recorders...),
		optimizer.WithClock(func() time.Time { return clock }),
		optimizer.WithRunIDs(func() string { return "run-0001" }),
	)
}

func texts(log *optimizer.ActivityLog) []string {
	entries := log.Entries()
	out := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Text)
	}
	return out
}

func TestRunBatchOptimizesAsset(t *testing.T) {
	hero := asset("101", 6*mb, "jpg", 1000)
	catalog := &fakeCatalog{assets: []datocms.Asset{hero}, count: 1}
	replacer := &fakeReplacer{}
	fetcher := &fakeFetcher{renditions: map[string]*optimizer.Rendition{hero.URL: avif(3 * mb)}}
	recorder := &fakeRecorder{}
	orch := newOrchestrator(catalog, replacer, fetcher, recorder)

	var log optimizer.ActivityLog
	settings := config.DefaultOptimization()
	settings.MinimumReduction = 20
	result, err := orch.RunBatch(context.Background(), settings, optimizer.Callbacks{Log: log.Append})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if result.RunID != "run-0001" {
		t.Fatalf("unexpected run id %q", result.RunID)
	}
	if result.Optimized != 1 || result.Skipped != 0 || result.Failed != 0 || result.TotalCandidates != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.SavedBytes() != 3*mb || !approxEqual(result.SavingsPercent(), 50) {
		t.Fatalf("unexpected savings: %d bytes, %.2f%%", result.SavedBytes(), result.SavingsPercent())
	}
	if orch.State() != optimizer.StateCompleted || orch.Running() {
		t.Fatalf("expected completed idle orchestrator, got %v running=%v", orch.State(), orch.Running())
	}

	if len(replacer.calls) != 1 {
		t.Fatalf("expected one replacement, got %d", len(replacer.calls))
	}
	want := replaceCall{assetID: "101", sourceURL: hero.URL + "?fm=avif&q=80", filename: "photo-101.avif"}
	if replacer.calls[0] != want {
		t.Fatalf("expected %+v, got %+v", want, replacer.calls[0])
	}

	lines := texts(&log)
	if lines[0] != "Starting asset optimization process..." {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	for _, line := range []string{
		"Found 1 assets larger than 5MB.",
		"Optimizing with parameters: ?fm=avif&q=80",
		"Total size savings: 3.0 MB (50%)",
	} {
		if !slices.Contains(lines, line) {
			t.Errorf("activity log missing %q", line)
		}
	}
	if last := lines[len(lines)-1]; last != "Asset optimization process completed!" {
		t.Fatalf("unexpected last line %q", last)
	}

	var sized []optimizer.LogEntry
	for _, entry := range log.Entries() {
		if entry.HasSizes {
			sized = append(sized, entry)
		}
	}
	if len(sized) != 1 {
		t.Fatalf("expected one size entry, got %d", len(sized))
	}
	if sized[0].OriginalSize != 6*mb || sized[0].OptimizedSize != 3*mb || !approxEqual(sized[0].SavingsPercent, 50) {
		t.Fatalf("unexpected size entry: %+v", sized[0])
	}
	if sized[0].Text != "Optimized /101/photo-101.jpg: 6.0 MB → 3.0 MB (50% smaller)" {
		t.Fatalf("unexpected size entry text %q", sized[0].Text)
	}

	if !slices.Equal(recorder.started, []string{"run-0001"}) {
		t.Fatalf("unexpected started runs %v", recorder.started)
	}
	if len(recorder.outcomes) != 1 || recorder.outcomes[0].Status != optimizer.StatusOptimized {
		t.Fatalf("unexpected recorded outcomes %+v", recorder.outcomes)
	}
	if recorder.finished != result || recorder.runErr != nil {
		t.Fatalf("expected recorder to receive the final result, got %p err=%v", recorder.finished, recorder.runErr)
	}
}

func TestRunBatchSkipsInsufficientReduction(t *testing.T) {
	hero := asset("102", 6*mb, "jpg", 1000)
	catalog := &fakeCatalog{assets: []datocms.Asset{hero}}
	replacer := &fakeReplacer{}
	fetcher := &fakeFetcher{renditions: map[string]*optimizer.Rendition{hero.URL: avif(4*mb + 900*1024)}}
	orch := newOrchestrator(catalog, replacer, fetcher)

	settings := config.DefaultOptimization()
	settings.MinimumReduction = 20
	var log optimizer.ActivityLog
	result, err := orch.RunBatch(context.Background(), settings, optimizer.Callbacks{Log: log.Append})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if result.Skipped != 1 || len(result.SkippedAssets) != 1 {
		t.Fatalf("expected one skipped asset, got %+v", result)
	}
	if reason := result.SkippedAssets[0].Reason; reason != "insufficient_reduction" {
		t.Fatalf("unexpected skip reason %q", reason)
	}
	if len(replacer.calls) != 0 {
		t.Fatalf("expected no replacement, got %v", replacer.calls)
	}
	lines := texts(&log)
	if !slices.Contains(lines, "Optimization not significant enough for /102/photo-102.jpg. Skipping.") {
		t.Fatalf("missing skip line in %v", lines)
	}
	if strings.Contains(strings.Join(lines, "\n"), "Total size savings") {
		t.Fatal("savings line printed without optimized assets")
	}
}

func TestRunBatchReductionExactlyAtMinimumIsAccepted(t *testing.T) {
	hero := asset("103", 10*mb-1, "png", 1000)
	catalog := &fakeCatalog{assets: []datocms.Asset{hero}}
	replacer := &fakeReplacer{}
	// Exactly the default 10% reduction.
	fetcher := &fakeFetcher{renditions: map[string]*optimizer.Rendition{hero.URL: avif(int64(float64(hero.Size) * 0.9))}}
	orch := newOrchestrator(catalog, replacer, fetcher)

	result, err := orch.RunBatch(context.Background(), config.DefaultOptimization(), optimizer.Callbacks{})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if result.Optimized != 1 {
		t.Fatalf("expected asset at the minimum to be optimized, got %+v", result)
	}
}

func TestRunBatchContinuesPastFailures(t *testing.T) {
	vector := asset("1", 8*mb, "svg", 0)
	broken := asset("2", 7*mb, "jpg", 4000)
	noSlot := asset("3", 6*mb, "png", 3000)
	good := asset("4", 12*mb, "jpg", 4000)

	catalog := &fakeCatalog{assets: []datocms.Asset{vector, broken, noSlot, good}, count: 4}
	replacer := &fakeReplacer{errors: map[string]error{
		"3": services.Wrap(services.ErrUploadSlot, "datocms", "request upload slot", "", errors.New("unexpected status 500")),
	}}
	fetcher := &fakeFetcher{
		renditions: map[string]*optimizer.Rendition{
			noSlot.URL: avif(2 * mb),
			good.URL:   avif(3 * mb),
		},
		errors: map[string]error{
			broken.URL: services.Wrap(services.ErrTransformFetch, "optimizer", "fetch rendition", "", &services.HTTPStatusError{StatusCode: 502}),
		},
	}
	recorder := &fakeRecorder{}
	orch := newOrchestrator(catalog, replacer, fetcher, recorder)

	type progress struct{ current, total int }
	var seen []progress
	var ids []string
	result, err := orch.RunBatch(context.Background(), config.DefaultOptimization(), optimizer.Callbacks{
		Progress: func(current, total int, a datocms.Asset) {
			seen = append(seen, progress{current, total})
			ids = append(ids, a.ID)
		},
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if want := []progress{{1, 4}, {2, 4}, {3, 4}, {4, 4}}; !slices.Equal(seen, want) {
		t.Fatalf("expected progress %v, got %v", want, seen)
	}
	if want := []string{"1", "2", "3", "4"}; !slices.Equal(ids, want) {
		t.Fatalf("expected catalog order %v, got %v", want, ids)
	}

	if result.Optimized != 1 || result.Skipped != 1 || result.Failed != 2 {
		t.Fatalf("unexpected counts: optimized=%d skipped=%d failed=%d", result.Optimized, result.Skipped, result.Failed)
	}
	if result.TotalCandidates != result.Optimized+result.Skipped+result.Failed {
		t.Fatalf("counts do not add up to %d candidates", result.TotalCandidates)
	}
	if reason := result.SkippedAssets[0].Reason; reason != "no_params" {
		t.Fatalf("unexpected skip reason %q", reason)
	}

	if len(result.FailedAssets) != 2 {
		t.Fatalf("expected 2 failed assets, got %d", len(result.FailedAssets))
	}
	if f := result.FailedAssets[0]; f.AssetID != "2" || f.Reason != "transform_fetch" {
		t.Fatalf("unexpected first failure %+v", f)
	}
	if f := result.FailedAssets[1]; f.AssetID != "3" || f.Reason != "upload_slot" || !strings.Contains(f.Error, "unexpected status 500") {
		t.Fatalf("unexpected second failure %+v", f)
	}

	// Only optimized assets count toward byte totals.
	if result.OriginalBytes != 12*mb || result.OptimizedBytes != 3*mb {
		t.Fatalf("unexpected byte totals %d -> %d", result.OriginalBytes, result.OptimizedBytes)
	}

	if !slices.Equal(recorder.positions, []int{0, 1, 2, 3}) {
		t.Fatalf("unexpected recorded positions %v", recorder.positions)
	}
	if len(replacer.calls) != 2 {
		t.Fatalf("expected 2 replacements, got %d", len(replacer.calls))
	}
	if got := replacer.calls[1].sourceURL; got != good.URL+"?fit=max&fm=avif&q=70&w=1920" {
		t.Fatalf("unexpected source url %q", got)
	}
}

func TestRunBatchEmptyCatalog(t *testing.T) {
	orch := newOrchestrator(&fakeCatalog{}, &fakeReplacer{}, &fakeFetcher{})
	var log optimizer.ActivityLog
	result, err := orch.RunBatch(context.Background(), config.DefaultOptimization(), optimizer.Callbacks{Log: log.Append})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if result.TotalCandidates != 0 || result.Optimized+result.Skipped+result.Failed != 0 || result.SavingsPercent() != 0 {
		t.Fatalf("expected an empty result, got %+v", result)
	}
	lines := texts(&log)
	for _, line := range []string{"Found 0 assets larger than 5MB.", "Optimization complete. Optimized: 0, Skipped: 0, Failed: 0"} {
		if !slices.Contains(lines, line) {
			t.Errorf("activity log missing %q", line)
		}
	}
}

func TestRunBatchCatalogFailureAborts(t *testing.T) {
	catalogErr := services.Wrap(services.ErrCatalogFetch, "datocms", "list uploads", "", &services.HTTPStatusError{StatusCode: 401})
	catalog := &fakeCatalog{assets: []datocms.Asset{asset("1", 6*mb, "jpg", 1000)}, err: catalogErr}
	replacer := &fakeReplacer{}
	fetcher := &fakeFetcher{}
	recorder := &fakeRecorder{}
	orch := newOrchestrator(catalog, replacer, fetcher, recorder)

	var log optimizer.ActivityLog
	result, err := orch.RunBatch(context.Background(), config.DefaultOptimization(), optimizer.Callbacks{Log: log.Append})
	if !errors.Is(err, services.ErrCatalogFetch) {
		t.Fatalf("expected catalog fetch error, got %v", err)
	}
	if result != nil {
		t.Fatalf("expected no result, got %+v", result)
	}
	if orch.State() != optimizer.StateAborted {
		t.Fatalf("expected aborted state, got %v", orch.State())
	}
	if len(fetcher.urls) != 0 || len(replacer.calls) != 0 {
		t.Fatalf("expected no asset work, got fetches=%v replacements=%v", fetcher.urls, replacer.calls)
	}

	if recorder.finished == nil || !errors.Is(recorder.runErr, services.ErrCatalogFetch) {
		t.Fatalf("expected recorder to see the abort, got result=%v err=%v", recorder.finished, recorder.runErr)
	}

	lines := texts(&log)
	if last := lines[len(lines)-1]; !strings.HasPrefix(last, "Error during optimization process: ") {
		t.Fatalf("unexpected last line %q", last)
	}
}

func TestRunBatchCountFailureIsNotFatal(t *testing.T) {
	hero := asset("5", 6*mb, "jpg", 1000)
	catalog := &fakeCatalog{assets: []datocms.Asset{hero}, countErr: errors.New("boom")}
	fetcher := &fakeFetcher{renditions: map[string]*optimizer.Rendition{hero.URL: avif(mb)}}
	orch := newOrchestrator(catalog, &fakeReplacer{}, fetcher)

	result, err := orch.RunBatch(context.Background(), config.DefaultOptimization(), optimizer.Callbacks{})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if result.Optimized != 1 || result.ReportedCandidates != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunBatchInvalidSettings(t *testing.T) {
	orch := newOrchestrator(&fakeCatalog{}, &fakeReplacer{}, &fakeFetcher{})
	settings := config.DefaultOptimization()
	settings.QualityLarge = 0
	result, err := orch.RunBatch(context.Background(), settings, optimizer.Callbacks{})
	if !errors.Is(err, services.ErrConfiguration) || result != nil {
		t.Fatalf("expected configuration error and no result, got %v %v", result, err)
	}
}

func TestRunBatchRejectsConcurrentRun(t *testing.T) {
	hero := asset("6", 6*mb, "jpg", 1000)
	fetcher := &fakeFetcher{
		renditions: map[string]*optimizer.Rendition{hero.URL: avif(mb)},
		block:      make(chan struct{}),
		entered:    make(chan struct{}),
	}
	orch := newOrchestrator(&fakeCatalog{assets: []datocms.Asset{hero}}, &fakeReplacer{}, fetcher)

	done := make(chan error, 1)
	go func() {
		_, err := orch.RunBatch(context.Background(), config.DefaultOptimization(), optimizer.Callbacks{})
		done <- err
	}()
	<-fetcher.entered
	if !orch.Running() || orch.State() != optimizer.StateRunning {
		t.Fatalf("expected running orchestrator, got %v", orch.State())
	}

	if _, err := orch.RunBatch(context.Background(), config.DefaultOptimization(), optimizer.Callbacks{}); !errors.Is(err, services.ErrRunInProgress) {
		t.Fatalf("expected run in progress error, got %v", err)
	}

	close(fetcher.block)
	if err := <-done; err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	if orch.Running() {
		t.Fatal("expected orchestrator to be idle after the run")
	}
}

func TestRunBatchCancellationAbortsBetweenAssets(t *testing.T) {
	first := asset("7", 6*mb, "jpg", 1000)
	second := asset("8", 6*mb, "jpg", 1000)
	fetcher := &fakeFetcher{renditions: map[string]*optimizer.Rendition{
		first.URL:  avif(mb),
		second.URL: avif(mb),
	}}
	replacer := &fakeReplacer{}
	recorder := &fakeRecorder{}
	orch := newOrchestrator(&fakeCatalog{assets: []datocms.Asset{first, second}}, replacer, fetcher, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result, err := orch.RunBatch(ctx, config.DefaultOptimization(), optimizer.Callbacks{
		Progress: func(current, _ int, _ datocms.Asset) {
			if current == 1 {
				cancel()
			}
		},
	})
	if !errors.Is(err, context.Canceled) || result != nil {
		t.Fatalf("expected cancellation without a result, got %v %v", result, err)
	}
	if orch.State() != optimizer.StateAborted {
		t.Fatalf("expected aborted state, got %v", orch.State())
	}

	// The asset in flight completes; the next one never starts.
	if len(replacer.calls) != 1 || replacer.calls[0].assetID != "7" {
		t.Fatalf("expected only asset 7 to be replaced, got %+v", replacer.calls)
	}
	if recorder.finished == nil || recorder.finished.TotalCandidates != 1 {
		t.Fatalf("expected recorder to see one processed asset, got %+v", recorder.finished)
	}
}

func TestRunBatchRecorderErrorsDoNotChangeOutcome(t *testing.T) {
	hero := asset("9", 6*mb, "jpg", 1000)
	fetcher := &fakeFetcher{renditions: map[string]*optimizer.Rendition{hero.URL: avif(mb)}}
	recorder := &fakeRecorder{failWith: errors.New("disk full")}
	orch := newOrchestrator(&fakeCatalog{assets: []datocms.Asset{hero}}, &fakeReplacer{}, fetcher, recorder)

	result, err := orch.RunBatch(context.Background(), config.DefaultOptimization(), optimizer.Callbacks{})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if result.Optimized != 1 {
		t.Fatalf("expected recorder failures to be ignored, got %+v", result)
	}
}
