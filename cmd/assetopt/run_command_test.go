package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"assetopt/internal/logging"
	"assetopt/internal/runlock"
	"assetopt/internal/services"
	"assetopt/internal/testsupport"
)

const photoRendition = "/img/photo.jpg?fit=max&fm=avif&q=80&w=2560"

func TestRunOptimizesCandidatesAndRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithMetricsTextfile("textfile/assetopt.prom"))

	out, _, err := runCLI(t, []string{"run"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "[1/2] /1/photo.jpg (6.0 MiB)")
	requireContains(t, out, "Found 2 assets larger than 5MB.")
	requireContains(t, out, "Skipping asset /1/logo.svg: No suitable optimization parameters found.")
	requireContains(t, out, "Optimization complete. Optimized: 1, Skipped: 1, Failed: 0")
	requireContains(t, out, "Candidates")

	slots, puts, commits, renditions := env.dato.snapshot()
	if len(slots) != 1 || slots[0] != "photo.png" {
		t.Fatalf("expected one slot for photo.png, got %v", slots)
	}
	if puts != 1 {
		t.Fatalf("expected one storage PUT, got %d", puts)
	}
	if len(commits) != 1 || commits[0] != "101" {
		t.Fatalf("expected commit for asset 101, got %v", commits)
	}
	if len(renditions) != 2 || renditions[0] != photoRendition || renditions[1] != photoRendition {
		t.Fatalf("unexpected rendition requests %v", renditions)
	}

	metrics, err := os.ReadFile(env.cfg.Metrics.Textfile)
	if err != nil {
		t.Fatalf("read metrics textfile: %v", err)
	}
	requireContains(t, string(metrics), "assetopt_last_run_aborted 0")
	requireContains(t, string(metrics), `assetopt_last_run_assets{outcome="optimized"} 1`)
	if strings.Contains(string(metrics), "go_goroutines") {
		t.Fatalf("runtime metrics should be off by default:\n%s", metrics)
	}

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var runs []struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Optimized int    `json:"optimized"`
		Skipped   int    `json:"skipped"`
	}
	decodeJSON(t, out, &runs)
	if len(runs) != 1 || runs[0].Status != "completed" || runs[0].Optimized != 1 || runs[0].Skipped != 1 {
		t.Fatalf("unexpected history %+v", runs)
	}
	if _, err := os.Stat(logging.RunLogPath(env.cfg.Paths.LogDir, runs[0].ID)); err != nil {
		t.Fatalf("expected per-run log: %v", err)
	}
}

func TestRunWritesProcessMetricsWhenEnabled(t *testing.T) {
	env := setupCLITestEnv(t,
		testsupport.WithMetricsTextfile("textfile/assetopt.prom"),
		testsupport.WithProcessCollectors(),
	)

	if _, _, err := runCLI(t, []string{"run", "--json"}, env.configPath); err != nil {
		t.Fatalf("run: %v", err)
	}
	metrics, err := os.ReadFile(env.cfg.Metrics.Textfile)
	if err != nil {
		t.Fatalf("read metrics textfile: %v", err)
	}
	requireContains(t, string(metrics), "go_goroutines")
	requireContains(t, string(metrics), "assetopt_last_run_candidates 2")
}

func TestRunJSONReportsResult(t *testing.T) {
	env := setupCLITestEnv(t)

	out, stderr, err := runCLI(t, []string{"run", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("run --json: %v\n%s", err, stderr)
	}
	var report struct {
		RunID           string `json:"run_id"`
		Optimized       int    `json:"optimized"`
		Skipped         int    `json:"skipped"`
		Failed          int    `json:"failed"`
		TotalCandidates int    `json:"total_candidates"`
		SavedBytes      int64  `json:"saved_bytes"`
		OptimizedAssets []struct {
			ID            string `json:"id"`
			OriginalSize  int64  `json:"original_size"`
			OptimizedSize int64  `json:"optimized_size"`
		} `json:"optimized_assets"`
		SkippedAssets []struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		} `json:"skipped_assets"`
		Activity []struct {
			Text string `json:"text"`
		} `json:"activity"`
	}
	decodeJSON(t, out, &report)
	if report.RunID == "" || report.TotalCandidates != 2 || report.Optimized != 1 || report.Skipped != 1 || report.Failed != 0 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if len(report.OptimizedAssets) != 1 || report.OptimizedAssets[0].ID != "101" || report.OptimizedAssets[0].OriginalSize != 6291456 {
		t.Fatalf("unexpected optimized assets %+v", report.OptimizedAssets)
	}
	if report.SavedBytes != report.OptimizedAssets[0].OriginalSize-report.OptimizedAssets[0].OptimizedSize {
		t.Fatalf("saved bytes %d does not match asset sizes", report.SavedBytes)
	}
	if len(report.SkippedAssets) != 1 || report.SkippedAssets[0].Reason != "no_params" {
		t.Fatalf("unexpected skipped assets %+v", report.SkippedAssets)
	}
	if len(report.Activity) == 0 || report.Activity[0].Text != "Asset optimization process completed!" {
		t.Fatalf("expected newest activity entry first, got %+v", report.Activity)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	env := setupCLITestEnv(t)

	lock, err := runlock.Acquire(env.cfg.LockPath())
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	t.Cleanup(func() { _ = lock.Release() })

	_, _, err = runCLI(t, []string{"run"}, env.configPath)
	if !errors.Is(err, services.ErrRunInProgress) {
		t.Fatalf("expected run in progress error, got %v", err)
	}
	if _, _, commits, _ := env.dato.snapshot(); len(commits) != 0 {
		t.Fatalf("expected no replacements, got %v", commits)
	}
}

func TestRunCatalogFailureShowsAlert(t *testing.T) {
	env := setupCLITestEnv(t)
	env.dato.mu.Lock()
	env.dato.listStatus = http.StatusInternalServerError
	env.dato.mu.Unlock()

	_, stderr, err := runCLI(t, []string{"run"}, env.configPath)
	if !errors.Is(err, services.ErrCatalogFetch) {
		t.Fatalf("expected catalog fetch error, got %v", err)
	}
	var reported reportedError
	if !errors.As(err, &reported) {
		t.Fatalf("expected error to be marked as reported, got %T", err)
	}
	requireContains(t, stderr, "Optimization aborted: ")
	requireContains(t, stderr, "list uploads")
	if slots, _, _, _ := env.dato.snapshot(); len(slots) != 0 {
		t.Fatalf("expected no upload requests, got %v", slots)
	}
}

func TestRunRequiresAPIToken(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithAPIToken(""))

	_, _, err := runCLI(t, []string{"run"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "datocms.api_token is required") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestRunSettingsFileOverridesConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	settings := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(settings, []byte(`{"largeAssetThreshold": 50, "veryLargeAssetThreshold": 0}`), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	out, _, err := runCLI(t, []string{"run", "--settings", settings, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The fake catalog ignores the size filter, so both assets come back but
	// neither reaches the 50MB threshold.
	var report struct {
		Optimized int `json:"optimized"`
		Skipped   int `json:"skipped"`
	}
	decodeJSON(t, out, &report)
	if report.Optimized != 0 || report.Skipped != 2 {
		t.Fatalf("expected both assets skipped, got %+v", report)
	}

	if err := os.WriteFile(settings, []byte(`{"qualityLarge": 0}`), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, _, err := runCLI(t, []string{"run", "--settings", settings}, env.configPath); err == nil {
		t.Fatalf("expected invalid settings to fail")
	}
}

func TestCandidatesListsTransforms(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"candidates", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	requireContains(t, out, `"transform_url": "`+env.dato.server.URL+photoRendition+`"`)
	var views []struct {
		ID        string          `json:"id"`
		Transform *map[string]any `json:"transform"`
	}
	decodeJSON(t, out, &views)
	if len(views) != 2 || views[0].Transform == nil || views[1].Transform != nil {
		t.Fatalf("unexpected candidates %+v", views)
	}

	out, _, err = runCLI(t, []string{"candidates", "--limit", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("candidates table: %v", err)
	}
	requireContains(t, out, "/1/photo.jpg")
	requireContains(t, out, "1 candidates, 1 actionable")
	if strings.Contains(out, "logo.svg") {
		t.Fatalf("expected --limit to stop after one candidate:\n%s", out)
	}

	if _, puts, commits, _ := env.dato.snapshot(); puts != 0 || len(commits) != 0 {
		t.Fatalf("candidates must not write, got %d puts and %v commits", puts, commits)
	}
}

func TestReplaceCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"replace", "101", env.dato.server.URL + "/img/photo.jpg?fm=png"}, env.configPath)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	requireContains(t, out, "Replaced asset 101: /999/photo.jpg")

	slots, _, commits, _ := env.dato.snapshot()
	if len(slots) != 1 || slots[0] != "photo.jpg" || len(commits) != 1 {
		t.Fatalf("unexpected replace calls: slots=%v commits=%v", slots, commits)
	}

	if _, _, err := runCLI(t, []string{"replace", "101"}, env.configPath); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestTestNotify(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications disabled")

	var mu sync.Mutex
	var titles []string
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		titles = append(titles, r.Header.Get("Title"))
		mu.Unlock()
	}))
	t.Cleanup(ntfy.Close)
	env = setupCLITestEnv(t, testsupport.WithNtfyTopic(ntfy.URL+"/assetopt"))

	out, _, err = runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Test notification sent")
	mu.Lock()
	defer mu.Unlock()
	if len(titles) != 1 || titles[0] != "assetopt - Test" {
		t.Fatalf("unexpected notifications %v", titles)
	}
}

func TestHistoryLogShowsRunLog(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"run", "--json"}, env.configPath); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, _, err := runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var runs []struct {
		ID string `json:"id"`
	}
	decodeJSON(t, out, &runs)
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}

	out, _, err = runCLI(t, []string{"history", "log", runs[0].ID[:8], "--lines", "500"}, env.configPath)
	if err != nil {
		t.Fatalf("history log: %v", err)
	}
	requireContains(t, out, "[optimizer]")
	requireContains(t, out, "batch completed")

	out, _, err = runCLI(t, []string{"history", "log", runs[0].ID, "--raw", "--lines", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("history log --raw: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 || !strings.HasPrefix(lines[0], `{"ts":"`) {
		t.Fatalf("expected one raw JSON record, got %q", out)
	}
}
