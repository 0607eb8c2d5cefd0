package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"assetopt/internal/optimizer"
	"assetopt/internal/runstore"
	"assetopt/internal/testsupport"
)

const (
	oldRunID    = "aaaa1111-0000-4000-8000-000000000001"
	recentRunID = "bbbb2222-0000-4000-8000-000000000002"
)

func seedHistory(t *testing.T, env *cliTestEnv) {
	t.Helper()
	store := testsupport.MustOpenStore(t, env.cfg)
	now := time.Now()
	testsupport.RecordRun(t, store, oldRunID, now.AddDate(0, 0, -40),
		optimizer.Outcome{Status: optimizer.StatusOptimized, AssetID: "101", Path: "/1/hero.jpg", OriginalSize: 10 << 20, OptimizedSize: 4 << 20},
		optimizer.Outcome{Status: optimizer.StatusFailed, AssetID: "102", Path: "/1/banner.png", Reason: "transform_fetch", Error: "transform fetch failed: status 502"},
	)
	testsupport.RecordRun(t, store, recentRunID, now.Add(-time.Hour),
		optimizer.Outcome{Status: optimizer.StatusSkipped, AssetID: "101", Path: "/1/hero.jpg", Reason: "insufficient_reduction"},
	)
}

func TestHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No runs recorded")

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty json array, got %q", out)
	}
}

func TestHistoryListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	seedHistory(t, env)

	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "aaaa1111")
	requireContains(t, out, "bbbb2222")
	requireContains(t, out, "2 completed")
	requireContains(t, out, "6.0 MiB (60%)")
	if strings.Index(out, "bbbb2222") > strings.Index(out, "aaaa1111") {
		t.Fatalf("expected newest run first:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"history", "show", "aaaa"}, env.configPath)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "== Run "+oldRunID+" ==")
	requireContains(t, out, "[WARN] completed")
	requireContains(t, out, "optimized 1, skipped 0, failed 1")
	requireContains(t, out, "/1/hero.jpg")
	requireContains(t, out, "transform fetch failed: status 502")

	out, _, err = runCLI(t, []string{"history", "show", "aaaa", "--status", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("history show --status: %v", err)
	}
	requireContains(t, out, "/1/banner.png")
	if strings.Contains(out, "/1/hero.jpg") {
		t.Fatalf("expected optimized outcome filtered out:\n%s", out)
	}

	if _, _, err := runCLI(t, []string{"history", "show", "aaaa", "--status", "bogus"}, env.configPath); err == nil || !strings.Contains(err.Error(), "unknown status") {
		t.Fatalf("expected unknown status error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"history", "show", "zzzz"}, env.configPath); !errors.Is(err, runstore.ErrRunNotFound) {
		t.Fatalf("expected run not found, got %v", err)
	}

	out, _, err = runCLI(t, []string{"history", "asset", "101"}, env.configPath)
	if err != nil {
		t.Fatalf("history asset: %v", err)
	}
	requireContains(t, out, "insufficient_reduction")
	requireContains(t, out, "10.0 MB")
	if strings.Index(out, "bbbb2222") > strings.Index(out, "aaaa1111") {
		t.Fatalf("expected newest outcome first:\n%s", out)
	}
}

func TestHistoryPrune(t *testing.T) {
	env := setupCLITestEnv(t)
	seedHistory(t, env)

	out, _, err := runCLI(t, []string{"history", "prune", "--older-than", "30"}, env.configPath)
	if err != nil {
		t.Fatalf("history prune: %v", err)
	}
	requireContains(t, out, "Pruned 1 run(s)")

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var runs []struct {
		ID string `json:"id"`
	}
	decodeJSON(t, out, &runs)
	if len(runs) != 1 || runs[0].ID != recentRunID {
		t.Fatalf("expected only the recent run to remain, got %+v", runs)
	}

	if _, _, err := runCLI(t, []string{"history", "prune", "--older-than", "0"}, env.configPath); err == nil {
		t.Fatalf("expected zero retention to be rejected")
	}
}
