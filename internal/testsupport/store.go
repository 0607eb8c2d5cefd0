package testsupport

import (
	"context"
	"testing"
	"time"

	"assetopt/internal/config"
	"assetopt/internal/optimizer"
	"assetopt/internal/runstore"
)

// MustOpenStore opens a runstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RecordRun writes a finished run with the given outcomes through the
// recorder interface, exactly as the orchestrator would.
func RecordRun(t testing.TB, store *runstore.Store, runID string, startedAt time.Time, outcomes ...optimizer.Outcome) *optimizer.BatchResult {
	t.Helper()

	ctx := context.Background()
	if err := store.RunStarted(ctx, runID, startedAt, config.DefaultOptimization()); err != nil {
		t.Fatalf("store.RunStarted: %v", err)
	}
	result := &optimizer.BatchResult{RunID: runID, StartedAt: startedAt}
	for i, outcome := range outcomes {
		if err := store.OutcomeRecorded(ctx, runID, i, outcome); err != nil {
			t.Fatalf("store.OutcomeRecorded: %v", err)
		}
		result.TotalCandidates++
		switch outcome.Status {
		case optimizer.StatusOptimized:
			result.Optimized++
			result.OriginalBytes += outcome.OriginalSize
			result.OptimizedBytes += outcome.OptimizedSize
		case optimizer.StatusSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}
	result.FinishedAt = startedAt.Add(time.Minute)
	if err := store.RunFinished(ctx, result, nil); err != nil {
		t.Fatalf("store.RunFinished: %v", err)
	}
	return result
}
