package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"assetopt/internal/config"
	"assetopt/internal/optimizer"
)

var _ optimizer.Recorder = (*Store)(nil)

// RunStarted inserts a run in the running state.
func (s *Store) RunStarted(ctx context.Context, runID string, startedAt time.Time, settings config.Optimization) error {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, status, started_at, settings_json) VALUES (?, ?, ?, ?)`,
		runID, RunRunning, formatTime(startedAt), string(settingsJSON),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// OutcomeRecorded appends one asset outcome to the run.
func (s *Store) OutcomeRecorded(ctx context.Context, runID string, position int, outcome optimizer.Outcome) error {
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO outcomes (
            run_id, position, asset_id, path, url, status,
            original_size, optimized_size, reason, error_message, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		position,
		outcome.AssetID,
		nullableString(outcome.Path),
		nullableString(outcome.URL),
		outcome.Status,
		outcome.OriginalSize,
		outcome.OptimizedSize,
		nullableString(outcome.Reason),
		nullableString(outcome.Error),
		formatTime(s.now()),
	); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// RunFinished stores the final tally. A non-nil runErr marks the run aborted.
func (s *Store) RunFinished(ctx context.Context, result *optimizer.BatchResult, runErr error) error {
	if result == nil {
		return nil
	}
	status := RunCompleted
	errMessage := ""
	if runErr != nil {
		status = RunAborted
		errMessage = runErr.Error()
	}
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE runs
         SET status = ?, finished_at = ?, total_candidates = ?, reported_candidates = ?,
             optimized = ?, skipped = ?, failed = ?, original_bytes = ?, optimized_bytes = ?,
             error_message = ?
         WHERE id = ?`,
		status,
		formatTime(finished),
		result.TotalCandidates,
		result.ReportedCandidates,
		result.Optimized,
		result.Skipped,
		result.Failed,
		result.OriginalBytes,
		result.OptimizedBytes,
		nullableString(errMessage),
		result.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", result.RunID, ErrRunNotFound)
	}
	return nil
}
