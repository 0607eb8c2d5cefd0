package optimizer

import (
	"context"
	"time"

	"assetopt/internal/config"
)

// Recorder observes a run. Implementations persist history or export
// metrics; their errors are logged and never change outcomes.
type Recorder interface {
	RunStarted(ctx context.Context, runID string, startedAt time.Time, settings config.Optimization) error
	OutcomeRecorded(ctx context.Context, runID string, position int, outcome Outcome) error
	// RunFinished receives the tally so far; runErr is non-nil when the run aborted.
	RunFinished(ctx context.Context, result *BatchResult, runErr error) error
}
