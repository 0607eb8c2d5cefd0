package notifications

import (
	"context"
	"time"

	"assetopt/internal/config"
	"assetopt/internal/optimizer"
)

// RunRecorder publishes run milestones according to the configured toggles.
type RunRecorder struct {
	svc      Service
	settings config.Notifications
}

var _ optimizer.Recorder = (*RunRecorder)(nil)

// NewRunRecorder wraps svc as an optimizer.Recorder.
func NewRunRecorder(svc Service, settings config.Notifications) *RunRecorder {
	if svc == nil {
		svc = noopService{}
	}
	return &RunRecorder{svc: svc, settings: settings}
}

func (r *RunRecorder) RunStarted(ctx context.Context, runID string, _ time.Time, _ config.Optimization) error {
	if !r.settings.RunStarted {
		return nil
	}
	return r.svc.NotifyRunStarted(ctx, runID)
}

func (r *RunRecorder) OutcomeRecorded(context.Context, string, int, optimizer.Outcome) error {
	return nil
}

func (r *RunRecorder) RunFinished(ctx context.Context, result *optimizer.BatchResult, runErr error) error {
	if runErr != nil {
		if !r.settings.Errors {
			return nil
		}
		return r.svc.NotifyError(ctx, runErr, "optimization run")
	}
	if !r.settings.RunCompleted || result == nil {
		return nil
	}
	return r.svc.NotifyRunCompleted(ctx, RunSummary{
		RunID:          result.RunID,
		Optimized:      result.Optimized,
		Skipped:        result.Skipped,
		Failed:         result.Failed,
		SavedBytes:     result.SavedBytes(),
		SavingsPercent: result.SavingsPercent(),
		Duration:       result.Duration(),
	})
}
