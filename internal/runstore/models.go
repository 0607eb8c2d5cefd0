package runstore

import (
	"time"

	"assetopt/internal/optimizer"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// Run is one persisted batch.
type Run struct {
	ID                 string     `json:"id"`
	Status             RunStatus  `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	SettingsJSON       string     `json:"settings,omitempty"`
	TotalCandidates    int        `json:"total_candidates"`
	ReportedCandidates int64      `json:"reported_candidates"`
	Optimized          int        `json:"optimized"`
	Skipped            int        `json:"skipped"`
	Failed             int        `json:"failed"`
	OriginalBytes      int64      `json:"original_bytes"`
	OptimizedBytes     int64      `json:"optimized_bytes"`
	ErrorMessage       string     `json:"error,omitempty"`
}

// SavedBytes is the size reduction achieved by the run.
func (r Run) SavedBytes() int64 {
	return r.OriginalBytes - r.OptimizedBytes
}

// SavingsPercent mirrors optimizer.BatchResult.SavingsPercent.
func (r Run) SavingsPercent() float64 {
	if r.OriginalBytes <= 0 {
		return 0
	}
	return float64(r.SavedBytes()) / float64(r.OriginalBytes) * 100
}

// Duration is zero while the run has not finished.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// OutcomeRecord is a persisted per-asset outcome.
type OutcomeRecord struct {
	RunID      string    `json:"run_id"`
	Position   int       `json:"position"`
	RecordedAt time.Time `json:"recorded_at"`
	optimizer.Outcome
}
