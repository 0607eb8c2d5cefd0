package optimizer

import "time"

// OutcomeStatus is the terminal state of one asset in a batch.
type OutcomeStatus string

const (
	StatusOptimized OutcomeStatus = "optimized"
	StatusSkipped   OutcomeStatus = "skipped"
	StatusFailed    OutcomeStatus = "failed"
)

// Outcome records what happened to a single asset. Sizes are set only for
// optimized assets; Reason explains skips and failures.
type Outcome struct {
	Status        OutcomeStatus `json:"status"`
	AssetID       string        `json:"id"`
	Path          string        `json:"path"`
	URL           string        `json:"url"`
	OriginalSize  int64         `json:"original_size,omitempty"`
	OptimizedSize int64         `json:"optimized_size,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// BatchResult aggregates a completed run. Optimized+Skipped+Failed always
// equals TotalCandidates, the number of assets actually iterated.
type BatchResult struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Optimized       int       `json:"optimized"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	TotalCandidates int       `json:"total_candidates"`
	// ReportedCandidates is the server's total_count, kept for display only.
	ReportedCandidates int64     `json:"reported_candidates"`
	OptimizedAssets    []Outcome `json:"optimized_assets"`
	SkippedAssets      []Outcome `json:"skipped_assets"`
	FailedAssets       []Outcome `json:"failed_assets"`
	// OriginalBytes and OptimizedBytes sum over optimized assets only.
	OriginalBytes  int64 `json:"original_bytes"`
	OptimizedBytes int64 `json:"optimized_bytes"`
}

// SavedBytes is the total size reduction of optimized assets.
func (r *BatchResult) SavedBytes() int64 {
	return r.OriginalBytes - r.OptimizedBytes
}

// SavingsPercent is the total reduction relative to the optimized assets' original size.
func (r *BatchResult) SavingsPercent() float64 {
	return savingsPercent(r.OriginalBytes, r.OptimizedBytes)
}

// Duration is the wall time of the run.
func (r *BatchResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *BatchResult) record(outcome Outcome) {
	r.TotalCandidates++
	switch outcome.Status {
	case StatusOptimized:
		r.Optimized++
		r.OptimizedAssets = append(r.OptimizedAssets, outcome)
		r.OriginalBytes += outcome.OriginalSize
		r.OptimizedBytes += outcome.OptimizedSize
	case StatusSkipped:
		r.Skipped++
		r.SkippedAssets = append(r.SkippedAssets, outcome)
	default:
		r.Failed++
		r.FailedAssets = append(r.FailedAssets, outcome)
	}
}
