// Package metrics exports run statistics in Prometheus format.
//
// Collectors are held per Registry so tests and concurrent processes never
// share state. The CLI is short-lived, so the usual sink is the node_exporter
// textfile collector written by WriteTextfile after each run.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"assetopt/internal/config"
	"assetopt/internal/optimizer"
	"assetopt/internal/services"
)

const namespace = "assetopt"

// Registry owns the collectors for one process. Each CLI invocation runs at
// most one batch, so outcome and byte figures describe the last run and are
// exported as gauges; they reset when a run starts.
type Registry struct {
	registry *prometheus.Registry

	assets          *prometheus.GaugeVec
	failures        *prometheus.GaugeVec
	originalBytes   prometheus.Gauge
	bytesSaved      prometheus.Gauge
	aborted         prometheus.Gauge
	duration        prometheus.Gauge
	runInProgress   prometheus.Gauge
	lastRun         prometheus.Gauge
	lastCandidates  prometheus.Gauge
	lastSavingsRate prometheus.Gauge
}

var _ optimizer.Recorder = (*Registry)(nil)

// New builds a registry with every assetopt collector registered. When
// withProcess is set, the Go runtime and process collectors are added too.
func New(withProcess bool) *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		assets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_assets",
				Help:      "Assets processed by the last run, by outcome",
			},
			[]string{"outcome"}, // optimized, skipped, failed
		),
		failures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_failures",
				Help:      "Failed assets in the last run, by failure reason",
			},
			[]string{"reason"},
		),
		originalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_original_bytes",
			Help:      "Original size of the assets replaced by the last run in bytes",
		}),
		bytesSaved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_bytes_saved",
			Help:      "Bytes saved by the assets replaced in the last run",
		}),
		aborted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_aborted",
			Help:      "1 if the last run aborted, 0 if it completed",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run in seconds",
		}),
		runInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a run is in progress",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		lastCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_candidates",
			Help:      "Candidates iterated by the last completed run",
		}),
		lastSavingsRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_savings_ratio",
			Help:      "Fraction of original bytes saved by the last completed run",
		}),
	}
	r.registry.MustRegister(
		r.assets,
		r.failures,
		r.originalBytes,
		r.bytesSaved,
		r.aborted,
		r.duration,
		r.runInProgress,
		r.lastRun,
		r.lastCandidates,
		r.lastSavingsRate,
	)
	if withProcess {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Registry) RunStarted(context.Context, string, time.Time, config.Optimization) error {
	r.assets.Reset()
	r.failures.Reset()
	r.originalBytes.Set(0)
	r.bytesSaved.Set(0)
	r.runInProgress.Set(1)
	return nil
}

func (r *Registry) OutcomeRecorded(_ context.Context, _ string, _ int, outcome optimizer.Outcome) error {
	r.assets.WithLabelValues(string(outcome.Status)).Inc()
	switch outcome.Status {
	case optimizer.StatusOptimized:
		r.originalBytes.Add(float64(outcome.OriginalSize))
		if saved := outcome.OriginalSize - outcome.OptimizedSize; saved > 0 {
			r.bytesSaved.Add(float64(saved))
		}
	case optimizer.StatusFailed:
		reason := outcome.Reason
		if reason == "" {
			reason = services.FailureReason(errors.New(outcome.Error))
		}
		r.failures.WithLabelValues(reason).Inc()
	}
	return nil
}

func (r *Registry) RunFinished(_ context.Context, result *optimizer.BatchResult, runErr error) error {
	r.runInProgress.Set(0)
	if runErr != nil {
		r.aborted.Set(1)
	} else {
		r.aborted.Set(0)
	}
	if result == nil {
		return nil
	}
	if d := result.Duration(); d > 0 {
		r.duration.Set(d.Seconds())
	}
	if !result.FinishedAt.IsZero() {
		r.lastRun.Set(float64(result.FinishedAt.Unix()))
	}
	if runErr == nil {
		r.lastCandidates.Set(float64(result.TotalCandidates))
		r.lastSavingsRate.Set(result.SavingsPercent() / 100)
	}
	return nil
}

// WriteTextfile writes the registry in the node_exporter textfile format. The
// file is replaced atomically.
func (r *Registry) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
