package preflight

import (
	"context"
	"path/filepath"
	"strings"

	"assetopt/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every check that applies to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if textfile := strings.TrimSpace(cfg.Metrics.Textfile); textfile != "" {
		results = append(results, CheckDirectoryAccess("Metrics directory", filepath.Dir(textfile)))
	}
	results = append(results, CheckDatoCMS(ctx, cfg.DatoCMS))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
