// Package logging assembles structured slog loggers and formatting helpers used
// across assetopt.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so batch code can tag log lines
// with run and asset identifiers. Each batch run can additionally tee its events
// into a JSON file under <log_dir>/runs, pruned alongside run history. The
// package also provides a no-op logger for tests and wiring code that cannot fail.
package logging
