package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"assetopt/internal/optimizer"
)

const runColumns = "id, status, started_at, finished_at, settings_json, total_candidates, reported_candidates, optimized, skipped, failed, original_bytes, optimized_bytes, error_message"

const outcomeColumns = "run_id, position, asset_id, path, url, status, original_size, optimized_size, reason, error_message, recorded_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		status      string
		startedRaw  sql.NullString
		finishedRaw sql.NullString
		settings    sql.NullString
		errMessage  sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&status,
		&startedRaw,
		&finishedRaw,
		&settings,
		&run.TotalCandidates,
		&run.ReportedCandidates,
		&run.Optimized,
		&run.Skipped,
		&run.Failed,
		&run.OriginalBytes,
		&run.OptimizedBytes,
		&errMessage,
	); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.SettingsJSON = settings.String
	run.ErrorMessage = errMessage.String

	started, err := parseTime(startedRaw)
	if err != nil {
		return nil, err
	}
	run.StartedAt = started
	if finishedRaw.Valid {
		finished, err := parseTime(finishedRaw)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &finished
	}
	return &run, nil
}

func scanOutcome(scanner interface{ Scan(dest ...any) error }) (*OutcomeRecord, error) {
	var (
		rec         OutcomeRecord
		status      string
		path        sql.NullString
		url         sql.NullString
		reason      sql.NullString
		errMessage  sql.NullString
		recordedRaw sql.NullString
	)
	if err := scanner.Scan(
		&rec.RunID,
		&rec.Position,
		&rec.AssetID,
		&path,
		&url,
		&status,
		&rec.OriginalSize,
		&rec.OptimizedSize,
		&reason,
		&errMessage,
		&recordedRaw,
	); err != nil {
		return nil, err
	}
	rec.Status = optimizer.OutcomeStatus(status)
	rec.Path = path.String
	rec.URL = url.String
	rec.Reason = reason.String
	rec.Error = errMessage.String
	recorded, err := parseTime(recordedRaw)
	if err != nil {
		return nil, err
	}
	rec.RecordedAt = recorded
	return &rec, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun resolves a full run id or a unique prefix of one.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrRunNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2`,
		escapeLike(id)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("get run by prefix: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		match, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRunID, id)
	}
}

// ListOutcomes returns a run's outcomes in processing order, optionally
// filtered by status.
func (s *Store) ListOutcomes(ctx context.Context, runID string, statuses ...optimizer.OutcomeStatus) ([]*OutcomeRecord, error) {
	query := `SELECT ` + outcomeColumns + ` FROM outcomes WHERE run_id = ?`
	args := []any{runID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY position`
	return s.queryOutcomes(ctx, query, args...)
}

// AssetHistory returns every recorded outcome for an asset, newest first.
func (s *Store) AssetHistory(ctx context.Context, assetID string) ([]*OutcomeRecord, error) {
	return s.queryOutcomes(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE asset_id = ? ORDER BY recorded_at DESC, position DESC`,
		assetID,
	)
}

func (s *Store) queryOutcomes(ctx context.Context, query string, args ...any) ([]*OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var records []*OutcomeRecord
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Totals aggregates completed runs.
type Totals struct {
	Runs           int   `json:"runs"`
	Optimized      int   `json:"optimized"`
	Skipped        int   `json:"skipped"`
	Failed         int   `json:"failed"`
	OriginalBytes  int64 `json:"original_bytes"`
	OptimizedBytes int64 `json:"optimized_bytes"`
}

// Totals sums every completed run.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(optimized), 0), COALESCE(SUM(skipped), 0), COALESCE(SUM(failed), 0),
                COALESCE(SUM(original_bytes), 0), COALESCE(SUM(optimized_bytes), 0)
         FROM runs WHERE status = ?`,
		RunCompleted,
	).Scan(&t.Runs, &t.Optimized, &t.Skipped, &t.Failed, &t.OriginalBytes, &t.OptimizedBytes)
	if err != nil {
		return Totals{}, fmt.Errorf("run totals: %w", err)
	}
	return t, nil
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
