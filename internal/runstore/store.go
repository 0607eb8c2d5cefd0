package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite"

	"assetopt/internal/config"
)

// Store persists run history in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// timestampLayout keeps stored timestamps fixed-width so they sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrRunNotFound is returned when no run matches an identifier.
var ErrRunNotFound = errors.New("run not found")

// ErrAmbiguousRunID is returned when a short identifier matches several runs.
var ErrAmbiguousRunID = errors.New("run id prefix is ambiguous")

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy[T any](ctx context.Context, op func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyRetryInitialBackoff
	policy.MaxInterval = busyRetryMaxBackoff
	policy.RandomizationFactor = 0
	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !isSQLiteBusy(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(busyRetryAttempts))
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return retryOnBusy(ctx, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, query, args...)
	})
}

// Open connects to the history database configured in cfg, creating it on
// first use.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryDBPath())
}

// OpenPath connects to the history database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	// Connection-scoped pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragma %q: %w", "journal_mode=WAL", err)
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReclaimInterrupted marks runs left in the running state as aborted. Call it
// only while holding the run lock.
func (s *Store) ReclaimInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, finished_at = COALESCE(finished_at, ?), error_message = ?
         WHERE status = ?`,
		RunAborted, now, "interrupted before completion", RunRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes runs that started before cutoff, along with their outcomes.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM runs WHERE started_at < ? AND status != ?`,
		formatTime(cutoff), RunRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(raw sql.NullString) (time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timestampLayout, raw.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw.String, err)
	}
	return parsed, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
