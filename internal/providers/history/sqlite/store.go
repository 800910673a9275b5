// Package sqlite keeps a local history of sync runs so operators can review
// what past runs did without digging through logs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gh-myio/gcdr-sync/syncer"
)

//go:embed schema.sql
var schemaSQL string

// Run status values.
const (
	StatusConverged = "converged"
	StatusPartial   = "partial"
	StatusAborted   = "aborted"
)

// Store records sync runs in a local SQLite database.
// Uses WAL mode so history queries never block an in-flight write.
type Store struct {
	db *sql.DB
}

type RunRecord struct {
	RunID     string
	Context   string
	Customer  string
	StartedAt time.Time
	Duration  time.Duration
	Succeeded int
	Failed    int
	Skipped   int
	Status    string
	Error     string
}

type FailureRecord struct {
	Kind     string
	SourceID string
	Name     string
	Action   string
	Message  string
}

// Open creates or opens the history database at the given path and applies
// pragmas and schema. Safe to call repeatedly on the same path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	// SQLite supports a single writer; one pooled connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun persists one run and its failure details in a single
// transaction. runErr is the fatal error that aborted the run, if any.
func (s *Store) RecordRun(ctx context.Context, contextName string, customerID string, result syncer.Result, runErr error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	status := StatusConverged
	errorSummary := ""
	switch {
	case runErr != nil:
		status = StatusAborted
		errorSummary = runErr.Error()
	case len(result.Failed) > 0:
		status = StatusPartial
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, context_name, customer_id, started_at, duration_ms, succeeded, failed, skipped, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		contextName,
		customerID,
		result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.Duration.Milliseconds(),
		len(result.Succeeded),
		len(result.Failed),
		len(result.Skipped),
		status,
		errorSummary,
	)
	if err != nil {
		return fmt.Errorf("insert run %q: %w", result.RunID, err)
	}

	for _, outcome := range result.Failed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_failures (run_id, kind, source_id, name, action, message)
			VALUES (?, ?, ?, ?, ?, ?)`,
			result.RunID,
			string(outcome.Action.Kind),
			outcome.Action.SourceID,
			outcome.Action.Name,
			string(outcome.Action.Type),
			outcome.Err,
		)
		if err != nil {
			return fmt.Errorf("insert failure of run %q: %w", result.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history transaction: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, context_name, customer_id, started_at, duration_ms, succeeded, failed, skipped, status, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			record     RunRecord
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(
			&record.RunID,
			&record.Context,
			&record.Customer,
			&startedAt,
			&durationMS,
			&record.Succeeded,
			&record.Failed,
			&record.Skipped,
			&record.Status,
			&record.Error,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		record.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at of run %q: %w", record.RunID, err)
		}
		record.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, record)
	}
	return records, rows.Err()
}

// Failures returns the failure details of one run in insertion order.
func (s *Store) Failures(ctx context.Context, runID string) ([]FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, source_id, name, action, message
		FROM run_failures
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures of run %q: %w", runID, err)
	}
	defer rows.Close()

	var records []FailureRecord
	for rows.Next() {
		var record FailureRecord
		if err := rows.Scan(&record.Kind, &record.SourceID, &record.Name, &record.Action, &record.Message); err != nil {
			return nil, fmt.Errorf("scan failure row: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
