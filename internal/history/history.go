// Package history keeps a local ledger of sync runs in SQLite.
//
// Every run, dry or real, is recorded with its per-action outcomes so
// "what did the last sync actually do" is answerable without re-running.
// The ledger is append-only; rows are never updated or deleted by the
// application.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	syncpkg "github.com/jmarchant/cvsync/internal/sync"
)

//go:embed schema.sql
var schemaSQL string

// Ledger is the SQLite-backed run history.
type Ledger struct {
	db *sql.DB
}

// Run is one recorded sync run.
type Run struct {
	ID          int64
	OrcidID     string
	Environment string
	DryRun      bool
	StartedAt   time.Time

	Matched int
	Created int
	Updated int
	Skipped int
	Failed  int
}

// ActionRecord is one recorded per-action outcome within a run.
type ActionRecord struct {
	RunID    int64
	LocalKey string
	Title    string
	Kind     string
	Outcome  string
	Detail   string
	RemoteID string
}

// Open creates or opens the ledger database at path.
//
// The database runs in WAL mode with NORMAL synchronous, a 5-second
// busy timeout, and foreign key enforcement. SQLite allows one writer
// at a time, so the pool is pinned to a single connection. Safe to call
// against an existing ledger; the schema applies idempotently.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to ledger: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
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
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// RecordRun appends a completed run and all its per-action outcomes in
// one transaction, returning the run's ledger id.
func (l *Ledger) RecordRun(ctx context.Context, report syncpkg.RunReport) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(orcid_id, environment, dry_run, started_at, matched, created, updated, skipped, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.OrcidID,
		string(report.Environment),
		report.DryRun,
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		report.MatchedCount,
		report.CreatedCount,
		report.UpdatedCount,
		report.SkippedCount,
		report.FailedCount,
	)
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}

	for _, r := range report.Results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_actions
			(run_id, local_key, title, kind, outcome, detail, remote_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			runID,
			r.Action.Local.Key,
			r.Action.Local.Title,
			string(r.Action.Kind),
			string(r.Outcome),
			r.Detail,
			r.AssignedRemoteID,
		)
		if err != nil {
			return 0, fmt.Errorf("record run action: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record run: commit: %w", err)
	}
	return runID, nil
}

// Runs returns the most recent runs for an identity/environment pair,
// newest first, at most limit rows. A limit of 0 means no cap.
func (l *Ledger) Runs(ctx context.Context, orcidID, environment string, limit int) ([]Run, error) {
	query := `
		SELECT id, orcid_id, environment, dry_run, started_at,
		       matched, created, updated, skipped, failed
		FROM runs
		WHERE orcid_id = ? AND environment = ?
		ORDER BY id DESC
	`
	args := []any{orcidID, environment}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r       Run
			started string
		)
		if err := rows.Scan(&r.ID, &r.OrcidID, &r.Environment, &r.DryRun, &started,
			&r.Matched, &r.Created, &r.Updated, &r.Skipped, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("parse run timestamp %q: %w", started, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Actions returns a run's per-action outcomes in insertion order.
func (l *Ledger) Actions(ctx context.Context, runID int64) ([]ActionRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, local_key, title, kind, outcome, detail, remote_id
		FROM run_actions
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run actions: %w", err)
	}
	defer rows.Close()

	actions := []ActionRecord{}
	for rows.Next() {
		var a ActionRecord
		if err := rows.Scan(&a.RunID, &a.LocalKey, &a.Title, &a.Kind, &a.Outcome, &a.Detail, &a.RemoteID); err != nil {
			return nil, fmt.Errorf("scan run action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run actions: %w", err)
	}
	return actions, nil
}
