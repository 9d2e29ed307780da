// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package evaluation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// AuditTrail is the append-only record of evaluation runs, backed by SQLite.
// The hot path never reads it; it exists for the management status surface
// and for operators reconstructing what a refresh cycle did.
type AuditTrail struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenAuditTrail opens (creating if needed) the audit database at dbPath.
func OpenAuditTrail(dbPath string) (*AuditTrail, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("audit database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS evaluation_runs (
		id TEXT PRIMARY KEY,
		trigger_kind TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		discovered TEXT,
		snapshot_version INTEGER,
		succeeded BOOLEAN NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON evaluation_runs(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	return &AuditTrail{db: db}, nil
}

// Append records one finished run. Failures are logged, not propagated: a
// broken audit disk must not fail an otherwise successful evaluation.
func (a *AuditTrail) Append(run *Run) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	discovered, err := json.Marshal(run.Discovered)
	if err != nil {
		discovered = []byte("[]")
	}

	_, err = a.db.Exec(`
		INSERT INTO evaluation_runs
		(id, trigger_kind, mode, started_at, finished_at, discovered, snapshot_version, succeeded, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Trigger), string(run.Mode),
		run.StartedAt, run.FinishedAt, string(discovered),
		run.SnapshotVersion, run.Succeeded, run.Error,
	)
	if err != nil {
		log.WithError(err).WithField("run_id", run.ID).Warn("Failed to append evaluation run to audit trail")
	}
}

// Last returns the most recently started run, or nil when none exist.
func (a *AuditTrail) Last() (*Run, error) {
	runs, err := a.Recent(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// Recent returns up to limit runs, newest first.
func (a *AuditTrail) Recent(limit int) ([]*Run, error) {
	if a == nil {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`
		SELECT id, trigger_kind, mode, started_at, finished_at, discovered, snapshot_version, succeeded, error
		FROM evaluation_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluation runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			run        Run
			trigger    string
			mode       string
			discovered string
		)
		if err := rows.Scan(&run.ID, &trigger, &mode, &run.StartedAt, &run.FinishedAt,
			&discovered, &run.SnapshotVersion, &run.Succeeded, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation run: %w", err)
		}
		run.Trigger = Trigger(trigger)
		run.Mode = Mode(mode)
		if discovered != "" {
			_ = json.Unmarshal([]byte(discovered), &run.Discovered)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Close releases the underlying database handle.
func (a *AuditTrail) Close() error {
	if a == nil {
		return nil
	}
	return a.db.Close()
}
