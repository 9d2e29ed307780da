// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package usage is the append-only accounting sink. One record is written
// per routed-and-dispatched request, carrying the model actually used, which
// may be a fallback rather than the decision's primary.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// Record is one accounting entry for a dispatched request.
type Record struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Role            string    `json:"role"`
	RequestedRole   string    `json:"requested_role,omitempty"`
	ModelUsed       string    `json:"model_used"`
	PrimaryModel    string    `json:"primary_model"`
	FallbackDepth   int       `json:"fallback_depth"`
	SnapshotVersion int64     `json:"snapshot_version"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	Success         bool      `json:"success"`
	LatencyMs       int64     `json:"latency_ms"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Sink accepts usage records. Implementations must never fail a request:
// recording problems are logged and swallowed.
type Sink interface {
	Record(rec *Record)
	Recent(limit int) ([]*Record, error)
	Close() error
}

// NopSink discards everything; used when accounting is disabled.
type NopSink struct{}

func (NopSink) Record(*Record)                {}
func (NopSink) Recent(int) ([]*Record, error) { return nil, nil }
func (NopSink) Close() error                  { return nil }

// SQLiteSink persists records to a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLiteSink opens (creating if needed) the usage database at dbPath.
func OpenSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("usage database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create usage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		role TEXT NOT NULL,
		requested_role TEXT,
		model_used TEXT NOT NULL,
		primary_model TEXT NOT NULL,
		fallback_depth INTEGER NOT NULL DEFAULT 0,
		snapshot_version INTEGER NOT NULL DEFAULT 0,
		conversation_id TEXT,
		success BOOLEAN NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create usage schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Record appends one entry. Errors are logged, never propagated.
func (s *SQLiteSink) Record(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO usage_records
		(timestamp, role, requested_role, model_used, primary_model, fallback_depth,
		 snapshot_version, conversation_id, success, latency_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.Role, rec.RequestedRole, rec.ModelUsed, rec.PrimaryModel,
		rec.FallbackDepth, rec.SnapshotVersion, rec.ConversationID,
		rec.Success, rec.LatencyMs, rec.ErrorMessage,
	)
	if err != nil {
		log.WithError(err).Warn("Failed to append usage record")
	}
}

// Recent returns up to limit records, newest first.
func (s *SQLiteSink) Recent(limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, timestamp, role, requested_role, model_used, primary_model,
		       fallback_depth, snapshot_version, conversation_id, success, latency_ms, error_message
		FROM usage_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			rec            Record
			requestedRole  sql.NullString
			conversationID sql.NullString
			errorMessage   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Role, &requestedRole,
			&rec.ModelUsed, &rec.PrimaryModel, &rec.FallbackDepth, &rec.SnapshotVersion,
			&conversationID, &rec.Success, &rec.LatencyMs, &errorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.RequestedRole = requestedRole.String
		rec.ConversationID = conversationID.String
		rec.ErrorMessage = errorMessage.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
