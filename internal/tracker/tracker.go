// Package tracker maintains the durable ledger of indexed source documents.
// A document is reprocessed only when its content fingerprint changed or its
// last attempt did not succeed.
package tracker

import (
	"database/sql"
	"fmt"
	"time"
)

// Statuses recorded in the ledger.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Record is one ledger entry, keyed by document path.
type Record struct {
	Filepath     string
	Fingerprint  string
	IndexedAt    time.Time
	ChunkCount   int
	Status       string
	ErrorMessage string
}

// Tracker reads and writes the indexed_files table.
type Tracker struct {
	db *sql.DB
}

// New wraps an existing *sql.DB for ledger operations.
// The indexed_files table must already exist (created via migrations).
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// ShouldProcess reports whether the document at path needs (re)processing.
// It returns false only when the stored fingerprint matches and the last
// attempt succeeded; unknown paths and failed attempts always process.
func (t *Tracker) ShouldProcess(path, fingerprint string) (bool, error) {
	var storedFingerprint, status string
	err := t.db.QueryRow(
		"SELECT fingerprint, status FROM indexed_files WHERE filepath = ?", path,
	).Scan(&storedFingerprint, &status)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading ledger for %s: %w", path, err)
	}
	return storedFingerprint != fingerprint || status != StatusSuccess, nil
}

// RecordSuccess overwrites the ledger entry for path with a success outcome.
func (t *Tracker) RecordSuccess(path, fingerprint string, chunkCount int) error {
	_, err := t.db.Exec(`
		INSERT OR REPLACE INTO indexed_files (filepath, fingerprint, indexed_at, chunk_count, status, error_message)
		VALUES (?, ?, ?, ?, ?, NULL)`,
		path, fingerprint, time.Now().UTC().Format(time.RFC3339), chunkCount, StatusSuccess,
	)
	if err != nil {
		return fmt.Errorf("recording success for %s: %w", path, err)
	}
	return nil
}

// RecordError overwrites the ledger entry for path with an error outcome.
// The non-success status guarantees a retry on the next run regardless of
// fingerprint.
func (t *Tracker) RecordError(path, fingerprint, message string) error {
	_, err := t.db.Exec(`
		INSERT OR REPLACE INTO indexed_files (filepath, fingerprint, indexed_at, chunk_count, status, error_message)
		VALUES (?, ?, ?, 0, ?, ?)`,
		path, fingerprint, time.Now().UTC().Format(time.RFC3339), StatusError, message,
	)
	if err != nil {
		return fmt.Errorf("recording error for %s: %w", path, err)
	}
	return nil
}

// Reset clears all ledger entries. Used by the full-reindex trigger.
func (t *Tracker) Reset() error {
	if _, err := t.db.Exec("DELETE FROM indexed_files"); err != nil {
		return fmt.Errorf("resetting ledger: %w", err)
	}
	return nil
}

// Get returns the ledger entry for path.
func (t *Tracker) Get(path string) (Record, error) {
	var r Record
	var indexedAt string
	var errMsg sql.NullString
	err := t.db.QueryRow(`
		SELECT filepath, fingerprint, indexed_at, chunk_count, status, error_message
		FROM indexed_files WHERE filepath = ?`, path,
	).Scan(&r.Filepath, &r.Fingerprint, &indexedAt, &r.ChunkCount, &r.Status, &errMsg)
	if err == sql.ErrNoRows {
		return Record{}, sql.ErrNoRows
	}
	if err != nil {
		return Record{}, err
	}
	if t, err := time.Parse(time.RFC3339, indexedAt); err == nil {
		r.IndexedAt = t
	}
	r.ErrorMessage = errMsg.String
	return r, nil
}

// StatusCount aggregates ledger entries per status.
type StatusCount struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// Stats returns per-status file and chunk counts.
func (t *Tracker) Stats() (map[string]StatusCount, error) {
	rows, err := t.db.Query(`
		SELECT status, COUNT(*), COALESCE(SUM(chunk_count), 0)
		FROM indexed_files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]StatusCount)
	for rows.Next() {
		var status string
		var sc StatusCount
		if err := rows.Scan(&status, &sc.Files, &sc.Chunks); err != nil {
			return nil, err
		}
		stats[status] = sc
	}
	return stats, rows.Err()
}
