// Package journal is a SQLite log of created entities and import failures.
// Entities are written as soon as the store confirms them, which narrows the
// window in which a crash can cause a duplicate creation on resume to the
// gap between the create response and the insert.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entities (
	source_id  TEXT PRIMARY KEY,
	store_id   TEXT NOT NULL,
	level      TEXT NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS failures (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL DEFAULT '',
	shard        INTEGER NOT NULL,
	record_index INTEGER NOT NULL,
	source_id    TEXT NOT NULL DEFAULT '',
	level        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL,
	failed_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_failures_source ON failures(source_id);
`

// Entity is one confirmed creation.
type Entity struct {
	SourceID  string
	StoreID   string
	Level     string
	RunID     string
	CreatedAt time.Time
}

// Failure is one record or asset that could not be imported.
type Failure struct {
	RunID       string
	Shard       int
	RecordIndex int
	SourceID    string
	Level       string
	Error       string
	FailedAt    time.Time
}

// Journal wraps the SQLite connection.
type Journal struct {
	conn *sql.DB
}

// Open opens (or creates) the journal at path and applies the schema.
func Open(path string) (*Journal, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{conn: conn}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.conn.Close()
}

// RecordEntity stores a creation. The first entry for a source id wins.
func (j *Journal) RecordEntity(ctx context.Context, e Entity) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := j.conn.ExecContext(ctx, `
		INSERT INTO entities (source_id, store_id, level, run_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO NOTHING
	`, e.SourceID, e.StoreID, e.Level, e.RunID, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("journal: record entity %s: %w", e.SourceID, err)
	}
	return nil
}

// RecordFailure appends a failure row.
func (j *Journal) RecordFailure(ctx context.Context, f Failure) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now()
	}
	_, err := j.conn.ExecContext(ctx, `
		INSERT INTO failures (run_id, shard, record_index, source_id, level, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.RunID, f.Shard, f.RecordIndex, f.SourceID, f.Level, f.Error, f.FailedAt.UTC())
	if err != nil {
		return fmt.Errorf("journal: record failure: %w", err)
	}
	return nil
}

// Entities returns every journaled creation in insertion order.
func (j *Journal) Entities(ctx context.Context) ([]Entity, error) {
	rows, err := j.conn.QueryContext(ctx, `
		SELECT source_id, store_id, level, run_id, created_at
		FROM entities ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("journal: list entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.SourceID, &e.StoreID, &e.Level, &e.RunID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Failures returns failure rows, newest first. limit <= 0 returns all.
func (j *Journal) Failures(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.conn.QueryContext(ctx, `
		SELECT run_id, shard, record_index, source_id, level, error, failed_at
		FROM failures ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.RunID, &f.Shard, &f.RecordIndex, &f.SourceID, &f.Level, &f.Error, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("journal: scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Reset clears the entity table. Failures are kept for reprocessing.
func (j *Journal) Reset(ctx context.Context) error {
	if _, err := j.conn.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("journal: reset: %w", err)
	}
	return nil
}
