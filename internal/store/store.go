// Package store persists research jobs, fetched documents, embedded chunks
// and answers in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Engine selects the SQLite driver and with it the retrieval capability.
type Engine string

const (
	// EngineSQLiteVec uses mattn/go-sqlite3 with the sqlite-vec extension
	// and answers similarity queries inside the database.
	EngineSQLiteVec Engine = "sqlite-vec"
	// EngineSQLite uses the pure-Go driver without vector functions.
	EngineSQLite Engine = "sqlite"
)

// ErrVectorUnavailable is returned when the sqlite-vec engine is requested
// but the extension is not compiled in.
var ErrVectorUnavailable = errors.New("store: sqlite-vec extension unavailable (build with -tags sqlite_vec)")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS research_jobs (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	top_k       INTEGER NOT NULL DEFAULT 6,
	status      TEXT NOT NULL DEFAULT 'queued',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS source_docs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	checksum    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chunks (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    TEXT NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
	doc_id    INTEGER NOT NULL REFERENCES source_docs(id) ON DELETE CASCADE,
	url       TEXT NOT NULL,
	title     TEXT NOT NULL DEFAULT '',
	text      TEXT NOT NULL,
	tokens    INTEGER NOT NULL DEFAULT 0,
	embedding BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS research_answers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL UNIQUE REFERENCES research_jobs(id) ON DELETE CASCADE,
	markdown   TEXT NOT NULL,
	citations  TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_source_docs_job ON source_docs(job_id);
CREATE INDEX IF NOT EXISTS idx_chunks_job ON chunks(job_id);
`

// timeLayout is used for every timestamp column so both drivers round-trip
// the same representation.
const timeLayout = time.RFC3339Nano

// DB wraps a sql.DB with research-specific operations.
type DB struct {
	conn   *sql.DB
	engine Engine
}

// Open opens (or creates) the database at path with the given engine and
// applies the schema.
func Open(engine Engine, path string) (*DB, error) {
	var (
		driver string
		dsn    string
	)
	switch engine {
	case EngineSQLiteVec:
		if !vecCompiled {
			return nil, ErrVectorUnavailable
		}
		driver, dsn = "sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	case EngineSQLite, "":
		engine = EngineSQLite
		driver, dsn = "sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	default:
		return nil, fmt.Errorf("store: unknown engine %q", engine)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if engine == EngineSQLiteVec {
		var version string
		if err := conn.QueryRow(`SELECT vec_version()`).Scan(&version); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
		}
	}
	return &DB{conn: conn, engine: engine}, nil
}

// VecCompiled reports whether the sqlite-vec engine is available in this
// binary.
func VecCompiled() bool {
	return vecCompiled
}

// Engine returns the engine the database was opened with.
func (db *DB) Engine() Engine {
	return db.engine
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
