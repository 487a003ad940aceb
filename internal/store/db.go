// Package store persists jobs, workers, API keys, and artifacts in
// SQLite, and implements the claim dispatcher's atomic hand-off.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection used by the orchestrator. Claim is
// additionally guarded by claimMu: sqlite serializes writers at the
// connection-pool level, but the claim operation's correctness (at most
// one winner per job) depends on the read-then-update sequence running
// as a single critical section, so a mutex fences it explicitly per the
// design notes' documented fallback.
type Store struct {
	conn    *sql.DB
	claimMu sync.Mutex
}

// Open creates or opens a SQLite database at path, enabling WAL mode and
// foreign keys, and runs migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY under WAL without
	// needing a busy_timeout dance; reads and writes share it safely
	// because database/sql hands the one connection to one caller at a
	// time.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	key_hash      TEXT NOT NULL UNIQUE,
	created_at    DATETIME NOT NULL,
	last_used_at  DATETIME
);

CREATE TABLE IF NOT EXISTS workers (
	id              TEXT PRIMARY KEY,
	hostname        TEXT NOT NULL,
	capacity        INTEGER NOT NULL,
	current_jobs    INTEGER NOT NULL DEFAULT 0,
	last_heartbeat  DATETIME,
	status          TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	source_kind     TEXT NOT NULL,
	source_url      TEXT,
	storage_key     TEXT,
	command         TEXT,
	script          TEXT,
	status          TEXT NOT NULL,
	worker_id       TEXT,
	created_at      DATETIME NOT NULL,
	started_at      DATETIME,
	completed_at    DATETIME,
	exit_code       INTEGER,
	build_minutes   REAL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	path          TEXT NOT NULL,
	size_bytes    INTEGER NOT NULL,
	download_url  TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at, id);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_job ON artifacts(job_id);
CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);
`
	_, err := s.conn.Exec(schema)
	return err
}
