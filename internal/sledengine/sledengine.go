// Package sledengine is an alternate storage backend behind the same
// engineapi.Engine contract as internal/engine, backed by SQLite rather
// than an append-only log. It exists to give the --engine flag and the
// marker-file mismatch check (spec §6) a real second implementation to
// validate against, per spec §9's "pluggable alternative engine" note.
package sledengine

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arjunroy/kvs/internal/engineapi"
)

const dbFileName = "sled.db"

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Engine is a SQLite-backed implementation of engineapi.Engine. A single
// *sql.DB is shared across all clones; database/sql's connection pool
// already handles concurrent access, so Clone is a cheap no-op wrapper.
type Engine struct {
	db *sql.DB
}

var _ engineapi.Engine = (*Engine)(nil)

// Open opens (creating if necessary) a SQLite database at dir/sled.db.
func Open(dir string) (*Engine, error) {
	path := filepath.Join(dir, dbFileName)

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite database %q: %v", engineapi.ErrLogInit, path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", engineapi.ErrLogInit, err)
	}

	return &Engine{db: db}, nil
}

func (e *Engine) Get(key string) (string, bool, error) {
	var val string

	err := e.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("%w: query %q: %v", engineapi.ErrParser, key, err)
	}

	return val, true, nil
}

func (e *Engine) Set(key, val string) error {
	_, err := e.db.Exec(`INSERT INTO kv(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, val)
	if err != nil {
		return fmt.Errorf("%w: upsert %q: %v", engineapi.ErrLogInit, key, err)
	}

	return nil
}

func (e *Engine) Remove(key string) error {
	res, err := e.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("%w: delete %q: %v", engineapi.ErrLogInit, key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for delete %q: %v", engineapi.ErrLogInit, key, err)
	}

	if n == 0 {
		return engineapi.ErrKeyNotFound
	}

	return nil
}

// Clone returns a handle sharing the same *sql.DB (and therefore its
// connection pool); database/sql is already safe for concurrent use, so
// there is no per-clone state to duplicate.
func (e *Engine) Clone() engineapi.Engine {
	return e
}

func (e *Engine) Close() error {
	return e.db.Close()
}
