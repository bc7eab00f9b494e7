// Package store provides the SQLite-backed persistence layer shared by
// the task store, conversation store, and per-channel key/value state.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"agentcore/internal/config"
	"agentcore/internal/store/migrations"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// DB wraps a SQLite connection pool with the project's pragma defaults.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite database at path and
// runs pending migrations.
func Open(path string) (*DB, error) {
	expandedPath, err := config.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	// _pragma params are applied to every pooled connection (unlike a
	// one-off db.Exec, which only touches whichever connection serviced
	// it) so WAL + busy_timeout hold even as the pool grows.
	dsn := buildDSN(expandedPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer at a time; a small pool avoids SQLITE_BUSY
	// thrash while WAL mode still lets reads proceed concurrently.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{DB: db, path: expandedPath}, nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &DB{DB: db, path: ":memory:"}, nil
}

func buildDSN(path string) string {
	v := url.Values{}
	v.Set("_pragma", "journal_mode=WAL")
	v.Add("_pragma", "foreign_keys=ON")
	v.Add("_pragma", "busy_timeout=30000") // generous: concurrent sibling completions write often
	v.Add("_pragma", "synchronous=NORMAL") // safe under WAL, cheaper than FULL
	v.Add("_txlock", "immediate")          // fail fast on a write conflict instead of deadlocking
	return path + "?" + v.Encode()
}

// Path returns the database file path ("" for in-memory databases).
func (db *DB) Path() string {
	return db.path
}

// Tx wraps a SQL transaction.
type Tx struct {
	*sql.Tx
}

// Begin starts a new transaction.
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx}, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any returned error.
func (db *DB) WithTx(fn func(*Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
