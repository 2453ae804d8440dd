// Package store implements CK3Raven's content-addressed SQLite store: file
// bytes, ASTs, symbols, refs, localization entries, and the two work queues
// (spec.md §3, §4.3, §6). It is grounded on the teacher's storage wrapper
// (pkg/storage/embedded.go: Open/Close/Query/Execute around a database
// handle) adapted from CozoDB's Datalog mutation API onto database/sql with
// modernc.org/sqlite, and on theRebelliousNerd-codenerd's
// internal/store/local_core.go for the WAL/busy_timeout/synchronous pragmas
// a single-writer daemon needs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store owns the single SQLite connection used by the CK3Raven daemon.
// Per spec.md §5 ("Writer identity"), only one process writes to this
// database at a time; Store enforces a single physical connection
// (SetMaxOpenConns(1)) the same way LocalStore does, since SQLite's WAL
// mode still serializes writers and a pool of connections just adds
// contention without concurrency.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// Open creates the database file's directory if needed, opens a
// modernc.org/sqlite connection, applies WAL/busy_timeout/synchronous
// pragmas, and runs schema migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store.open: create dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store.open: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store.open", "path", path)
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Info("store.close", "path", s.path)
	return s.db.Close()
}

// DB returns the underlying handle for components (migrations, ad-hoc
// admin queries) that need direct access.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any returned error — the shape every multi-statement operation
// in this package (extraction's delete-then-insert, ErrorBuildTask's
// read-then-update) uses. Queue claims are single UPDATE ... RETURNING
// statements and do not go through it.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
