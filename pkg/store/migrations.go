package store

import (
	"fmt"
)

// schemaVersion is the current forward-only migration number. Bump this and
// append a migration when the schema changes; migrations never rewrite
// history (spec.md §6 "Migrations are one-way, forward-only").
const schemaVersion = 1

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS db_metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS mod_packages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				name        TEXT NOT NULL,
				workshop_id TEXT,
				source_path TEXT NOT NULL,
				created_at  INTEGER NOT NULL DEFAULT (unixepoch())
			)`,

			`CREATE TABLE IF NOT EXISTS content_versions (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				kind              TEXT NOT NULL CHECK (kind IN ('vanilla','mod')),
				mod_package_id    INTEGER REFERENCES mod_packages(id),
				source_path       TEXT NOT NULL,
				content_root_hash TEXT NOT NULL UNIQUE,
				created_at        INTEGER NOT NULL DEFAULT (unixepoch())
			)`,
			`CREATE INDEX IF NOT EXISTS idx_content_versions_mod_package ON content_versions(mod_package_id)`,

			`CREATE TABLE IF NOT EXISTS file_contents (
				content_hash   TEXT PRIMARY KEY,
				blob           BLOB NOT NULL,
				text           TEXT,
				size           INTEGER NOT NULL,
				encoding_guess TEXT NOT NULL DEFAULT 'utf-8',
				is_binary      INTEGER NOT NULL DEFAULT 0,
				created_at     INTEGER NOT NULL DEFAULT (unixepoch())
			)`,

			`CREATE TABLE IF NOT EXISTS files (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				cv_id         INTEGER NOT NULL REFERENCES content_versions(id),
				relpath       TEXT NOT NULL,
				content_hash  TEXT NOT NULL REFERENCES file_contents(content_hash),
				mtime         INTEGER NOT NULL,
				size          INTEGER NOT NULL,
				hash          TEXT NOT NULL,
				deleted       INTEGER NOT NULL DEFAULT 0,
				updated_at    INTEGER NOT NULL DEFAULT (unixepoch()),
				UNIQUE(cv_id, relpath)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_files_cv ON files(cv_id)`,
			`CREATE INDEX IF NOT EXISTS idx_files_content_hash ON files(content_hash)`,

			`CREATE TABLE IF NOT EXISTS asts (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				content_hash   TEXT NOT NULL REFERENCES file_contents(content_hash),
				parser_version TEXT NOT NULL,
				ast_blob       TEXT,
				ast_format     TEXT NOT NULL DEFAULT 'json',
				parse_ok       INTEGER NOT NULL,
				node_count     INTEGER NOT NULL DEFAULT 0,
				diagnostics    TEXT,
				created_at     INTEGER NOT NULL DEFAULT (unixepoch()),
				UNIQUE(content_hash, parser_version)
			)`,

			`CREATE TABLE IF NOT EXISTS symbols (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				kind       TEXT NOT NULL,
				name       TEXT NOT NULL,
				cv_id      INTEGER NOT NULL REFERENCES content_versions(id),
				file_id    INTEGER NOT NULL REFERENCES files(id),
				ast_id     INTEGER NOT NULL REFERENCES asts(id),
				line       INTEGER NOT NULL,
				scope      TEXT,
				signature  TEXT,
				created_at INTEGER NOT NULL DEFAULT (unixepoch()),
				UNIQUE(kind, name, cv_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id)`,
			`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)`,

			`CREATE TABLE IF NOT EXISTS refs (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				kind              TEXT NOT NULL,
				name              TEXT NOT NULL,
				file_id           INTEGER NOT NULL REFERENCES files(id),
				ast_id            INTEGER NOT NULL REFERENCES asts(id),
				line              INTEGER NOT NULL,
				context           TEXT,
				resolution_status TEXT NOT NULL DEFAULT 'unknown',
				created_at        INTEGER NOT NULL DEFAULT (unixepoch())
			)`,
			`CREATE INDEX IF NOT EXISTS idx_refs_file ON refs(file_id)`,
			`CREATE INDEX IF NOT EXISTS idx_refs_name ON refs(name)`,

			`CREATE TABLE IF NOT EXISTS localization_entries (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				content_hash TEXT NOT NULL REFERENCES file_contents(content_hash),
				language     TEXT NOT NULL,
				key          TEXT NOT NULL,
				version      INTEGER NOT NULL DEFAULT 0,
				raw_value    TEXT NOT NULL,
				plain_value  TEXT NOT NULL,
				line         INTEGER NOT NULL,
				UNIQUE(content_hash, language, key)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_loc_key ON localization_entries(key)`,

			`CREATE TABLE IF NOT EXISTS discovery_tasks (
				id                  INTEGER PRIMARY KEY AUTOINCREMENT,
				cv_id               INTEGER NOT NULL UNIQUE REFERENCES content_versions(id),
				status              TEXT NOT NULL DEFAULT 'pending',
				last_path_processed TEXT,
				lease_owner         TEXT,
				lease_expires_at    INTEGER,
				retry_count         INTEGER NOT NULL DEFAULT 0,
				created_at          INTEGER NOT NULL DEFAULT (unixepoch()),
				updated_at          INTEGER NOT NULL DEFAULT (unixepoch())
			)`,

			`CREATE TABLE IF NOT EXISTS build_tasks (
				build_id         INTEGER PRIMARY KEY AUTOINCREMENT,
				file_id          INTEGER NOT NULL REFERENCES files(id),
				envelope         TEXT NOT NULL,
				mtime            INTEGER NOT NULL,
				size             INTEGER NOT NULL,
				hash             TEXT,
				priority         INTEGER NOT NULL DEFAULT 0,
				status           TEXT NOT NULL DEFAULT 'pending',
				lease_owner      TEXT,
				lease_expires_at INTEGER,
				retry_count      INTEGER NOT NULL DEFAULT 0,
				reclaim_count    INTEGER NOT NULL DEFAULT 0,
				next_attempt_at  INTEGER,
				error_step       TEXT,
				error_message    TEXT,
				created_at       INTEGER NOT NULL DEFAULT (unixepoch()),
				completed_at     INTEGER,
				UNIQUE(file_id, envelope, mtime, size, COALESCE(hash,''))
			)`,
			`CREATE INDEX IF NOT EXISTS idx_build_tasks_claim ON build_tasks(status, priority DESC, build_id ASC)`,
			`CREATE INDEX IF NOT EXISTS idx_build_tasks_lease ON build_tasks(status, lease_expires_at)`,

			// FTS5 virtual tables, synchronized via triggers (spec.md §6).
			`CREATE VIRTUAL TABLE IF NOT EXISTS file_content_fts USING fts5(
				content_hash UNINDEXED, text, content='file_contents', content_rowid='rowid'
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
				name, kind UNINDEXED, symbol_id UNINDEXED
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS refs_fts USING fts5(
				name, kind UNINDEXED, ref_id UNINDEXED
			)`,

			`CREATE TRIGGER IF NOT EXISTS trg_symbols_ai AFTER INSERT ON symbols BEGIN
				INSERT INTO symbols_fts(rowid, name, kind, symbol_id) VALUES (new.id, new.name, new.kind, new.id);
			END`,
			`CREATE TRIGGER IF NOT EXISTS trg_symbols_ad AFTER DELETE ON symbols BEGIN
				DELETE FROM symbols_fts WHERE rowid = old.id;
			END`,
			`CREATE TRIGGER IF NOT EXISTS trg_symbols_au AFTER UPDATE ON symbols BEGIN
				DELETE FROM symbols_fts WHERE rowid = old.id;
				INSERT INTO symbols_fts(rowid, name, kind, symbol_id) VALUES (new.id, new.name, new.kind, new.id);
			END`,

			`CREATE TRIGGER IF NOT EXISTS trg_refs_ai AFTER INSERT ON refs BEGIN
				INSERT INTO refs_fts(rowid, name, kind, ref_id) VALUES (new.id, new.name, new.kind, new.id);
			END`,
			`CREATE TRIGGER IF NOT EXISTS trg_refs_ad AFTER DELETE ON refs BEGIN
				DELETE FROM refs_fts WHERE rowid = old.id;
			END`,

			`CREATE TRIGGER IF NOT EXISTS trg_file_contents_ai AFTER INSERT ON file_contents WHEN new.text IS NOT NULL BEGIN
				INSERT INTO file_content_fts(rowid, content_hash, text) VALUES (new.rowid, new.content_hash, new.text);
			END`,
		},
	},
}

// migrate applies any migration whose version exceeds the schema_version
// recorded in db_metadata, in order, each inside its own transaction.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS db_metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("store.migrate: bootstrap db_metadata: %w", err)
	}

	current := 0
	row := s.db.QueryRow(`SELECT value FROM db_metadata WHERE key = 'schema_version'`)
	var v string
	if err := row.Scan(&v); err == nil {
		fmt.Sscanf(v, "%d", &current)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store.migrate: begin v%d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("store.migrate: v%d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO db_metadata(key, value) VALUES('schema_version', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			fmt.Sprintf("%d", m.version),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("store.migrate: v%d: record version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store.migrate: v%d: commit: %w", m.version, err)
		}
		current = m.version
	}

	if current != schemaVersion {
		return fmt.Errorf("store.migrate: reached version %d, expected %d", current, schemaVersion)
	}
	return nil
}

// SchemaVersion returns the schema_version recorded in db_metadata, or 0 if
// the database has never been migrated.
func (s *Store) SchemaVersion() (int, error) {
	var v string
	row := s.db.QueryRow(`SELECT value FROM db_metadata WHERE key = 'schema_version'`)
	if err := row.Scan(&v); err != nil {
		return 0, nil
	}
	var n int
	fmt.Sscanf(v, "%d", &n)
	return n, nil
}
