package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/ck3user75233/ck3raven/pkg/ck3err"
)

var errNotFound = ck3err.ErrNotFound

// HashContent returns the content-addressing key used throughout the store:
// the lowercase hex SHA-256 digest of b.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// StoreFileContent inserts the raw bytes of a file keyed by their content
// hash, ignoring the insert if that hash is already present (spec.md §3:
// "file bytes are stored once per content hash, never once per file path").
// text is the decoded form when the file is not binary, or "" otherwise.
func (s *Store) StoreFileContent(ctx context.Context, hash string, blob []byte, text string, isBinary bool, encoding string) error {
	var textArg any
	if text != "" {
		textArg = text
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_contents (content_hash, blob, text, size, encoding_guess, is_binary)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		hash, blob, textArg, len(blob), encoding, boolToInt(isBinary),
	)
	if err != nil {
		return fmt.Errorf("store: store file content %s: %w", hash, err)
	}
	return nil
}

// GetFileContent returns the raw bytes stored under hash.
func (s *Store) GetFileContent(ctx context.Context, hash string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM file_contents WHERE content_hash = ?`, hash,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: content %s: %w", hash, errNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get file content %s: %w", hash, err)
	}
	return blob, nil
}

// UpsertFile records the latest observed fingerprint (mtime, size, hash) for
// relpath within cv, creating the row on first sight and updating it when
// the fingerprint changes (spec.md §4.1 discovery).
func (s *Store) UpsertFile(ctx context.Context, cvID int64, relpath, contentHash string, mtime, size int64, hash string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (cv_id, relpath, content_hash, mtime, size, hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, unixepoch())
		ON CONFLICT(cv_id, relpath) DO UPDATE SET
			content_hash = excluded.content_hash,
			mtime        = excluded.mtime,
			size         = excluded.size,
			hash         = excluded.hash,
			deleted      = 0,
			updated_at   = unixepoch()`,
		cvID, relpath, contentHash, mtime, size, hash,
	)
	if err != nil {
		return 0, fmt.Errorf("store: upsert file %s: %w", relpath, err)
	}
	// ON CONFLICT UPDATE leaves LastInsertId at whatever row this connection
	// inserted last, so the id is always looked up by its unique key.
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM files WHERE cv_id = ? AND relpath = ?`, cvID, relpath,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: lookup file id for %s: %w", relpath, err)
	}
	return id, nil
}

// MarkFileDeleted flags a file row as no longer present on disk without
// removing history (symbols/refs attributed to it are dropped separately by
// the extraction delete-then-insert step).
func (s *Store) MarkFileDeleted(ctx context.Context, cvID int64, relpath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted = 1, updated_at = unixepoch() WHERE cv_id = ? AND relpath = ?`,
		cvID, relpath,
	)
	if err != nil {
		return fmt.Errorf("store: mark file deleted %s: %w", relpath, err)
	}
	return nil
}

// StoreAST persists the decoded AST JSON for (contentHash, parserVersion),
// replacing any row already stored under an older parser version is not
// this function's job: ASTs are partitioned by parser version so a reparse
// after an upgrade lands in a new row (spec.md §4.3).
func (s *Store) StoreAST(ctx context.Context, contentHash, parserVersion string, astJSON []byte, parseOK bool, nodeCount int, diagnostics string) (int64, error) {
	var diagArg any
	if diagnostics != "" {
		diagArg = diagnostics
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO asts (content_hash, parser_version, ast_blob, parse_ok, node_count, diagnostics)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, parser_version) DO UPDATE SET
			ast_blob    = excluded.ast_blob,
			parse_ok    = excluded.parse_ok,
			node_count  = excluded.node_count,
			diagnostics = excluded.diagnostics`,
		contentHash, parserVersion, string(astJSON), boolToInt(parseOK), nodeCount, diagArg,
	)
	if err != nil {
		return 0, fmt.Errorf("store: store ast %s@%s: %w", contentHash, parserVersion, err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM asts WHERE content_hash = ? AND parser_version = ?`, contentHash, parserVersion,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("store: lookup ast id for %s@%s: %w", contentHash, parserVersion, err)
		}
	}
	return id, nil
}

// GetAST returns the stored AST JSON for (contentHash, parserVersion), or
// ck3err.ErrNotFound if no such row exists.
func (s *Store) GetAST(ctx context.Context, contentHash, parserVersion string) ([]byte, error) {
	var blob sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT ast_blob FROM asts WHERE content_hash = ? AND parser_version = ?`,
		contentHash, parserVersion,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: ast %s@%s: %w", contentHash, parserVersion, errNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ast %s@%s: %w", contentHash, parserVersion, err)
	}
	if !blob.Valid {
		return nil, nil
	}
	return []byte(blob.String), nil
}

// GetASTID returns the row id for the stored AST at (contentHash,
// parserVersion), or ck3err.ErrNotFound if no such row exists. Symbols and
// refs reference this id directly, so a worker resuming after a crash needs
// it without re-decoding the AST blob.
func (s *Store) GetASTID(ctx context.Context, contentHash, parserVersion string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM asts WHERE content_hash = ? AND parser_version = ?`,
		contentHash, parserVersion,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("store: ast %s@%s: %w", contentHash, parserVersion, errNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("store: get ast id %s@%s: %w", contentHash, parserVersion, err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
