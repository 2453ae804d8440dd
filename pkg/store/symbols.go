package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Symbol is one definition extracted from a file's AST (spec.md §4.4).
type Symbol struct {
	ID        int64
	Kind      string
	Name      string
	CVID      int64
	FileID    int64
	ASTID     int64
	Line      int
	Scope     string
	Signature string
}

// Ref is one reference extracted from a file's AST.
type Ref struct {
	ID      int64
	Kind    string
	Name    string
	FileID  int64
	ASTID   int64
	Line    int
	Context string
}

// ReplaceFileSymbolsAndRefs atomically deletes every symbol/ref previously
// attributed to fileID and inserts the freshly extracted set, so a reparse
// never leaves stale entries behind (spec.md §4.4 "extraction is
// delete-then-insert, scoped to one file, inside one transaction").
// Symbols are inserted with INSERT OR IGNORE: the UNIQUE(kind, name, cv_id)
// constraint means the first writer within a content version wins when two
// files define the same scripted object, matching CK3's own "first file
// wins" load order semantics.
func (s *Store) ReplaceFileSymbolsAndRefs(ctx context.Context, fileID int64, symbols []Symbol, refs []Ref) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_id = ?`, fileID); err != nil {
			return fmt.Errorf("store: delete symbols for file %d: %w", fileID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM refs WHERE file_id = ?`, fileID); err != nil {
			return fmt.Errorf("store: delete refs for file %d: %w", fileID, err)
		}

		insSym, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO symbols (kind, name, cv_id, file_id, ast_id, line, scope, signature)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare symbol insert: %w", err)
		}
		defer insSym.Close()

		for _, sym := range symbols {
			var scope, sig any
			if sym.Scope != "" {
				scope = sym.Scope
			}
			if sym.Signature != "" {
				sig = sym.Signature
			}
			if _, err := insSym.ExecContext(ctx, sym.Kind, sym.Name, sym.CVID, fileID, sym.ASTID, sym.Line, scope, sig); err != nil {
				return fmt.Errorf("store: insert symbol %s/%s: %w", sym.Kind, sym.Name, err)
			}
		}

		insRef, err := tx.PrepareContext(ctx, `
			INSERT INTO refs (kind, name, file_id, ast_id, line, context)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare ref insert: %w", err)
		}
		defer insRef.Close()

		for _, r := range refs {
			var ctxArg any
			if r.Context != "" {
				ctxArg = r.Context
			}
			if _, err := insRef.ExecContext(ctx, r.Kind, r.Name, fileID, r.ASTID, r.Line, ctxArg); err != nil {
				return fmt.Errorf("store: insert ref %s/%s: %w", r.Kind, r.Name, err)
			}
		}
		return nil
	})
}

// FindSymbol looks up a definition by kind and name within a content
// version.
func (s *Store) FindSymbol(ctx context.Context, cvID int64, kind, name string) (Symbol, error) {
	var sym Symbol
	var scope, sig sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, cv_id, file_id, ast_id, line, scope, signature
		FROM symbols WHERE cv_id = ? AND kind = ? AND name = ?`,
		cvID, kind, name,
	).Scan(&sym.ID, &sym.Kind, &sym.Name, &sym.CVID, &sym.FileID, &sym.ASTID, &sym.Line, &scope, &sig)
	if err == sql.ErrNoRows {
		return Symbol{}, fmt.Errorf("store: symbol %s/%s: %w", kind, name, errNotFound)
	}
	if err != nil {
		return Symbol{}, fmt.Errorf("store: find symbol %s/%s: %w", kind, name, err)
	}
	sym.Scope, sym.Signature = scope.String, sig.String
	return sym, nil
}

// SearchSymbols runs a full-text search over symbol names via symbols_fts.
func (s *Store) SearchSymbols(ctx context.Context, query string, limit int) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.kind, s.name, s.cv_id, s.file_id, s.ast_id, s.line, s.scope, s.signature
		FROM symbols_fts
		JOIN symbols s ON s.id = symbols_fts.symbol_id
		WHERE symbols_fts MATCH ?
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search symbols %q: %w", query, err)
	}
	defer rows.Close()

	var out []Symbol
	for rows.Next() {
		var sym Symbol
		var scope, sig sql.NullString
		if err := rows.Scan(&sym.ID, &sym.Kind, &sym.Name, &sym.CVID, &sym.FileID, &sym.ASTID, &sym.Line, &scope, &sig); err != nil {
			return nil, fmt.Errorf("store: scan symbol row: %w", err)
		}
		sym.Scope, sym.Signature = scope.String, sig.String
		out = append(out, sym)
	}
	return out, rows.Err()
}
