package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ContentVersion identifies one indexed root: vanilla or a single mod
// package (spec.md §3 "content versions never merge playset state").
type ContentVersion struct {
	ID              int64
	Kind            string
	ModPackageID    sql.NullInt64
	SourcePath      string
	ContentRootHash string
}

// EnsureContentVersion finds or creates the content version for rootHash, a
// content-identity key unique per root (spec.md §4.1; see DESIGN.md for how
// pkg/ipc's seed-time caller derives a provisional hash before any file has
// been walked, versus the full sorted (relpath, content_hash) digest a
// completed discovery pass could recompute to detect "nothing changed").
// sourcePath is denormalized
// onto the row (rather than only reachable via mod_packages) since vanilla
// content versions have no mod_package row at all, and the build worker
// needs one join-free lookup to resolve a file's absolute path (spec.md
// §4.7 "resolve (cv, relpath, source-path, kind) through canonical joins").
func (s *Store) EnsureContentVersion(ctx context.Context, kind string, modPackageID *int64, sourcePath, rootHash string) (int64, error) {
	var mp any
	if modPackageID != nil {
		mp = *modPackageID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_versions (kind, mod_package_id, source_path, content_root_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_root_hash) DO NOTHING`,
		kind, mp, sourcePath, rootHash,
	)
	if err != nil {
		return 0, fmt.Errorf("store: ensure content version %s: %w", rootHash, err)
	}
	// DO NOTHING leaves LastInsertId at whatever row this connection inserted
	// last, so the id is always looked up by its unique key.
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM content_versions WHERE content_root_hash = ?`, rootHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: lookup content version %s: %w", rootHash, err)
	}
	return id, nil
}

// RegisterModPackage finds or creates the mod_packages row for a workshop
// or local mod source path.
func (s *Store) RegisterModPackage(ctx context.Context, name, workshopID, sourcePath string) (int64, error) {
	var wid any
	if workshopID != "" {
		wid = workshopID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mod_packages (name, workshop_id, source_path) VALUES (?, ?, ?)`,
		name, wid, sourcePath,
	)
	if err != nil {
		return 0, fmt.Errorf("store: register mod package %s: %w", name, err)
	}
	return res.LastInsertId()
}

// GetContentVersion looks up a content version by id.
func (s *Store) GetContentVersion(ctx context.Context, id int64) (ContentVersion, error) {
	var cv ContentVersion
	cv.ID = id
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, mod_package_id, source_path, content_root_hash FROM content_versions WHERE id = ?`, id,
	).Scan(&cv.Kind, &cv.ModPackageID, &cv.SourcePath, &cv.ContentRootHash)
	if err == sql.ErrNoRows {
		return ContentVersion{}, fmt.Errorf("store: content version %d: %w", id, errNotFound)
	}
	if err != nil {
		return ContentVersion{}, fmt.Errorf("store: get content version %d: %w", id, err)
	}
	return cv, nil
}

// FindVanillaContentVersion returns the id and source path of the (single)
// vanilla content version, for callers like pkg/ipc's enqueue_files that
// need to resolve a bare relpath without a mod name.
func (s *Store) FindVanillaContentVersion(ctx context.Context) (id int64, sourcePath string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT id, source_path FROM content_versions WHERE kind = 'vanilla' ORDER BY id ASC LIMIT 1`,
	).Scan(&id, &sourcePath)
	if err == sql.ErrNoRows {
		return 0, "", fmt.Errorf("store: vanilla content version: %w", errNotFound)
	}
	if err != nil {
		return 0, "", fmt.Errorf("store: find vanilla content version: %w", err)
	}
	return id, sourcePath, nil
}

// FindModContentVersion returns the id and source path of the content
// version backed by the named mod package.
func (s *Store) FindModContentVersion(ctx context.Context, modName string) (id int64, sourcePath string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT cv.id, cv.source_path
		FROM content_versions cv JOIN mod_packages mp ON mp.id = cv.mod_package_id
		WHERE mp.name = ?
		ORDER BY cv.id ASC LIMIT 1`, modName,
	).Scan(&id, &sourcePath)
	if err == sql.ErrNoRows {
		return 0, "", fmt.Errorf("store: mod content version %q: %w", modName, errNotFound)
	}
	if err != nil {
		return 0, "", fmt.Errorf("store: find mod content version %q: %w", modName, err)
	}
	return id, sourcePath, nil
}

// FileContext is the canonical join result a build worker resolves a
// build-queue row's file_id into before running any steps (spec.md §4.7
// step 3). Relpath and cv_id live only in the files/content_versions
// tables, never denormalized onto the queue itself.
type FileContext struct {
	FileID      int64
	CVID        int64
	Relpath     string
	ContentHash string
	SourcePath  string
	Kind        string
}

// ResolveFileContext joins files -> content_versions for fileID.
func (s *Store) ResolveFileContext(ctx context.Context, fileID int64) (FileContext, error) {
	var fc FileContext
	fc.FileID = fileID
	err := s.db.QueryRowContext(ctx, `
		SELECT f.cv_id, f.relpath, f.content_hash, cv.source_path, cv.kind
		FROM files f JOIN content_versions cv ON cv.id = f.cv_id
		WHERE f.id = ?`, fileID,
	).Scan(&fc.CVID, &fc.Relpath, &fc.ContentHash, &fc.SourcePath, &fc.Kind)
	if err == sql.ErrNoRows {
		return FileContext{}, fmt.Errorf("store: file %d: %w", fileID, errNotFound)
	}
	if err != nil {
		return FileContext{}, fmt.Errorf("store: resolve file context %d: %w", fileID, err)
	}
	return fc, nil
}
