// Package discovery implements CK3Raven's fingerprint discovery walk
// (spec.md §4.6): claim one pending discovery task, walk its content
// version's root directory in sorted path order, upsert each file's
// fingerprint, route it, and enqueue build-queue work.
//
// Grounded on vjache-cie/pkg/ingestion/hash_delta.go's HashDeltaDetector:
// the same "load what's stored, diff against what's on disk, log counts"
// shape, targeting the files/build_tasks tables instead of a cie_file
// Datalog relation. The batch-commit size and last_path_processed resume
// column are additions hash_delta.go doesn't need (it has no crash-resume
// requirement) but spec.md §4.6 does.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/ck3user75233/ck3raven/pkg/ck3err"
	"github.com/ck3user75233/ck3raven/pkg/metrics"
	"github.com/ck3user75233/ck3raven/pkg/router"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// batchSize is how many files discovery processes between checkpoints of
// last_path_processed, per spec.md §4.6 ("~500 files"). Each file's rows
// are written as it is processed, not held back for a batch commit.
const batchSize = 500

// Walker performs fingerprint discovery for one content version root.
type Walker struct {
	store   *store.Store
	router  *router.Table
	metrics *metrics.Registry
	logger  *slog.Logger
}

// New builds a Walker. reg may be nil in tests that don't care about
// counters.
func New(s *store.Store, rt *router.Table, reg *metrics.Registry, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{store: s, router: rt, metrics: reg, logger: logger}
}

// RunOne claims one pending discovery task (if any) and walks it to
// completion. The walk covers the claimed content version's own
// source_path; rootDir is walked only when that source path is empty.
// Returns ck3err.ErrNotFound if the discovery queue is empty —
// callers treat that as "nothing to do", not an error condition.
func (w *Walker) RunOne(ctx context.Context, owner, rootDir string, leaseSeconds int) error {
	task, err := w.store.ClaimDiscoveryTask(ctx, owner, leaseSeconds)
	if err != nil {
		return err
	}

	w.logger.Info("discover.claim", "cv_id", task.CVID, "owner", owner)

	cv, err := w.store.GetContentVersion(ctx, task.CVID)
	if err != nil {
		return fmt.Errorf("discover.resolve: %w", err)
	}
	if cv.SourcePath != "" {
		rootDir = cv.SourcePath
	}

	if err := w.walk(ctx, task.CVID, rootDir, task.ID, task.LastPathProcessed); err != nil {
		return fmt.Errorf("discover.walk: %w", err)
	}

	if err := w.store.CompleteDiscoveryTask(ctx, task.ID); err != nil {
		return fmt.Errorf("discover.complete: %w", err)
	}
	w.logger.Info("discover.complete", "cv_id", task.CVID)
	return nil
}

// walk recurses rootDir in sorted path order, skipping any relpath at or
// before resumeFrom (empty string means "start from the top").
func (w *Walker) walk(ctx context.Context, cvID int64, rootDir string, taskID int64, resumeFrom string) error {
	relpaths, err := sortedRelpaths(rootDir)
	if err != nil {
		return fmt.Errorf("discover: walk %s: %w", rootDir, &ck3err.IOError{Path: rootDir, Err: err})
	}

	processed := 0
	for _, relpath := range relpaths {
		if resumeFrom != "" && relpath <= resumeFrom {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.processFile(ctx, cvID, rootDir, relpath); err != nil {
			w.logger.Warn("discover.file_error", "path", relpath, "err", err)
			continue
		}
		processed++

		if processed%batchSize == 0 {
			if err := w.store.UpdateDiscoveryProgress(ctx, taskID, relpath); err != nil {
				return err
			}
			w.logger.Info("discover.batch_commit", "processed", processed, "last_path", relpath)
		}
	}

	if len(relpaths) > 0 {
		if err := w.store.UpdateDiscoveryProgress(ctx, taskID, relpaths[len(relpaths)-1]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) processFile(ctx context.Context, cvID int64, rootDir, relpath string) error {
	fullPath := filepath.Join(rootDir, relpath)
	info, err := os.Stat(fullPath)
	if err != nil {
		return &ck3err.IOError{Path: fullPath, Err: err}
	}

	blob, err := os.ReadFile(fullPath)
	if err != nil {
		return &ck3err.IOError{Path: fullPath, Err: err}
	}

	hash := hashBytes(blob)
	isBinary := looksBinary(blob)
	text := ""
	if !isBinary {
		text = string(blob)
	}

	if err := w.store.StoreFileContent(ctx, hash, blob, text, isBinary, "utf-8"); err != nil {
		return err
	}

	fileID, err := w.store.UpsertFile(ctx, cvID, relpath, hash, info.ModTime().Unix(), info.Size(), hash)
	if err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.FilesDiscovered.Inc()
	}

	env := w.router.Route(relpath)
	if env.Name == "E_SKIP" {
		return nil
	}

	_, err = w.store.EnqueueBuildTask(ctx, store.BuildTask{
		FileID:   fileID,
		Envelope: env.Name,
		MTime:    info.ModTime().Unix(),
		Size:     info.Size(),
		Hash:     hash,
		Priority: 0,
	})
	if err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.TasksEnqueued.Inc()
	}
	return nil
}

// EnqueueWatched enqueues a single changed relpath at flash priority (1),
// the entry point used by a --watch fsnotify handler instead of a full
// tree walk (SPEC_FULL.md §3.5).
func (w *Walker) EnqueueWatched(ctx context.Context, cvID int64, rootDir, relpath string) error {
	fullPath := filepath.Join(rootDir, relpath)
	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return w.store.MarkFileDeleted(ctx, cvID, relpath)
	}
	if err != nil {
		return &ck3err.IOError{Path: fullPath, Err: err}
	}

	blob, err := os.ReadFile(fullPath)
	if err != nil {
		return &ck3err.IOError{Path: fullPath, Err: err}
	}
	hash := hashBytes(blob)
	isBinary := looksBinary(blob)
	text := ""
	if !isBinary {
		text = string(blob)
	}

	if err := w.store.StoreFileContent(ctx, hash, blob, text, isBinary, "utf-8"); err != nil {
		return err
	}
	fileID, err := w.store.UpsertFile(ctx, cvID, relpath, hash, info.ModTime().Unix(), info.Size(), hash)
	if err != nil {
		return err
	}

	env := w.router.Route(relpath)
	if env.Name == "E_SKIP" {
		return nil
	}
	_, err = w.store.EnqueueBuildTask(ctx, store.BuildTask{
		FileID:   fileID,
		Envelope: env.Name,
		MTime:    info.ModTime().Unix(),
		Size:     info.Size(),
		Hash:     hash,
		Priority: 1,
	})
	if w.metrics != nil && err == nil {
		w.metrics.TasksEnqueued.Inc()
	}
	return err
}

func sortedRelpaths(rootDir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// looksBinary applies the same NUL-byte heuristic most content-sniffing
// tools use: legitimate text vanishingly rarely contains a NUL, so a NUL in
// the first 8192 bytes is taken as a reliable binary signal.
func looksBinary(b []byte) bool {
	n := len(b)
	if n > 8192 {
		n = 8192
	}
	for i := 0; i < n; i++ {
		if b[i] == 0 {
			return true
		}
	}
	return false
}
