package store

import (
	"context"
	"database/sql"
	"fmt"
)

// BuildTask is one row of the build queue (spec.md §4.7, §5 "two queues").
type BuildTask struct {
	BuildID      int64
	FileID       int64
	Envelope     string
	MTime        int64
	Size         int64
	Hash         string
	Priority     int
	Status       string
	LeaseOwner   string
	RetryCount   int
	ErrorStep    string
	ErrorMessage string
}

// MaxBuildRetries caps how many times a non-permanent build failure
// (extraction or I/O error) is retried before being given up on as a
// permanent error, same as a parse timeout (spec.md §4.7 step 5, §7 "retry
// with exponential backoff up to MAX_RETRIES (≈3), then permanent error").
const MaxBuildRetries = 3

// DiscoveryTask is one row of the discovery queue, one per content version
// being walked.
type DiscoveryTask struct {
	ID                int64
	CVID              int64
	Status            string
	LastPathProcessed string
	LeaseOwner        string
}

// EnqueueBuildTask inserts a pending build task for a file fingerprint, or
// bumps the existing row back to pending (picking up the higher priority
// and newest fingerprint) if one is already queued for the same
// (file_id, envelope, mtime, size, hash) tuple — the dedup key from spec.md
// §4.7 that keeps a --watch rescan from piling up duplicate work.
func (s *Store) EnqueueBuildTask(ctx context.Context, t BuildTask) (int64, error) {
	var hashArg any
	if t.Hash != "" {
		hashArg = t.Hash
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO build_tasks (file_id, envelope, mtime, size, hash, priority, status)
		VALUES (?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(file_id, envelope, mtime, size, COALESCE(hash,'')) DO UPDATE SET
			priority = MAX(build_tasks.priority, excluded.priority),
			status   = CASE WHEN build_tasks.status = 'processing' THEN build_tasks.status ELSE 'pending' END`,
		t.FileID, t.Envelope, t.MTime, t.Size, hashArg, t.Priority,
	)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue build task for file %d: %w", t.FileID, err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		err = s.db.QueryRowContext(ctx, `
			SELECT build_id FROM build_tasks
			WHERE file_id = ? AND envelope = ? AND mtime = ? AND size = ? AND COALESCE(hash,'') = COALESCE(?,'')`,
			t.FileID, t.Envelope, t.MTime, t.Size, hashArg,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("store: lookup build task id: %w", err)
		}
	}
	return id, nil
}

// BuildTaskExists reports whether a build task already matches the dedup
// key EnqueueBuildTask conflicts on, so a caller that needs an
// enqueued-vs-deduped count (pkg/ipc's enqueue_files) can check before
// inserting rather than guess from LastInsertId.
func (s *Store) BuildTaskExists(ctx context.Context, t BuildTask) (bool, error) {
	var hashArg any
	if t.Hash != "" {
		hashArg = t.Hash
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM build_tasks
		WHERE file_id = ? AND envelope = ? AND mtime = ? AND size = ? AND COALESCE(hash,'') = COALESCE(?,'')`,
		t.FileID, t.Envelope, t.MTime, t.Size, hashArg,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: build task exists: %w", err)
	}
	return true, nil
}

// ClaimBuildTask atomically picks the highest-priority pending task (oldest
// first within a priority tier) whose retry backoff (if any) has elapsed,
// and marks it processing under owner, with a lease expiring leaseSeconds
// from now. Returns ck3err.ErrNotFound if the queue is empty.
func (s *Store) ClaimBuildTask(ctx context.Context, owner string, leaseSeconds int) (BuildTask, error) {
	var t BuildTask
	var hash, errStep, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		UPDATE build_tasks SET
			status = 'processing',
			lease_owner = ?,
			lease_expires_at = unixepoch() + ?
		WHERE build_id = (
			SELECT build_id FROM build_tasks
			WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= unixepoch())
			ORDER BY priority DESC, build_id ASC
			LIMIT 1
		)
		RETURNING build_id, file_id, envelope, mtime, size, hash, priority, status, retry_count, error_step, error_message`,
		owner, leaseSeconds,
	).Scan(&t.BuildID, &t.FileID, &t.Envelope, &t.MTime, &t.Size, &hash, &t.Priority, &t.Status, &t.RetryCount, &errStep, &errMsg)
	if err == sql.ErrNoRows {
		return BuildTask{}, fmt.Errorf("store: claim build task: %w", errNotFound)
	}
	if err != nil {
		return BuildTask{}, fmt.Errorf("store: claim build task: %w", err)
	}
	t.Hash, t.ErrorStep, t.ErrorMessage = hash.String, errStep.String, errMsg.String
	t.LeaseOwner = owner
	return t, nil
}

// CompleteBuildTask marks a claimed task as completed.
func (s *Store) CompleteBuildTask(ctx context.Context, buildID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE build_tasks SET status = 'completed', completed_at = unixepoch(), lease_owner = NULL, lease_expires_at = NULL
		WHERE build_id = ?`, buildID)
	if err != nil {
		return fmt.Errorf("store: complete build task %d: %w", buildID, err)
	}
	return nil
}

// ErrorBuildTask records a claimed task's failure, attributing it to a step
// and message (spec.md §7 "errors are attributed to a step, not a bare
// message"). When permanent is false and the task's retry_count is still
// under MaxBuildRetries, the row reverts to pending behind an exponential
// backoff instead of becoming a permanent error (spec.md §7 "retry with
// exponential backoff up to MAX_RETRIES (≈3), then permanent error").
// ParseTimeoutError callers pass permanent=true: a slow parse will time out
// again regardless of retries.
func (s *Store) ErrorBuildTask(ctx context.Context, buildID int64, step, message string, permanent bool) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var retryCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT retry_count FROM build_tasks WHERE build_id = ?`, buildID,
		).Scan(&retryCount); err != nil {
			return fmt.Errorf("store: read retry count for build task %d: %w", buildID, err)
		}

		if !permanent && retryCount < MaxBuildRetries {
			backoffSeconds := 5 << uint(retryCount) // 5s, 10s, 20s
			_, err := tx.ExecContext(ctx, `
				UPDATE build_tasks SET
					status          = 'pending',
					error_step      = ?,
					error_message   = ?,
					retry_count     = retry_count + 1,
					next_attempt_at = unixepoch() + ?,
					lease_owner     = NULL,
					lease_expires_at = NULL
				WHERE build_id = ?`, step, message, backoffSeconds, buildID)
			if err != nil {
				return fmt.Errorf("store: revert build task %d to pending: %w", buildID, err)
			}
			return nil
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE build_tasks SET
				status = 'error',
				error_step = ?,
				error_message = ?,
				retry_count = retry_count + 1,
				lease_owner = NULL,
				lease_expires_at = NULL
			WHERE build_id = ?`, step, message, buildID)
		if err != nil {
			return fmt.Errorf("store: error build task %d: %w", buildID, err)
		}
		return nil
	})
}

// ReclaimExpiredBuildTasks resets any processing task whose lease has
// expired back to pending, incrementing reclaim_count — the mechanism that
// makes a crashed worker's claims recoverable without operator intervention
// (spec.md §5 "crash safety"). A row whose reclaim_count would exceed
// maxReclaims is instead set to status=error (spec.md §4.7 step 1: "rows
// exceeding the cap are set to error") — a task that repeatedly outlives its
// lease is poison, not unlucky, and retrying it forever just starves the
// rest of the queue.
func (s *Store) ReclaimExpiredBuildTasks(ctx context.Context, maxReclaims int) (reclaimed, poisoned int64, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE build_tasks SET
			status           = 'pending',
			lease_owner      = NULL,
			lease_expires_at = NULL,
			reclaim_count    = reclaim_count + 1
		WHERE status = 'processing' AND lease_expires_at < unixepoch() AND reclaim_count + 1 <= ?`,
		maxReclaims)
	if err != nil {
		return 0, 0, fmt.Errorf("store: reclaim expired build tasks: %w", err)
	}
	reclaimed, err = res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("store: reclaim expired build tasks: %w", err)
	}

	res, err = s.db.ExecContext(ctx, `
		UPDATE build_tasks SET
			status           = 'error',
			error_step       = 'reclaim',
			error_message    = 'exceeded maximum reclaim attempts',
			lease_owner      = NULL,
			lease_expires_at = NULL,
			reclaim_count    = reclaim_count + 1
		WHERE status = 'processing' AND lease_expires_at < unixepoch() AND reclaim_count + 1 > ?`,
		maxReclaims)
	if err != nil {
		return reclaimed, 0, fmt.Errorf("store: poison expired build tasks: %w", err)
	}
	poisoned, err = res.RowsAffected()
	if err != nil {
		return reclaimed, 0, fmt.Errorf("store: poison expired build tasks: %w", err)
	}
	return reclaimed, poisoned, nil
}

// QueueCounts returns the number of build tasks in each status, used for
// the pending/processing gauges and the IPC `get_status`/`await_idle`
// responses.
func (s *Store) QueueCounts(ctx context.Context) (pending, processing int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM build_tasks WHERE status = 'pending'),
		(SELECT COUNT(*) FROM build_tasks WHERE status = 'processing')`,
	).Scan(&pending, &processing)
	if err != nil {
		return 0, 0, fmt.Errorf("store: queue counts: %w", err)
	}
	return pending, processing, nil
}

// EnqueueDiscoveryTask creates (or reactivates) the one discovery task for a
// content version.
func (s *Store) EnqueueDiscoveryTask(ctx context.Context, cvID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO discovery_tasks (cv_id, status)
		VALUES (?, 'pending')
		ON CONFLICT(cv_id) DO UPDATE SET
			status = CASE WHEN discovery_tasks.status = 'processing' THEN discovery_tasks.status ELSE 'pending' END,
			updated_at = unixepoch()`,
		cvID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue discovery task for cv %d: %w", cvID, err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		err = s.db.QueryRowContext(ctx, `SELECT id FROM discovery_tasks WHERE cv_id = ?`, cvID).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("store: lookup discovery task id for cv %d: %w", cvID, err)
		}
	}
	return id, nil
}

// ClaimDiscoveryTask atomically claims the oldest pending discovery task.
func (s *Store) ClaimDiscoveryTask(ctx context.Context, owner string, leaseSeconds int) (DiscoveryTask, error) {
	var t DiscoveryTask
	var lastPath sql.NullString
	err := s.db.QueryRowContext(ctx, `
		UPDATE discovery_tasks SET
			status = 'processing',
			lease_owner = ?,
			lease_expires_at = unixepoch() + ?,
			updated_at = unixepoch()
		WHERE id = (
			SELECT id FROM discovery_tasks WHERE status = 'pending' ORDER BY id ASC LIMIT 1
		)
		RETURNING id, cv_id, status, last_path_processed`,
		owner, leaseSeconds,
	).Scan(&t.ID, &t.CVID, &t.Status, &lastPath)
	if err == sql.ErrNoRows {
		return DiscoveryTask{}, fmt.Errorf("store: claim discovery task: %w", errNotFound)
	}
	if err != nil {
		return DiscoveryTask{}, fmt.Errorf("store: claim discovery task: %w", err)
	}
	t.LastPathProcessed = lastPath.String
	t.LeaseOwner = owner
	return t, nil
}

// UpdateDiscoveryProgress records the last relpath a walk finished with, so
// a reclaimed task resumes instead of restarting from the top (spec.md
// §4.5 "resume").
func (s *Store) UpdateDiscoveryProgress(ctx context.Context, id int64, lastPath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE discovery_tasks SET last_path_processed = ?, updated_at = unixepoch() WHERE id = ?`,
		lastPath, id,
	)
	if err != nil {
		return fmt.Errorf("store: update discovery progress %d: %w", id, err)
	}
	return nil
}

// CompleteDiscoveryTask marks a discovery walk as finished.
func (s *Store) CompleteDiscoveryTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE discovery_tasks SET status = 'completed', lease_owner = NULL, lease_expires_at = NULL, updated_at = unixepoch() WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("store: complete discovery task %d: %w", id, err)
	}
	return nil
}

// ReclaimExpiredDiscoveryTasks resets any processing discovery task whose
// lease has expired back to pending.
func (s *Store) ReclaimExpiredDiscoveryTasks(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE discovery_tasks SET
			status = 'pending',
			lease_owner = NULL,
			lease_expires_at = NULL,
			retry_count = retry_count + 1,
			updated_at = unixepoch()
		WHERE status = 'processing' AND lease_expires_at < unixepoch()`)
	if err != nil {
		return 0, fmt.Errorf("store: reclaim expired discovery tasks: %w", err)
	}
	return res.RowsAffected()
}
