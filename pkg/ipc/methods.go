package ipc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/ck3user75233/ck3raven/pkg/ck3err"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

type healthResult struct {
	PID             int         `json:"pid"`
	ProtocolVersion int         `json:"protocol_version"`
	UptimeSeconds   int64       `json:"uptime_seconds"`
	Queue           queueCounts `json:"queue"`
}

type queueCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

func (s *Server) health(ctx context.Context) (any, error) {
	pending, processing, err := s.store.QueueCounts(ctx)
	if err != nil {
		return nil, err
	}
	return healthResult{
		PID:             s.pid,
		ProtocolVersion: ProtocolVersion,
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		Queue:           queueCounts{Pending: pending, Processing: processing},
	}, nil
}

type statusResult struct {
	PID     int         `json:"pid"`
	Uptime  int64       `json:"uptime_seconds"`
	Queue   queueCounts `json:"queue"`
	Metrics any         `json:"metrics,omitempty"`
}

func (s *Server) getStatus(ctx context.Context) (any, error) {
	pending, processing, err := s.store.QueueCounts(ctx)
	if err != nil {
		return nil, err
	}
	res := statusResult{
		PID:    s.pid,
		Uptime: int64(time.Since(s.startedAt).Seconds()),
		Queue:  queueCounts{Pending: pending, Processing: processing},
	}
	if s.metrics != nil {
		s.metrics.QueuePendingGauge.Set(float64(pending))
		s.metrics.QueueProcessingGauge.Set(float64(processing))
		res.Metrics = s.metrics.Snapshot()
	}
	return res, nil
}

type enqueueFilesParams struct {
	Paths    []string `json:"paths"`
	ModName  string   `json:"mod_name"`
	RelPaths []string `json:"rel_paths"`
	Priority int      `json:"priority"`
}

type enqueueFilesResult struct {
	Enqueued int `json:"enqueued"`
	Deduped  int `json:"deduped"`
}

// enqueueFiles resolves each requested relpath against an existing content
// version (by mod name, or the vanilla root when mod_name is empty),
// re-stats and re-hashes it, and enqueues a build task directly — the
// manual "reindex this now" entry point that bypasses a full discovery
// walk (spec.md §4.8). A relpath need not have been discovered yet: it is
// read from disk, upserted into the content version's files and enqueued.
// A relpath that cannot be read is logged and skipped, not an error.
func (s *Server) enqueueFiles(ctx context.Context, raw json.RawMessage) (any, error) {
	var p enqueueFilesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ck3err.BadRequest{Code: "BAD_JSON", Message: err.Error()}
	}
	relpaths := p.RelPaths
	if len(relpaths) == 0 {
		relpaths = p.Paths
	}
	if len(relpaths) == 0 {
		return nil, &ck3err.BadRequest{Code: "BAD_PARAMS", Message: "enqueue_files requires paths or rel_paths"}
	}

	cvID, rootDir, err := s.resolveContentVersion(ctx, p.ModName)
	if err != nil {
		return nil, err
	}

	priority := p.Priority
	res := enqueueFilesResult{}
	for _, relpath := range relpaths {
		enqueued, err := s.enqueueOneFile(ctx, cvID, rootDir, relpath, priority)
		if err != nil {
			s.logger.Warn("ipc.enqueue_file_error", "relpath", relpath, "err", err)
			continue
		}
		if enqueued {
			res.Enqueued++
		} else {
			res.Deduped++
		}
	}
	return res, nil
}

func (s *Server) resolveContentVersion(ctx context.Context, modName string) (cvID int64, rootDir string, err error) {
	if modName == "" {
		return s.store.FindVanillaContentVersion(ctx)
	}
	return s.store.FindModContentVersion(ctx, modName)
}

func (s *Server) enqueueOneFile(ctx context.Context, cvID int64, rootDir, relpath string, priority int) (bool, error) {
	fullPath := filepath.Join(rootDir, relpath)
	blob, mtime, size, err := readFileFingerprint(fullPath)
	if err != nil {
		return false, err
	}

	hash := store.HashContent(blob)
	isBinary := looksBinary(blob)
	text := ""
	if !isBinary {
		text = string(blob)
	}
	if err := s.store.StoreFileContent(ctx, hash, blob, text, isBinary, "utf-8"); err != nil {
		return false, err
	}

	fileID, err := s.store.UpsertFile(ctx, cvID, relpath, hash, mtime, size, hash)
	if err != nil {
		return false, err
	}

	env := s.routes.Route(relpath)
	if env.Name == "E_SKIP" {
		return false, nil
	}

	task := store.BuildTask{FileID: fileID, Envelope: env.Name, MTime: mtime, Size: size, Hash: hash, Priority: priority}
	existed, err := s.store.BuildTaskExists(ctx, task)
	if err != nil {
		return false, err
	}
	if _, err := s.store.EnqueueBuildTask(ctx, task); err != nil {
		return false, err
	}
	if s.metrics != nil && !existed {
		s.metrics.TasksEnqueued.Inc()
	}
	return !existed, nil
}

type enqueueScanParams struct {
	PlaysetFile string `json:"playset_file"`
}

type enqueueScanResult struct {
	Scheduled              int `json:"scheduled"`
	DiscoveryTasksEnqueued int `json:"discovery_tasks_enqueued"`
}

func (s *Server) enqueueScan(ctx context.Context, raw json.RawMessage) (any, error) {
	var p enqueueScanParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &ck3err.BadRequest{Code: "BAD_JSON", Message: err.Error()}
		}
	}
	path := p.PlaysetFile
	if path == "" {
		path = s.playsetPath
	}
	if path == "" {
		return nil, &ck3err.BadRequest{Code: "BAD_PARAMS", Message: "no playset_file given and no default configured"}
	}

	scheduled, enqueued, err := s.seedFromPlayset(ctx, path)
	if err != nil {
		return nil, err
	}
	return enqueueScanResult{Scheduled: scheduled, DiscoveryTasksEnqueued: enqueued}, nil
}

type awaitIdleParams struct {
	TimeoutMS int64 `json:"timeout_ms"`
}

type awaitIdleResult struct {
	Idle         bool  `json:"idle"`
	QueuePending int64 `json:"queue_pending"`
}

// awaitIdle polls QueueCounts until pending+processing reach zero or the
// caller-supplied timeout elapses, returning the state observed at
// whichever came first (spec.md §4.8, §5).
func (s *Server) awaitIdle(ctx context.Context, raw json.RawMessage) (any, error) {
	var p awaitIdleParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &ck3err.BadRequest{Code: "BAD_JSON", Message: err.Error()}
		}
	}
	if p.TimeoutMS <= 0 {
		p.TimeoutMS = 1000
	}

	deadline := time.Now().Add(time.Duration(p.TimeoutMS) * time.Millisecond)
	const pollInterval = 100 * time.Millisecond

	for {
		pending, processing, err := s.store.QueueCounts(ctx)
		if err != nil {
			return nil, err
		}
		if pending+processing == 0 {
			return awaitIdleResult{Idle: true, QueuePending: pending}, nil
		}
		if time.Now().After(deadline) {
			return awaitIdleResult{Idle: false, QueuePending: pending}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

type shutdownParams struct {
	Graceful bool `json:"graceful"`
}

type shutdownResult struct {
	Acknowledged bool `json:"acknowledged"`
}

func (s *Server) shutdownMethod(raw json.RawMessage) (any, error) {
	var p shutdownParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &ck3err.BadRequest{Code: "BAD_JSON", Message: err.Error()}
		}
	}
	return shutdownResult{Acknowledged: true}, nil
}

