// Package worker implements CK3Raven's build queue worker (spec.md §4.7):
// reclaim expired leases, atomically claim the highest-priority pending
// row, resolve its file context, run its envelope's steps in order, and
// mark it completed or errored.
//
// Grounded on vjache-cie/pkg/ingestion/local_pipeline.go's
// parseFilesParallel (job channel + sync.WaitGroup worker pool, falling
// back to sequential execution below a size threshold) for the N-worker
// pool shape, and on spec.md §9's design note naming `UPDATE ... RETURNING`
// as the atomic-claim primitive (pkg/store.ClaimBuildTask already
// implements it).
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ck3user75233/ck3raven/pkg/ck3err"
	"github.com/ck3user75233/ck3raven/pkg/extract"
	"github.com/ck3user75233/ck3raven/pkg/locfile"
	"github.com/ck3user75233/ck3raven/pkg/metrics"
	"github.com/ck3user75233/ck3raven/pkg/router"
	"github.com/ck3user75233/ck3raven/pkg/script"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// ParserVersion is stamped on every stored AST; bump it when the grammar
// changes so existing rows are treated as stale and reparsed (spec.md §4.3
// "parser evolution invalidates cache naturally").
const ParserVersion = "ck3script-v1"

// leaseSeconds is how long a claimed row's lease lasts before it's eligible
// for reclaim (spec.md §4.7 "e.g., 3 minutes").
const leaseSeconds = 180

// maxReclaims is the cap on reclaim_count before a row is given up on as a
// poison task (spec.md §4.7 step 1).
const maxReclaims = 5

// parseTimeout bounds a single parse attempt (spec.md §4.2 "Timeout /
// isolation"). Parse isolation here is a goroutine plus context timeout,
// not a true OS subprocess/sandbox — CK3Raven is a single Go binary with no
// external interpreter process to shell out to (Open Question decision 5).
// A var, not a const, so tests can shrink it rather than sleep for real
// seconds to exercise the timeout path.
var parseTimeout = 10 * time.Second

// Pool runs N build-queue workers and a shared reclaim loop.
type Pool struct {
	store   *store.Store
	tables  *extract.Tables
	routes  *router.Table
	metrics *metrics.Registry
	logger  *slog.Logger
	owner   string
}

// New builds a Pool. owner identifies this process in lease_owner columns.
func New(s *store.Store, tables *extract.Tables, routes *router.Table, reg *metrics.Registry, logger *slog.Logger, owner string) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{store: s, tables: tables, routes: routes, metrics: reg, logger: logger, owner: owner}
}

// RunBounded runs up to maxItems claims across numWorkers goroutines and
// returns once the queue is drained or the bound is reached — the CLI
// one-shot mode from spec.md §4.7 ("a worker may run either a bounded
// number of items... or continuously").
func (p *Pool) RunBounded(ctx context.Context, numWorkers, maxItems int) (completed, errored int, err error) {
	if numWorkers < 1 {
		numWorkers = 1
	}

	if _, _, rerr := p.store.ReclaimExpiredBuildTasks(ctx, maxReclaims); rerr != nil {
		return 0, 0, fmt.Errorf("worker: reclaim before run: %w", rerr)
	}

	if numWorkers == 1 || maxItems < 10 {
		return p.runSequential(ctx, maxItems)
	}
	return p.runParallel(ctx, numWorkers, maxItems)
}

// RunForever polls the queue continuously, reclaiming expired leases every
// pollInterval and sleeping briefly when the queue is empty.
func (p *Pool) RunForever(ctx context.Context, numWorkers int, pollInterval time.Duration) error {
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			owner := fmt.Sprintf("%s-%d", p.owner, id)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				_, err := p.claimAndRun(ctx, owner)
				if err != nil {
					if !isNotFound(err) {
						p.logger.Error("build.step_error", "err", err)
					}
					select {
					case <-ctx.Done():
						return
					case <-time.After(pollInterval):
					}
				}
			}
		}(i)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			n, poisoned, err := p.store.ReclaimExpiredBuildTasks(ctx, maxReclaims)
			if err != nil {
				p.logger.Warn("build.reclaim_error", "err", err)
				continue
			}
			if n > 0 && p.metrics != nil {
				p.metrics.TasksReclaimed.Add(float64(n))
			}
			if poisoned > 0 {
				p.logger.Warn("build.reclaim_cap_exceeded", "count", poisoned)
				if p.metrics != nil {
					p.metrics.TasksErrored.Add(float64(poisoned))
				}
			}
		}
	}
}

func (p *Pool) runSequential(ctx context.Context, maxItems int) (completed, errored int, err error) {
	for i := 0; i < maxItems; i++ {
		outcome, runErr := p.claimAndRun(ctx, p.owner)
		if runErr != nil {
			if isNotFound(runErr) {
				break
			}
			return completed, errored, runErr
		}
		switch outcome {
		case outcomeCompleted:
			completed++
		case outcomeErrored:
			errored++
		}
	}
	return completed, errored, nil
}

func (p *Pool) runParallel(ctx context.Context, numWorkers, maxItems int) (completed, errored int, err error) {
	jobs := make(chan struct{}, maxItems)
	for i := 0; i < maxItems; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	var completedN, erroredN int32 = 0, 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			owner := fmt.Sprintf("%s-%d", p.owner, id)
			for range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				outcome, runErr := p.claimAndRun(ctx, owner)
				if runErr != nil && isNotFound(runErr) {
					return
				}
				mu.Lock()
				switch {
				case runErr != nil:
					erroredN++
				case outcome == outcomeCompleted:
					completedN++
				case outcome == outcomeErrored:
					erroredN++
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return int(completedN), int(erroredN), nil
}

// outcome classifies what happened to a claimed row, distinct from the
// transport-level error a caller gets back when claiming or recording the
// outcome itself fails.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeErrored
)

// claimAndRun claims one row (if any) and executes it. A non-nil error
// means claiming or outcome-recording itself failed (including queue-empty,
// reported as ck3err.ErrNotFound); the task's own success/failure is
// reported via the returned outcome instead.
func (p *Pool) claimAndRun(ctx context.Context, owner string) (outcome, error) {
	task, err := p.store.ClaimBuildTask(ctx, owner, leaseSeconds)
	if err != nil {
		return outcomeErrored, err
	}
	if p.metrics != nil {
		p.metrics.TasksClaimed.Inc()
	}

	if err := p.execute(ctx, task); err != nil {
		p.logger.Warn("build.task_error", "build_id", task.BuildID, "envelope", task.Envelope, "err", err)
		if p.metrics != nil {
			p.metrics.TasksErrored.Inc()
		}
		step, msg, permanent := classifyError(err)
		if serr := p.store.ErrorBuildTask(ctx, task.BuildID, step, msg, permanent); serr != nil {
			return outcomeErrored, serr
		}
		return outcomeErrored, nil
	}

	if p.metrics != nil {
		p.metrics.TasksCompleted.Inc()
	}
	if err := p.store.CompleteBuildTask(ctx, task.BuildID); err != nil {
		return outcomeErrored, err
	}
	return outcomeCompleted, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ck3err.ErrNotFound)
}

// classifyError attributes a step and message to a failure, and reports
// whether it is permanent (no retry budget to spend, same as exhausting
// MaxBuildRetries) or eligible for the store's retry-with-backoff path.
// ParseTimeoutError and ParseError are always permanent: a slow or
// malformed parse fails the same way again regardless of retries.
// ExtractionError (which also wraps the IOError failures of stepParseLoc)
// is retryable.
func classifyError(err error) (step, message string, permanent bool) {
	var pte *ck3err.ParseTimeoutError
	if errors.As(err, &pte) {
		return "parse", err.Error(), true
	}
	var pe *ck3err.ParseError
	if errors.As(err, &pe) {
		return "parse", err.Error(), true
	}
	var ee *ck3err.ExtractionError
	if errors.As(err, &ee) {
		return ee.Step, err.Error(), false
	}
	return "unknown", err.Error(), false
}

// parseScript and parseLoc are small seams so step functions stay
// testable without constructing a full AST by hand in every test.
var (
	parseScript = script.Parse
	parseLoc    = locfile.Parse
)
