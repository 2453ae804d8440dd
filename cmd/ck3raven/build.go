package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/config"
	"github.com/ck3user75233/ck3raven/pkg/extract"
	"github.com/ck3user75233/ck3raven/pkg/metrics"
	"github.com/ck3user75233/ck3raven/pkg/router"
	"github.com/ck3user75233/ck3raven/pkg/store"
	"github.com/ck3user75233/ck3raven/pkg/worker"
)

// drainBound caps the --max-items default used for "drain the whole
// queue": larger than any realistic single playset's file count, small
// enough that runParallel's per-item jobs channel stays cheap.
const drainBound = 1 << 20

// runBuild executes the 'build' command: drain the build queue, parsing and
// extracting symbols/refs for each claimed task (spec.md §4.7). One-shot by
// default; --continuous polls the queue the way pkg/worker.RunForever does.
func runBuild(args []string, cfg config.Config, logger *slog.Logger, globals GlobalFlags) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	numWorkers := fs.Int("workers", 4, "Number of concurrent build workers")
	maxItems := fs.Int("max-items", 0, "Stop after this many items (0 = drain the whole queue)")
	continuous := fs.Bool("continuous", false, "Keep polling the queue instead of exiting once it's drained")
	pollInterval := fs.Duration("poll-interval", 2*time.Second, "Poll interval in --continuous mode")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ck3raven build [options]

Description:
  Claim build-queue tasks and run their envelope's steps (parse, extract
  symbols/refs, resolve localization). Exits once the queue is empty unless
  --continuous is given.

`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	s, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		ui.Error("open database: %v", err)
		os.Exit(1)
	}
	defer s.Close()

	rt, err := router.New()
	if err != nil {
		ui.Error("load router table: %v", err)
		os.Exit(1)
	}
	tables, err := extract.Load()
	if err != nil {
		ui.Error("load extraction tables: %v", err)
		os.Exit(1)
	}
	reg := metrics.New()
	pool := worker.New(s, tables, rt, reg, logger, hostOwner())

	ctx := context.Background()
	if *continuous {
		ui.Info("build: polling continuously (ctrl-c to stop)")
		if err := pool.RunForever(ctx, *numWorkers, *pollInterval); err != nil {
			ui.Error("build: %v", err)
			os.Exit(1)
		}
		return
	}

	items := *maxItems
	if items <= 0 {
		// drainBound is larger than any realistic single-run queue depth;
		// RunBounded still stops as soon as a claim finds the queue empty.
		items = drainBound
	}

	var bar *progressbar.ProgressBar
	if !globals.Quiet {
		if pending, _, perr := s.QueueCounts(ctx); perr == nil && pending > 0 {
			bar = progressbar.NewOptions64(pending,
				progressbar.OptionSetDescription("Building"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
			)
			stop := make(chan struct{})
			defer close(stop)
			go pollQueueProgress(ctx, s, bar, pending, stop)
		}
	}

	completed, errored, err := pool.RunBounded(ctx, *numWorkers, items)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		ui.Error("build: %v", err)
		os.Exit(1)
	}
	ui.Success("build complete: %d completed, %d errored", completed, errored)
}

// pollQueueProgress advances bar as the pending count falls, since
// pkg/worker.Pool has no per-item completion callback to hook directly.
func pollQueueProgress(ctx context.Context, s *store.Store, bar *progressbar.ProgressBar, initialPending int64, stop <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pending, _, err := s.QueueCounts(ctx)
			if err != nil {
				continue
			}
			done := initialPending - pending
			if done < 0 {
				done = 0
			}
			_ = bar.Set64(done)
		}
	}
}
