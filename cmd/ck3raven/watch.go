package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/config"
	"github.com/ck3user75233/ck3raven/pkg/discovery"
	"github.com/ck3user75233/ck3raven/pkg/playset"
	"github.com/ck3user75233/ck3raven/pkg/router"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// watchDebounce coalesces a burst of filesystem events into one reindex,
// the same shape cmd/cie's watch command uses.
const watchDebounce = 2 * time.Second

// runWatch executes the 'watch' command: seed content versions from a
// playset, then watch each root for changes and enqueue the changed file
// directly via pkg/discovery.Walker.EnqueueWatched rather than a full walk.
func runWatch(args []string, cfg config.Config, logger *slog.Logger, globals GlobalFlags) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	playsetFlag := fs.String("playset", cfg.PlaysetPath, "Path to the playset manifest")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ck3raven watch --playset FILE

Description:
  Seed content versions from a playset manifest, then watch each root's
  files for changes (fsnotify) and enqueue build-queue work directly for
  whatever changed, debounced by %s.

`, watchDebounce)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *playsetFlag == "" {
		ui.Error("watch requires --playset (or playset_path in config.yaml)")
		os.Exit(1)
	}

	s, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		ui.Error("open database: %v", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx := context.Background()
	roots, err := seedRoots(ctx, s, *playsetFlag)
	if err != nil {
		ui.Error("seed content versions: %v", err)
		os.Exit(1)
	}

	rt, err := router.New()
	if err != nil {
		ui.Error("load router table: %v", err)
		os.Exit(1)
	}
	walker := discovery.New(s, rt, nil, logger)

	ps, err := playset.Load(*playsetFlag)
	if err != nil {
		ui.Error("reload playset: %v", err)
		os.Exit(1)
	}
	cvIDByRoot := make(map[string]int64, len(roots))
	if id, _, err := s.FindVanillaContentVersion(ctx); err == nil {
		cvIDByRoot[ps.VanillaPath] = id
	}
	for _, mod := range ps.EnabledMods() {
		if id, _, err := s.FindModContentVersion(ctx, mod.Name); err == nil {
			cvIDByRoot[mod.Path] = id
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		ui.Error("start fsnotify: %v", err)
		os.Exit(1)
	}
	defer watcher.Close()

	for _, root := range roots {
		addWatchDirs(watcher, root)
	}
	ui.Success("watching %d root(s) from %s", len(roots), *playsetFlag)

	var debounceTimer *time.Timer
	var timerCh <-chan time.Time
	pending := make(map[string]bool)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[event.Name] = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(watchDebounce)
			timerCh = debounceTimer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			ui.Warn("watch: fsnotify error: %v", err)

		case <-timerCh:
			timerCh = nil
			for path := range pending {
				enqueueChangedPath(ctx, walker, cvIDByRoot, path, logger)
			}
			pending = make(map[string]bool)
		}
	}
}

// enqueueChangedPath resolves path to its owning content version's root and
// relpath, then enqueues it directly (spec.md §4.6 "watched-file updates
// bypass a full discovery walk").
func enqueueChangedPath(ctx context.Context, w *discovery.Walker, cvIDByRoot map[string]int64, path string, logger *slog.Logger) {
	for root, cvID := range cvIDByRoot {
		rel, err := filepath.Rel(root, path)
		if err != nil || len(rel) >= 2 && rel[:2] == ".." {
			continue
		}
		if err := w.EnqueueWatched(ctx, cvID, root, filepath.ToSlash(rel)); err != nil {
			logger.Warn("watch.enqueue_error", "path", path, "err", err)
		}
		return
	}
}

var watchSkipDirs = map[string]bool{
	".git": true, "node_modules": true, ".ck3raven": true,
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if watchSkipDirs[base] {
			return filepath.SkipDir
		}
		_ = watcher.Add(path)
		return nil
	})
}
