package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/ck3err"
	"github.com/ck3user75233/ck3raven/pkg/config"
	"github.com/ck3user75233/ck3raven/pkg/discovery"
	"github.com/ck3user75233/ck3raven/pkg/playset"
	"github.com/ck3user75233/ck3raven/pkg/router"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// discoveryLeaseSeconds bounds a single discovery task's lease (spec.md
// §4.6); the CLI claims and walks tasks one at a time so a stuck walk never
// holds a lease past this.
const discoveryLeaseSeconds = 600

// seedRoots ensures one content version (and, for mods, one mod_packages
// row) per playset entry and enqueues a discovery task for each, the same
// upsert shape pkg/ipc's enqueue_scan uses, run here directly against the
// store instead of over the wire.
func seedRoots(ctx context.Context, s *store.Store, playsetPath string) ([]string, error) {
	ps, err := playset.Load(playsetPath)
	if err != nil {
		return nil, fmt.Errorf("load playset: %w", err)
	}

	var roots []string

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, ps.VanillaPath, store.HashContent([]byte(ps.VanillaPath)))
	if err != nil {
		return nil, fmt.Errorf("ensure vanilla content version: %w", err)
	}
	if _, err := s.EnqueueDiscoveryTask(ctx, cvID); err != nil {
		return nil, fmt.Errorf("enqueue vanilla discovery: %w", err)
	}
	roots = append(roots, ps.VanillaPath)

	for _, mod := range ps.EnabledMods() {
		modID, err := s.RegisterModPackage(ctx, mod.Name, mod.WorkshopID, mod.Path)
		if err != nil {
			return roots, fmt.Errorf("register mod %s: %w", mod.Name, err)
		}
		modCVID, err := s.EnsureContentVersion(ctx, "mod", &modID, mod.Path, store.HashContent([]byte(mod.Path)))
		if err != nil {
			return roots, fmt.Errorf("ensure content version for mod %s: %w", mod.Name, err)
		}
		if _, err := s.EnqueueDiscoveryTask(ctx, modCVID); err != nil {
			return roots, fmt.Errorf("enqueue discovery for mod %s: %w", mod.Name, err)
		}
		roots = append(roots, mod.Path)
	}

	return roots, nil
}

// runDiscover executes the 'discover' command: seed content versions from a
// playset manifest, then walk every pending discovery task to completion.
func runDiscover(args []string, cfg config.Config, logger *slog.Logger, globals GlobalFlags) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	playsetFlag := fs.String("playset", cfg.PlaysetPath, "Path to the playset manifest")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ck3raven discover --playset FILE

Description:
  Seed a content version per playset entry (vanilla plus each enabled mod,
  in load order) and walk each one's files, fingerprinting and enqueuing
  build-queue work. Does not run the build queue itself; use 'build' or
  'run' for that.

`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *playsetFlag == "" {
		ui.Error("discover requires --playset (or playset_path in config.yaml)")
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
	ui.Info("seeded %d content version(s) from %s", len(roots), *playsetFlag)

	rt, err := router.New()
	if err != nil {
		ui.Error("load router table: %v", err)
		os.Exit(1)
	}
	walker := discovery.New(s, rt, nil, logger)

	owner := hostOwner()
	walked := 0
	for _, root := range roots {
		var bar *progressbar.ProgressBar
		if !globals.Quiet {
			bar = progressbar.NewOptions(-1,
				progressbar.OptionSetDescription("Walking "+root),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSpinnerType(14),
			)
		}
		for {
			if err := walker.RunOne(ctx, owner, root, discoveryLeaseSeconds); err != nil {
				if errors.Is(err, ck3err.ErrNotFound) {
					break
				}
				ui.Warn("discover %s: %v", root, err)
				break
			}
			walked++
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
	}

	ui.Success("discovery complete: %d root(s) walked", walked)
}
