package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/config"
)

// runRun executes 'run': discover then build in one invocation, the
// one-shot path spec.md §4.7 describes for a fresh or periodic reindex.
func runRun(args []string, cfg config.Config, logger *slog.Logger, globals GlobalFlags) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	playsetFlag := fs.String("playset", cfg.PlaysetPath, "Path to the playset manifest")
	numWorkers := fs.Int("workers", 4, "Number of concurrent build workers")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ck3raven run --playset FILE

Description:
  Seed and walk content versions from a playset manifest, then drain the
  build queue. Equivalent to 'ck3raven discover' followed by 'ck3raven build'.

`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *playsetFlag == "" {
		ui.Error("run requires --playset (or playset_path in config.yaml)")
		os.Exit(1)
	}

	runDiscover([]string{"--playset", *playsetFlag}, cfg, logger, globals)
	runBuild([]string{"--workers", fmt.Sprint(*numWorkers)}, cfg, logger, globals)
}
