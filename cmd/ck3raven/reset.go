package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/config"
)

// runReset executes the 'reset' command: deletes the database file. The
// --yes flag is required, same confirmation shape as the teacher's own
// reset command.
func runReset(args []string, cfg config.Config, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ck3raven reset --yes

Description:
  WARNING: deletes the SQLite database at the configured db_path,
  including all indexed symbols, refs, ASTs and localization entries.
  Run 'ck3raven init' afterward to recreate an empty schema.

`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*confirm {
		ui.Error("reset requires --yes to confirm this destructive operation")
		os.Exit(1)
	}

	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		ui.Info("no database at %s", cfg.DBPath)
		return
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		path := cfg.DBPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			ui.Warn("remove %s: %v", path, err)
		}
	}

	ui.Success("reset complete: %s deleted", cfg.DBPath)
}
