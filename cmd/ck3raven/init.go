package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/config"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// runInit creates the database file and applies the schema migrations,
// mirroring the teacher's init command's "create the thing you'll index
// into before anything else runs" role, but store.Open's migrate() does
// the schema work here rather than writing a YAML config.
func runInit(args []string, cfg config.Config, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ck3raven init [options]

Description:
  Create the SQLite database at the configured db_path and apply schema
  migrations. Safe to run again: an existing, current-schema database is
  left untouched.

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if dir := parentDir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			ui.Error("create %s: %v", dir, err)
			os.Exit(1)
		}
	}

	s, err := store.Open(cfg.DBPath, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		ui.Error("open database: %v", err)
		os.Exit(1)
	}
	defer s.Close()

	version, err := s.SchemaVersion()
	if err != nil {
		ui.Error("read schema version: %v", err)
		os.Exit(1)
	}

	ui.Success("database ready at %s (schema v%d)", cfg.DBPath, version)
}
