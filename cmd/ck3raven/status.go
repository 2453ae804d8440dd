package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/config"
	"github.com/ck3user75233/ck3raven/pkg/metrics"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// statusResult is the JSON shape for 'status --json', the offline
// (no running daemon) counterpart of pkg/ipc's get_status method.
type statusResult struct {
	DBPath     string           `json:"db_path"`
	Pending    int64            `json:"pending"`
	Processing int64            `json:"processing"`
	Metrics    metrics.Snapshot `json:"metrics"`
}

// runStatus executes the 'status' command by reading the database directly
// rather than asking a running daemon: no daemon needs to be up for status
// to work, matching spec.md §4.8's queue counts, absent the live uptime a
// running process alone can report.
func runStatus(args []string, cfg config.Config, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ck3raven status [options]

Description:
  Show build-queue counts for the configured database. Use --json for
  programmatic consumption.

`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		if globals.JSON {
			json.NewEncoder(os.Stdout).Encode(statusResult{DBPath: cfg.DBPath})
		} else {
			ui.Warn("no database at %s yet. Run 'ck3raven init' first.", cfg.DBPath)
		}
		return
	}

	s, err := store.Open(cfg.DBPath, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		ui.Error("open database: %v", err)
		os.Exit(1)
	}
	defer s.Close()

	pending, processing, err := s.QueueCounts(context.Background())
	if err != nil {
		ui.Error("read queue counts: %v", err)
		os.Exit(1)
	}

	result := statusResult{
		DBPath:     cfg.DBPath,
		Pending:    pending,
		Processing: processing,
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return
	}

	ui.Info("database: %s", cfg.DBPath)
	ui.Info("queue: %d pending, %d processing", pending, processing)
}
