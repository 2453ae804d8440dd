// Command ck3raven is the CK3Raven daemon and CLI: it indexes CK3 Paradox
// script and localization files into a content-addressed SQLite store and
// serves queries over it.
//
// Usage:
//
//	ck3raven init                     Create the database schema
//	ck3raven discover --playset FILE  Seed content versions and walk them
//	ck3raven build [--continuous]     Drain the build queue
//	ck3raven run --playset FILE       discover then build, one shot
//	ck3raven serve                    Start the IPC daemon
//	ck3raven watch --playset FILE     Watch playset roots, reindex on change
//	ck3raven status                   Show build-queue counts
//	ck3raven reset --yes              Delete the database file
package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// GlobalFlags holds flags that apply across every subcommand.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	NoColor    bool
	Verbose    int
	Quiet      bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to config.yaml (default: ~/.ck3raven/config.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument so subcommand flags like
	// "build --continuous" aren't rejected by the global parser.
	flag.CommandLine.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `CK3Raven - CK3 script indexing daemon

Parses Crusader Kings III Paradox-script and localization files into a
content-addressed SQLite store, queryable over a localhost control
protocol.

Usage:
  ck3raven <command> [options]

Commands:
  init        Create the database schema
  discover    Seed content versions from a playset and walk their files
  build       Drain the build queue, parsing and extracting symbols/refs
  run         discover then build in one invocation
  serve       Start the IPC daemon (NDJSON over TCP)
  watch       Watch playset roots and reindex on change
  status      Show build-queue counts
  reset       Delete the database file (destructive)

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to config.yaml
  -V, --version     Show version and exit

Examples:
  ck3raven init
  ck3raven run --playset ./playset.json
  ck3raven serve
  ck3raven status --json

For detailed command help: ck3raven <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("ck3raven version %s (%s)\n", version, commit)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		ConfigPath: *configPath,
		JSON:       *jsonOutput,
		NoColor:    *noColor,
		Verbose:    *verbose,
		Quiet:      *quiet,
	}
	if globals.NoColor {
		ui.Disable()
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		ui.Error("load config: %v", err)
		os.Exit(1)
	}
	logger := newLogger(globals)

	switch command {
	case "init":
		runInit(cmdArgs, cfg, globals)
	case "discover":
		runDiscover(cmdArgs, cfg, logger, globals)
	case "build":
		runBuild(cmdArgs, cfg, logger, globals)
	case "run":
		runRun(cmdArgs, cfg, logger, globals)
	case "serve":
		runServe(cmdArgs, cfg, logger, globals)
	case "watch":
		runWatch(cmdArgs, cfg, logger, globals)
	case "status":
		runStatus(cmdArgs, cfg, globals)
	case "reset":
		runReset(cmdArgs, cfg, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func newLogger(g GlobalFlags) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case g.Verbose >= 2:
		level = slog.LevelDebug
	case g.Verbose == 1:
		level = slog.LevelInfo
	case g.Quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
