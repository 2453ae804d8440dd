package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/ck3user75233/ck3raven/internal/ui"
	"github.com/ck3user75233/ck3raven/pkg/config"
	"github.com/ck3user75233/ck3raven/pkg/ipc"
	"github.com/ck3user75233/ck3raven/pkg/metrics"
	"github.com/ck3user75233/ck3raven/pkg/router"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// runServe executes the 'serve' command: start the IPC daemon and block
// until SIGINT/SIGTERM, at which point it requests a graceful accept-loop
// shutdown. Grounded on the teacher's own signal.Notify/SIGINT/SIGTERM
// shutdown goroutine in cmd/cie/serve.go, substituting pkg/ipc's TCP/NDJSON
// listener for the teacher's http.Server.
func runServe(args []string, cfg config.Config, logger *slog.Logger, globals GlobalFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", cfg.IPCPort, "TCP port to listen on (127.0.0.1 only)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ck3raven serve [options]

Description:
  Start the localhost-only IPC daemon (NDJSON over TCP). Accepts health,
  get_status, enqueue_files, enqueue_scan, await_idle and shutdown
  requests. Runs until SIGINT/SIGTERM or a client sends shutdown.

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
	reg := metrics.New()

	srv := ipc.New(s, rt, reg, logger, cfg.PlaysetPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("serve.signal_shutdown")
		srv.RequestShutdown(true)
	}()

	addr := "127.0.0.1:" + strconv.Itoa(*port)
	ui.Success("ck3raven listening on %s", addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		ui.Error("serve: %v", err)
		os.Exit(1)
	}
	ui.Info("serve: stopped")
}
