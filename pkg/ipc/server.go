// Package ipc implements CK3Raven's localhost control protocol (spec.md
// §4.8): NDJSON over TCP, one accept loop, one short-lived goroutine per
// connection, a flat method dispatch table keyed by name.
//
// Grounded in shape on theRebelliousNerd-codenerd's
// internal/mcp/transport_stdio.go: a per-connection reader goroutine and
// id-keyed request/response framing, even though that file is a stdio
// client talking to a subprocess rather than a TCP server accepting
// connections — the goroutine-per-connection and id-correlation pattern
// carries over directly to the server side.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ck3user75233/ck3raven/pkg/ck3err"
	"github.com/ck3user75233/ck3raven/pkg/metrics"
	"github.com/ck3user75233/ck3raven/pkg/router"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// clientIdleTimeout bounds how long a connection may sit without sending a
// frame (spec.md §5 "IPC client: 30 s idle read timeout").
const clientIdleTimeout = 30 * time.Second

// Server dispatches IPC requests against the daemon's store, router and
// metrics. One Server is constructed per daemon process.
type Server struct {
	store       *store.Store
	routes      *router.Table
	metrics     *metrics.Registry
	logger      *slog.Logger
	playsetPath string
	pid         int
	startedAt   time.Time

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	shutdownOnce sync.Once
	shutdownCh   chan shutdownRequest
}

type shutdownRequest struct {
	graceful bool
}

// New builds a Server. defaultPlaysetPath seeds enqueue_scan when a request
// omits an explicit playset_file.
func New(s *store.Store, routes *router.Table, reg *metrics.Registry, logger *slog.Logger, defaultPlaysetPath string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:       s,
		routes:      routes,
		metrics:     reg,
		logger:      logger,
		playsetPath: defaultPlaysetPath,
		pid:         os.Getpid(),
		startedAt:   time.Now(),
		shutdownCh:  make(chan shutdownRequest, 1),
	}
}

// ListenAndServe binds addr and accepts connections until ctx is cancelled
// or a client sends `shutdown`. It returns nil on either clean path.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	accepted := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			accepted <- conn
		}
	}()

	s.logger.Info("ipc.listen", "addr", addr)
	for {
		select {
		case <-ctx.Done():
			ln.Close()
			s.wg.Wait()
			return nil
		case req := <-s.shutdownCh:
			s.logger.Info("ipc.shutdown", "graceful", req.graceful)
			ln.Close()
			if req.graceful {
				s.wg.Wait()
			}
			return nil
		case err := <-acceptErr:
			return err
		case conn := <-accepted:
			s.wg.Add(1)
			go s.handleConn(ctx, conn)
		}
	}
}

// Addr returns the bound listener's address, or nil before ListenAndServe
// has started listening. Tests poll this to learn the OS-assigned port
// when binding "127.0.0.1:0".
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// RequestShutdown signals the accept loop to stop, as the `shutdown` method
// does for its own connection's request. Safe to call more than once.
func (s *Server) RequestShutdown(graceful bool) {
	s.shutdownOnce.Do(func() {
		s.shutdownCh <- shutdownRequest{graceful: graceful}
	})
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	enc := json.NewEncoder(conn)

	conn.SetReadDeadline(time.Now().Add(clientIdleTimeout))
	for scanner.Scan() {
		conn.SetReadDeadline(time.Now().Add(clientIdleTimeout))

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(errResponse(nil, "BAD_JSON", err.Error()))
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("ipc.write_error", "err", err)
			return
		}

		if req.Method == "shutdown" {
			var p shutdownParams
			json.Unmarshal(req.Params, &p)
			s.RequestShutdown(p.Graceful)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.Method == "" {
		return errResponse(req.ID, "UNKNOWN_METHOD", "missing method")
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case "health":
		result, err = s.health(ctx)
	case "get_status":
		result, err = s.getStatus(ctx)
	case "enqueue_files":
		result, err = s.enqueueFiles(ctx, req.Params)
	case "enqueue_scan":
		result, err = s.enqueueScan(ctx, req.Params)
	case "await_idle":
		result, err = s.awaitIdle(ctx, req.Params)
	case "shutdown":
		result, err = s.shutdownMethod(req.Params)
	default:
		return errResponse(req.ID, "UNKNOWN_METHOD", "no such method: "+req.Method)
	}

	if err != nil {
		var br *ck3err.BadRequest
		if errors.As(err, &br) {
			return errResponse(req.ID, br.Code, br.Message)
		}
		return errResponse(req.ID, "INTERNAL", err.Error())
	}
	return okResponse(req.ID, result)
}
