package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Config contains all configuration passed in via cli flags, mirroring the
// teacher's internal/server.Config shape (Addr/ShutdownTimeout/Flags),
// minus the TLS fields: the control socket is a filesystem-permission
// protected unix socket, not a TLS-authenticated TCP listener (spec.md
// §4.6's wire protocol fixes JSON-RPC 2.0 over "a message-oriented local
// socket", not TLS).
type Config struct {
	SocketPath      string
	ShutdownTimeout time.Duration
}

const DefaultShutdownTimeout = 300 * time.Second

func (c *Config) Flags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.SocketPath, "socket", "/var/run/jobd.sock", "path of the unix control socket")
	cmd.Flags().DurationVar(&c.ShutdownTimeout, "shutdown-timeout", DefaultShutdownTimeout, "time to wait for a Running job to exit before SIGKILL on shutdown")
}

// pendingRequest is one parsed request awaiting dispatch on the event-loop
// goroutine, plus the channel its accepting connection blocks on for the
// reply.
type pendingRequest struct {
	req  *Request
	resp chan *Response
}

// Server accepts connections on a unix SOCK_STREAM socket and serves one
// JSON-RPC request per connection (the Open Question decision recorded in
// DESIGN.md: one framed message per accepted connection, read until EOF or
// MaxMessageSize, whichever comes first), except MethodWatch, which keeps
// the connection open and streams further Responses instead of closing
// after the first one.
//
// Accepting and reading a connection's bytes happens on its own goroutine
// (plain blocking I/O, no shared state touched). The parsed request is then
// handed to the event-loop goroutine over a self-pipe — the same bridge
// internal/registry/watcher.go uses for fsnotify — so that Dispatcher.Dispatch
// (which mutates the registry and supervisor) only ever runs on the single
// event-loop goroutine, per spec.md §5.
type Server struct {
	cfg        *Config
	dispatcher *Dispatcher

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	incoming   chan *pendingRequest
	wakeReader *os.File
	wakeWriter *os.File

	// shutdown is closed by Stop/GracefulStop to unblock every in-flight
	// handleWatch goroutine: a watcher with nothing new to publish would
	// otherwise sit forever on its subscription channel, which Notifier
	// never closes on its own (see notify.go's lazy-unsubscribe design).
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func New(cfg *Config, dispatcher *Dispatcher) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("rpc: socket path is required")
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("rpc: wake pipe: %w", err)
	}

	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		incoming:   make(chan *pendingRequest, 256),
		wakeReader: r,
		wakeWriter: w,
		shutdown:   make(chan struct{}),
	}, nil
}

func (s *Server) closeShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

// ReadFD is the event loop's registration target: readiness means at least
// one pendingRequest is waiting in incoming.
func (s *Server) ReadFD() int {
	// Fd() would switch the pipe to blocking mode and disable the read
	// deadlines Drain relies on; SyscallConn exposes the fd without that.
	fd := -1
	if rc, err := s.wakeReader.SyscallConn(); err == nil {
		_ = rc.Control(func(u uintptr) { fd = int(u) })
	}
	return fd
}

// Drain is the event loop's handler for ReadFD(): it discards the wake
// byte(s) and dispatches every currently queued request, synchronously, on
// the calling (event-loop) goroutine.
func (s *Server) Drain() {
	for {
		if err := s.wakeReader.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			break
		}
		var buf [64]byte
		if _, err := s.wakeReader.Read(buf[:]); err != nil {
			break
		}
	}
	_ = s.wakeReader.SetReadDeadline(time.Time{})

	for {
		select {
		case p := <-s.incoming:
			p.resp <- s.dispatcher.Dispatch(p.req)
		default:
			return
		}
	}
}

// Serve binds the control socket and accepts connections until Stop or
// GracefulStop closes the listener. It removes any stale socket file left
// behind by a prior unclean shutdown before binding, matching the
// teacher's Serve: bind, log, accept until the listener is closed.
func (s *Server) Serve() error {
	_ = os.Remove(s.cfg.SocketPath)

	lis, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", s.cfg.SocketPath, err)
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	slog.Info("listening", "socket", s.cfg.SocketPath)

	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop closes the listener immediately, abandoning in-flight connections.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.closeShutdown()
}

// GracefulStop closes the listener and waits for every in-flight connection
// to finish: a request/response exchange finishes on its own, but an open
// `watch` connection is waiting on the Notifier and would otherwise never
// return, so closeShutdown unblocks it first.
func (s *Server) GracefulStop() {
	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()
	if lis != nil {
		_ = lis.Close()
	}
	s.closeShutdown()
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	correlationID := uuid.New().String()

	msg, err := io.ReadAll(io.LimitReader(conn, MaxMessageSize+1))
	if err != nil {
		slog.Error("rpc: read failed", "correlation_id", correlationID, "err", err)
		return
	}
	if len(msg) == 0 {
		return
	}

	req, parseErr := ParseRequest(msg)
	if parseErr != nil {
		if err := json.NewEncoder(conn).Encode(errorResponse(nil, parseErr)); err != nil {
			slog.Error("rpc: write failed", "correlation_id", correlationID, "err", err)
		}
		return
	}

	slog.Info("rpc request", "correlation_id", correlationID, "method", req.Method)

	if req.Method == MethodWatch {
		s.handleWatch(conn, req, correlationID)
		return
	}

	if err := json.NewEncoder(conn).Encode(s.dispatch(req)); err != nil {
		slog.Error("rpc: write failed", "correlation_id", correlationID, "err", err)
	}
}

// handleWatch services a `watch` connection: a client sends one request (then
// typically half-closes its write side, since it has nothing more to send)
// and receives an acknowledging Response, followed by one further Response
// per subsequent Notification, for as long as the connection stays open.
// There is no explicit unwatch method; the subscription ends when a write to
// conn fails, which is how a fully closed connection is distinguished from
// one that merely stopped writing.
func (s *Server) handleWatch(conn net.Conn, req *Request, correlationID string) {
	enc := json.NewEncoder(conn)
	if err := enc.Encode(Success(req.ID, struct{}{})); err != nil {
		slog.Error("rpc: write failed", "correlation_id", correlationID, "err", err)
		return
	}

	ch, unsubscribe := s.dispatcher.Subscribe()
	if ch == nil {
		return
	}
	defer unsubscribe()

	for {
		select {
		case note := <-ch:
			if err := enc.Encode(Success(req.ID, note)); err != nil {
				return
			}
		case <-s.shutdown:
			return
		}
	}
}

// dispatch hands req to the event-loop goroutine via the wake pipe and
// blocks until Drain has processed it and sent back a Response.
func (s *Server) dispatch(req *Request) *Response {
	p := &pendingRequest{req: req, resp: make(chan *Response, 1)}
	s.incoming <- p
	if _, err := s.wakeWriter.Write([]byte{0}); err != nil {
		slog.Error("rpc: wake write failed", "err", err)
	}
	return <-p.resp
}
