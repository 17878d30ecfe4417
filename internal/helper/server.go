package helper

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/downlinkdev/downlink/internal/codec"
	"github.com/downlinkdev/downlink/internal/fault"
	"github.com/downlinkdev/downlink/internal/metrics"
)

const (
	// idleTimeout closes connections with no request for this long.
	idleTimeout = 10 * time.Minute
	// writeTimeout bounds writing one response.
	writeTimeout = 10 * time.Second
)

// ServerConfig configures a Server.
type ServerConfig struct {
	SocketPath string
	Daemon     Daemon
	// AllowedUIDs lists the local users that may connect. Root is always
	// allowed; an empty list allows everyone.
	AllowedUIDs []uint32
	Log         *log.Logger
	Metrics     *metrics.Registry // optional
}

// Server is the privilege broker. Each connection is served by its own
// goroutine; requests on one connection are handled in arrival order.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	wg       sync.WaitGroup

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// NewServer creates a new broker server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.SocketPath == "" {
		cfg.SocketPath = SocketPath
	}
	return &Server{cfg: cfg, conns: make(map[net.Conn]struct{})}
}

// Start begins accepting connections. Non-blocking.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	// Remove stale socket.
	_ = os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	// Access control is done per connection with peer credentials.
	if err := os.Chmod(s.cfg.SocketPath, 0666); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln
	s.cfg.Log.Info("listening", "socket", s.cfg.SocketPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return // listener closed
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.track(conn, false)
				s.handle(conn)
			}()
		}
	}()
	return nil
}

// Stop closes the listener, lets in-flight requests finish, closes idle
// connections and removes the socket file.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	s.closing = true
	for c := range s.conns {
		// Wakes connections blocked waiting for their next request.
		_ = c.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()
	s.wg.Wait()
	_ = os.Remove(s.cfg.SocketPath)
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
	if m := s.cfg.Metrics; m != nil {
		m.HelperConnections.Set(float64(len(s.conns)))
	}
}

// armRead sets the idle deadline for the next request unless the server is
// stopping.
func (s *Server) armRead(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	return true
}

func (s *Server) allowed(uid uint32) bool {
	return uid == 0 || len(s.cfg.AllowedUIDs) == 0 || slices.Contains(s.cfg.AllowedUIDs, uid)
}

func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	l := s.cfg.Log

	if uc, ok := conn.(*net.UnixConn); ok {
		uid, err := peerUID(uc)
		if err != nil || !s.allowed(uid) {
			l.Warn("rejected connection", "uid", uid, "err", err)
			if m := s.cfg.Metrics; m != nil {
				m.HelperRejected.Inc()
			}
			return
		}
		l = l.With("uid", uid)
	}

	dec := codec.NewDecoder(conn)
	enc := codec.NewEncoder(conn)
	for {
		if !s.armRead(conn) {
			return
		}
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
				l.Warn("decode request", "err", err)
				s.reply(conn, enc, errorResponse(fmt.Errorf("decode request: %w", err)))
			}
			return
		}

		resp := s.dispatch(l, req)
		resp.Seq = req.Seq
		if !s.reply(conn, enc, resp) {
			return
		}
	}
}

func (s *Server) reply(conn net.Conn, enc *codec.Encoder, resp Response) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := enc.Encode(resp); err != nil {
		s.cfg.Log.Debug("write response", "err", err)
		return false
	}
	return true
}

func (s *Server) dispatch(l *log.Logger, req Request) Response {
	var (
		resp Response
		err  error
	)
	switch req.Method {
	case MethodGetProtocolVersion:
		resp = Response{OK: true, Version: ProtocolVersion}
	case MethodLoadDaemon:
		err = s.cfg.Daemon.LoadDaemon()
		resp = Response{OK: err == nil}
	case MethodUnloadDaemon:
		err = s.cfg.Daemon.UnloadDaemon()
		resp = Response{OK: err == nil}
	case MethodIsDaemonLoaded:
		var loaded bool
		loaded, err = s.cfg.Daemon.IsDaemonLoaded()
		resp = Response{OK: err == nil, Loaded: loaded}
	default:
		err = fault.New(fault.Unknown, req.Method, fmt.Errorf("unknown method %q", req.Method))
	}
	if err != nil {
		resp = errorResponse(err)
	}

	result := "ok"
	if err != nil {
		result = fault.KindOf(err).String()
		l.Warn("request failed", "method", req.Method, "err", err)
	} else {
		l.Info("request", "method", req.Method)
	}
	if m := s.cfg.Metrics; m != nil {
		method := req.Method
		if !knownMethod(method) {
			method = "unknown"
		}
		m.HelperRequests.WithLabelValues(method, result).Inc()
	}
	return resp
}

func knownMethod(m string) bool {
	switch m {
	case MethodGetProtocolVersion, MethodLoadDaemon, MethodUnloadDaemon, MethodIsDaemonLoaded:
		return true
	}
	return false
}
