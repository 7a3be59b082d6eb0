package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-chat-server/internal/config"
	"github.com/kstaniek/go-chat-server/internal/dispatch"
	"github.com/kstaniek/go-chat-server/internal/heartbeat"
	"github.com/kstaniek/go-chat-server/internal/logging"
	"github.com/kstaniek/go-chat-server/internal/metrics"
	"github.com/kstaniek/go-chat-server/internal/registry"
)

// DefaultBanlistPath is where the ban set persists between runs.
const DefaultBanlistPath = "banlist"

// DefaultLogPath is the append-only log file served by GET_LOG.
const DefaultLogPath = "server.log"

// Server owns the TCP listener and coordinates client lifecycle.
type Server struct {
	mu   sync.RWMutex
	addr string

	cfg      *config.Runtime
	Registry *registry.Registry
	Banlist  *registry.Banlist
	disp     *dispatch.Dispatcher

	queuePolicy   dispatch.Policy
	dispatchDelay time.Duration
	maxClients    int
	logPath       string

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	state     lifecycle
	readyOnce sync.Once
	readyCh   chan struct{}
	stopOnce  sync.Once
	stopCh    chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener
	workers   *pool
	handlers  map[string]handlerFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	startTime time.Time

	nextConnID        uint64
	activeSessions    atomic.Int64
	totalAccepted     atomic.Uint64
	totalRejected     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		conns:         make(map[net.Conn]struct{}),
		cfg:           config.New(),
		readyCh:       make(chan struct{}),
		stopCh:        make(chan struct{}),
		errCh:         make(chan error, 1),
		queuePolicy:   dispatch.PolicyReject,
		dispatchDelay: dispatch.DefaultDelay,
		maxClients:    100,
		logPath:       DefaultLogPath,
		logger:        logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.Registry == nil {
		s.Registry = registry.New()
	}
	if s.Banlist == nil {
		s.Banlist = registry.NewBanlist(DefaultBanlistPath)
	}
	s.initHandlers()
	return s
}

func WithListenAddr(a string) ServerOption           { return func(s *Server) { s.addr = a } }
func WithConfig(c *config.Runtime) ServerOption      { return func(s *Server) { s.cfg = c } }
func WithBanlist(b *registry.Banlist) ServerOption   { return func(s *Server) { s.Banlist = b } }
func WithQueuePolicy(p dispatch.Policy) ServerOption { return func(s *Server) { s.queuePolicy = p } }
func WithLogPath(p string) ServerOption              { return func(s *Server) { s.logPath = p } }

func WithDispatchDelay(d time.Duration) ServerOption {
	return func(s *Server) {
		if d >= 0 {
			s.dispatchDelay = d
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }
func (s *Server) State() State           { return s.state.load() }
func (s *Server) Config() *config.Runtime { return s.cfg }

// Uptime is zero before Serve listens.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	t := s.startTime
	s.mu.RUnlock()
	if t.IsZero() {
		return 0
	}
	return time.Since(t)
}

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// RequestStop asks the serve loop to exit; idempotent. The operator console
// and the auto-stop path use it so shutdown flows through main instead of
// terminating the process.
func (s *Server) RequestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// StopRequested exposes the stop signal for callers that wait on it.
func (s *Server) StopRequested() <-chan struct{} { return s.stopCh }

// reuseAddr sets SO_REUSEADDR on the listen socket before bind.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Serve accepts TCP clients and runs them on the worker pool. It returns nil
// on cooperative stop (context cancelled or RequestStop) and the listen error
// when binding fails.
func (s *Server) Serve(ctx context.Context) error {
	if !s.state.transition(StateOff, StateStarting) {
		return fmt.Errorf("%w: server is %s", ErrState, s.State())
	}
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	if err := s.Banlist.Load(); err != nil {
		s.logger.Warn("banlist_load_failed", "error", err)
	}
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.state.set(StateOff)
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.startTime = time.Now()
	s.mu.Unlock()

	s.disp = dispatch.New(s.Registry, s.cfg.Int(config.KeyMaxQueueSize), s.queuePolicy, s.dispatchDelay)
	s.disp.Start(ctx)
	s.workers = newPool(s.cfg.Int(config.KeyThreadPoolSize), s.maxClients)

	hb := heartbeat.New(s.Registry, s.cfg, func(name string, sess *registry.Session) {
		s.disconnectSession(name, sess)
	})
	hbCtx, hbCancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		hb.Run(hbCtx)
	}()

	s.state.set(StateRunning)
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	s.logger.Info("ready")

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		}
		s.state.transition(StateRunning, StateStopping)
		_ = ln.Close()
		hbCancel()
	}()

	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			hbCancel()
			if errors.Is(err, context.Canceled) || ctx.Err() != nil || s.stopped() {
				return nil
			}
			return err
		}
	}
}

func (s *Server) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// acceptOnce accepts a single connection and enqueues its session task.
// Returns nil on success; a wrapped error on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-s.stopCh:
			return context.Canceled
		default:
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if int(s.activeSessions.Load()) >= s.maxClients {
		s.totalRejected.Add(1)
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	s.trackConn(conn)
	ok := s.workers.submit(func() {
		defer s.untrackConn(conn)
		s.runSession(conn, connLogger)
	})
	if !ok {
		s.untrackConn(conn)
		s.totalRejected.Add(1)
		connLogger.Warn("client_reject_pool")
		_ = conn.Close()
		return nil
	}
	connLogger.Info("connection_accepted")
	return nil
}

func (s *Server) trackConn(c net.Conn) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(c net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

// closeConns closes every live connection, including sockets that never
// completed a CONNECT and so are absent from the registry.
func (s *Server) closeConns() {
	s.connsMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connsMu.Unlock()
}

// disconnectSession runs the single disconnect path: remove from the
// registry, close the socket, maybe auto-stop. Idempotent.
func (s *Server) disconnectSession(name string, sess *registry.Session) {
	removed := s.Registry.Unregister(name, sess)
	sess.Close()
	if !removed {
		return
	}
	s.totalDisconnected.Add(1)
	s.logger.Info("client_disconnected", "user", name)
	if s.cfg.Bool(config.KeyAutoStopNoClients) && s.Registry.Count() == 0 {
		s.logger.Info("auto_stop_no_clients")
		s.RequestStop()
	}
}

// Shutdown gracefully closes all resources after Serve has returned or been
// cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.RequestStop()
	s.state.transition(StateRunning, StateStopping)
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.Registry.CloseAll()
	s.closeConns()
	if s.disp != nil {
		s.disp.Close()
	}
	done := make(chan struct{})
	go func() {
		if s.workers != nil {
			s.workers.close()
		}
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.state.set(StateOff)
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load())
		return nil
	}
}
