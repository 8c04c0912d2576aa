package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"edgepolicy/internal/envelope"
	"edgepolicy/internal/metrics"
)

type State int32

const (
	StateStopped State = iota
	StateListening
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

type Config struct {
	Addr               string
	Framing            envelope.Framing
	MaxRead            int
	MaxFrame           int
	AcceptTimeout      time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	TrafficReadTimeout time.Duration
	ShutdownGrace      time.Duration
	MaxHandlers        int64
}

func (c Config) withDefaults() Config {
	if c.Framing == "" {
		c.Framing = envelope.FramingLengthPrefixed
	}
	if c.MaxRead <= 0 {
		c.MaxRead = envelope.DefaultMaxRead
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = envelope.DefaultMaxFrame
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.TrafficReadTimeout <= 0 {
		c.TrafficReadTimeout = 2 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.MaxHandlers <= 0 {
		c.MaxHandlers = 64
	}
	return c
}

// Server accepts edge node connections and answers each with a sealed
// directive. Handlers run concurrently, capped by MaxHandlers.
type Server struct {
	cfg     Config
	keys    *envelope.KeyStore
	table   *ProfileTable
	codec   envelope.Codec
	logger  *slog.Logger
	metrics *metrics.ControllerMetrics
	admit   *semaphore.Weighted

	mu       sync.Mutex
	ln       *net.TCPListener
	state    atomic.Int32
	running  atomic.Bool
	inflight atomic.Int64
	handlers sync.WaitGroup
}

func New(cfg Config, keys *envelope.KeyStore, table *ProfileTable, logger *slog.Logger, m *metrics.ControllerMetrics) *Server {
	cfg = cfg.withDefaults()
	if table == nil {
		table = NewProfileTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		keys:    keys,
		table:   table,
		codec:   envelope.Codec{Framing: cfg.Framing, MaxRead: cfg.MaxRead, MaxFrame: cfg.MaxFrame},
		logger:  logger,
		metrics: m,
		admit:   semaphore.NewWeighted(cfg.MaxHandlers),
	}
}

func (s *Server) Table() *ProfileTable {
	return s.table
}

func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateStopped {
		return fmt.Errorf("listen: server is %s", s.State())
	}
	addr, err := net.ResolveTCPAddr("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.cfg.Addr, err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.running.Store(true)
	s.state.Store(int32(StateListening))
	s.logger.Info("telemetry server listening", "addr", ln.Addr().String(), "framing", s.cfg.Framing, "max_handlers", s.cfg.MaxHandlers)
	return nil
}

// Serve runs the accept loop until Stop is called. The listener deadline
// bounds each Accept so the running flag is checked every AcceptTimeout.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve: server is not listening")
	}

	for s.running.Load() {
		_ = ln.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout))
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if !s.admit.TryAcquire(1) {
			s.reject(conn)
			continue
		}
		s.handlers.Add(1)
		s.inflight.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.inflight.Add(-1)
			defer s.admit.Release(1)
			s.handle(conn)
		}()
	}

	s.state.Store(int32(StateShuttingDown))
	s.cleanup(ln)
	return nil
}

// Stop asks the accept loop to exit at its next deadline tick.
func (s *Server) Stop() {
	if s.running.CompareAndSwap(true, false) {
		s.state.CompareAndSwap(int32(StateListening), int32(StateShuttingDown))
		s.logger.Info("telemetry server stop requested")
	}
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()
	return s.Serve()
}

func (s *Server) cleanup(ln *net.TCPListener) {
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("listener close failed", "error", err)
	}
	s.logger.Info("waiting for handlers", "active", s.inflight.Load(), "grace", s.cfg.ShutdownGrace)

	waitCh := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(waitCh)
	}()
	t := time.NewTimer(s.cfg.ShutdownGrace)
	defer t.Stop()
	select {
	case <-waitCh:
	case <-t.C:
		s.logger.Warn("handlers still running after grace period", "active", s.inflight.Load())
	}

	s.mu.Lock()
	s.ln = nil
	s.mu.Unlock()
	s.state.Store(int32(StateStopped))
	s.logger.Info("telemetry server stopped")
}
