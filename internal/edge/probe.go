package edge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// ProbeListener answers every TCP connection with one status line and
// closes it.
type ProbeListener struct {
	addr   string
	health *Health
	logger *slog.Logger
	ready  chan net.Addr
}

func NewProbeListener(addr string, health *Health, logger *slog.Logger) *ProbeListener {
	return &ProbeListener{addr: addr, health: health, logger: logger, ready: make(chan net.Addr, 1)}
}

// Ready yields the bound address once the listener is accepting.
func (p *ProbeListener) Ready() <-chan net.Addr { return p.ready }

func (p *ProbeListener) Run(ctx context.Context) error {
	addr := strings.TrimSpace(p.addr)
	if addr == "" {
		return fmt.Errorf("empty probe listen address")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen probe endpoint %s: %w", addr, err)
	}
	defer func() { _ = ln.Close() }()

	p.logger.Info("probe endpoint listening", "addr", ln.Addr().String())
	p.ready <- ln.Addr()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			p.logger.Warn("probe accept failed", "error", acceptErr)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, _ = fmt.Fprintf(conn, "edgepolicy-edge:ok profile=%s\n", p.health.Profile().Token())
		_ = conn.Close()
	}
}
