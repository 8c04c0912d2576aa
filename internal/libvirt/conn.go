package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// ConnManager owns a single libvirt RPC connection. Connect attempts are
// rate limited by retryWait so a sampling loop never blocks on a dead
// daemon.
type ConnManager struct {
	mu          sync.Mutex
	client      *golibvirt.Libvirt
	uri         string
	logger      *slog.Logger
	retryWait   time.Duration
	lastAttempt time.Time
	lastErr     error
}

func NewConnManager(uri string, retryWait time.Duration, logger *slog.Logger) *ConnManager {
	if retryWait <= 0 {
		retryWait = 30 * time.Second
	}
	return &ConnManager{uri: uri, logger: logger, retryWait: retryWait}
}

// Client returns the live connection, dialing at most once per retryWait.
func (m *ConnManager) Client(ctx context.Context) (NodeStatsClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	if !m.lastAttempt.IsZero() && time.Since(m.lastAttempt) < m.retryWait {
		return nil, fmt.Errorf("libvirt unavailable, next attempt in %s: %w", m.retryWait-time.Since(m.lastAttempt), m.lastErr)
	}
	m.lastAttempt = time.Now()

	uri, err := parseURI(m.uri)
	if err != nil {
		m.lastErr = err
		return nil, err
	}
	c, err := golibvirt.ConnectToURI(uri)
	if err != nil {
		m.lastErr = fmt.Errorf("connect %s: %w", uri.Redacted(), err)
		m.logger.Warn("libvirt connect failed", "uri", uri.Redacted(), "error", err, "retry_in", m.retryWait)
		return nil, m.lastErr
	}
	m.client = c
	m.lastErr = nil
	m.lastAttempt = time.Time{}
	m.logger.Info("libvirt connected", "uri", uri.Redacted())
	return c, nil
}

// Invalidate drops the connection after a failed call so the next Client
// call redials.
func (m *ConnManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return
	}
	if err := m.client.Disconnect(); err != nil {
		m.logger.Debug("libvirt disconnect failed", "error", err)
	}
	m.client = nil
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect()
	m.client = nil
	return err
}

func parseURI(raw string) (*url.URL, error) {
	if raw == "" {
		raw = string(golibvirt.QEMUSystem)
	}
	uri, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if uri.Scheme == "" {
		return nil, fmt.Errorf("libvirt uri %q has no scheme", raw)
	}
	return uri, nil
}
