// Package client runs one telemetry request/response cycle against the
// controller.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"edgepolicy/internal/envelope"
	"edgepolicy/internal/model"
)

type Config struct {
	Addr         string
	Framing      envelope.Framing
	MaxRead      int
	MaxFrame     int
	DialTimeout  time.Duration
	CycleTimeout time.Duration
}

type Client struct {
	cfg    Config
	keys   *envelope.KeyStore
	codec  envelope.Codec
	logger *slog.Logger
	dialer net.Dialer
}

func New(cfg Config, keys *envelope.KeyStore, logger *slog.Logger) *Client {
	if cfg.Framing == "" {
		cfg.Framing = envelope.FramingLengthPrefixed
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		keys:   keys,
		codec:  envelope.Codec{Framing: cfg.Framing, MaxRead: cfg.MaxRead, MaxFrame: cfg.MaxFrame},
		logger: logger,
	}
}

// Cycle opens one connection, sends the sealed metrics followed by the
// sealed traffic blob, and reads a single sealed directive. The source
// address fields of t are filled from the local end of the connection.
func (c *Client) Cycle(ctx context.Context, t model.Telemetry, traffic []byte) (model.Directive, error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.cfg.Addr)
	cancelDial()
	if err != nil {
		return model.Directive{}, &TransportError{Op: "connect", Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(c.cfg.CycleTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if local, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		t.SourceIP = local.IP.String()
		t.SourcePort = local.Port
	}
	c.logger.Debug("connection established", "addr", c.cfg.Addr, "source_ip", t.SourceIP, "source_port", t.SourcePort)

	sealed, err := envelope.Seal(c.keys, t)
	if err != nil {
		return model.Directive{}, &CryptoError{Op: "seal metrics", Err: err}
	}
	if err := c.codec.WriteEnvelope(conn, sealed); err != nil {
		return model.Directive{}, &TransportError{Op: "send metrics", Err: err}
	}

	sealedTraffic, err := envelope.Seal(c.keys, traffic)
	if err != nil {
		return model.Directive{}, &CryptoError{Op: "seal traffic", Err: err}
	}
	if err := c.codec.WriteEnvelope(conn, sealedTraffic); err != nil {
		return model.Directive{}, &TransportError{Op: "send traffic", Err: err}
	}
	c.logger.Debug("payload sent", "metrics_bytes", len(sealed), "traffic_bytes", len(sealedTraffic))

	raw, err := c.codec.ReadEnvelope(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("no response from controller")
		}
		return model.Directive{}, &TransportError{Op: "receive", Err: err}
	}
	msg, err := envelope.Open(c.keys, raw)
	if err != nil {
		return model.Directive{}, &CryptoError{Op: "open response", Err: err}
	}
	var d model.Directive
	if err := msg.Decode(&d); err != nil {
		return model.Directive{}, &ProtocolError{Err: fmt.Errorf("response %q: %w", truncate(msg.Text(), 128), err)}
	}
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
