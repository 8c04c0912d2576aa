package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"edgepolicy/internal/decision"
	"edgepolicy/internal/envelope"
	"edgepolicy/internal/metrics"
	"edgepolicy/internal/model"
)

const (
	rejectWriteTimeout = time.Second
	lingerTimeout      = time.Second
)

func (s *Server) handle(conn net.Conn) {
	start := time.Now()
	s.metrics.HandlerStarted()
	log := s.logger.With("conn_id", uuid.NewString(), "peer", conn.RemoteAddr().String())
	result := metrics.ResultError
	defer func() {
		s.closeConn(log, conn)
		s.metrics.HandlerDone(time.Since(start))
		s.metrics.ConnectionHandled(result)
		log.Debug("connection closed", "result", result, "elapsed", time.Since(start))
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	raw, err := s.codec.ReadEnvelope(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Warn("empty request")
			result = metrics.ResultEmpty
			return
		}
		log.Warn("read request failed", "error", err)
		s.respond(log, conn, model.Errorf("read request: %v", err))
		return
	}
	log.Debug("request received", "bytes", len(raw))

	if s.cfg.Framing == envelope.FramingLengthPrefixed {
		s.drainTraffic(log, conn)
	}

	directive := s.process(log, conn, raw)
	if s.respond(log, conn, directive) && directive.IsOK() {
		result = metrics.ResultOK
	}
}

// process turns one sealed request into a directive. Nothing here returns
// an error to the caller; every failure becomes an error directive.
func (s *Server) process(log *slog.Logger, conn net.Conn, raw []byte) model.Directive {
	msg, err := envelope.Open(s.keys, raw)
	if err != nil {
		log.Warn("rejected request", "error", err)
		return model.Errorf("invalid envelope")
	}
	fields, err := msg.Fields()
	if err != nil {
		log.Warn("rejected request", "error", err)
		return model.Errorf("payload is not a JSON object")
	}
	sourceIP, _ := fields["source_ip"].(string)
	sourceIP = strings.TrimSpace(sourceIP)
	if sourceIP == "" {
		log.Warn("rejected request", "error", "missing source_ip")
		return model.Errorf("missing source_ip in payload")
	}
	log = log.With("source_ip", sourceIP)

	res := decision.Evaluate(fields)
	if res.Fallback != nil {
		log.Warn("metric fallback", "error", res.Fallback, "profile", res.Profile)
	}
	traffic, _ := fields["traffic"].(string)

	prev, existed := s.table.Set(sourceIP, Entry{
		Profile: res.Profile,
		CPU:     res.CPU,
		RAM:     res.RAM,
		Traffic: traffic,
		Peer:    conn.RemoteAddr().String(),
	})
	s.metrics.Decision(res.Profile, res.Fallback != nil)
	s.metrics.TableSize(s.table.Len())

	log.Info("profile assigned",
		"profile", res.Profile,
		"previous", prev,
		"changed", !existed || prev != res.Profile,
		"cpu", res.CPU,
		"ram", res.RAM,
		"traffic", traffic,
	)
	return model.OK(res.Profile)
}

// drainTraffic consumes the simulated-traffic envelope an edge node sends
// after its metrics. A missing or late frame is not an error.
func (s *Server) drainTraffic(log *slog.Logger, conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.TrafficReadTimeout))
	blob, err := s.codec.ReadEnvelope(conn)
	if err != nil {
		log.Debug("no traffic frame", "error", err)
		return
	}
	s.metrics.TrafficBytes(len(blob))
	if _, err := envelope.Open(s.keys, blob); err != nil {
		log.Warn("traffic frame rejected", "bytes", len(blob), "error", err)
		return
	}
	log.Debug("traffic frame received", "bytes", len(blob))
}

func (s *Server) respond(log *slog.Logger, conn net.Conn, d model.Directive) bool {
	sealed, err := envelope.Seal(s.keys, d)
	if err != nil {
		log.Error("seal response failed", "error", err)
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.codec.WriteEnvelope(conn, sealed); err != nil {
		log.Warn("write response failed", "error", err)
		return false
	}
	return true
}

func (s *Server) reject(conn net.Conn) {
	log := s.logger.With("peer", conn.RemoteAddr().String())
	log.Warn("handler limit reached, rejecting connection", "max_handlers", s.cfg.MaxHandlers)
	s.metrics.ConnectionHandled(metrics.ResultRejected)
	if sealed, err := envelope.Seal(s.keys, model.Errorf("server busy")); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
		_ = s.codec.WriteEnvelope(conn, sealed)
	}
	_ = conn.Close()
}

// closeConn half-closes and discards unread input before closing, so
// bytes the peer sent after its request do not reset the connection
// before the response is read.
func (s *Server) closeConn(log *slog.Logger, conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		_ = tc.SetReadDeadline(time.Now().Add(lingerTimeout))
		_, _ = io.CopyN(io.Discard, tc, int64(s.codec.MaxFrame)+4)
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("close failed", "error", err)
	}
}
