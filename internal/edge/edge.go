// Package edge runs an edge node: periodic telemetry cycles against the
// controller, firewall profile changes, and the probe and metrics endpoints.
package edge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"edgepolicy/internal/client"
	"edgepolicy/internal/collector"
	"edgepolicy/internal/config"
	"edgepolicy/internal/envelope"
	"edgepolicy/internal/firewall"
	"edgepolicy/internal/libvirt"
	"edgepolicy/internal/lifecycle"
	"edgepolicy/internal/metrics"
	"edgepolicy/internal/recorder"
	"edgepolicy/internal/version"
)

type Edge struct {
	cfg      config.EdgeConfig
	logger   *slog.Logger
	node     *Node
	health   *Health
	probe    *ProbeListener
	registry *prometheus.Registry
	recorder *recorder.Recorder
	conn     *libvirt.ConnManager
}

// New wires the edge node from cfg. The key file is loaded here so a bad
// key fails startup.
func New(cfg config.EdgeConfig, logger *slog.Logger) (*Edge, error) {
	keys := envelope.NewKeyStore(cfg.KeyFile, cfg.KeyLabel)
	if err := keys.Preload(); err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	framing, err := envelope.ParseFraming(cfg.Framing)
	if err != nil {
		return nil, err
	}

	e := &Edge{
		cfg:      cfg,
		logger:   logger,
		health:   NewHealth(InitialProfile),
		registry: prometheus.NewRegistry(),
	}
	e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	edgeMetrics := metrics.NewEdgeMetrics(e.registry)

	procCfg := collector.ProcConfig{
		Window:   cfg.SampleWindow,
		Period:   cfg.Period,
		BlobSize: cfg.TrafficBytes,
	}
	var source collector.Source
	switch cfg.MetricsSource {
	case config.MetricsSourceLibvirt:
		e.conn = libvirt.NewConnManager(cfg.LibvirtURI, 0, logger)
		source = collector.NewLibvirtSource(libvirt.NewNodeLoadReader(e.conn), procCfg, logger)
	default:
		source = collector.NewProcSource(procCfg)
	}

	var rec SampleRecorder
	if strings.TrimSpace(cfg.SampleLog) != "" {
		e.recorder, err = recorder.Open(cfg.SampleLog)
		if err != nil {
			return nil, err
		}
		rec = e.recorder
	}

	cl := client.New(client.Config{
		Addr:         cfg.ControllerAddr,
		Framing:      framing,
		MaxFrame:     cfg.MaxFrameBytes,
		DialTimeout:  cfg.DialTimeout,
		CycleTimeout: cfg.CycleTimeout,
	}, keys, logger)

	e.node = NewNode(NodeOptions{
		ID:     cfg.NodeID,
		Period: cfg.Period,
		Source: source,
		Client: cl,
		Applier: &firewall.ScriptApplier{
			Script:  cfg.FirewallScript,
			UseSudo: cfg.FirewallSudo,
			Timeout: cfg.FirewallTimeout,
			Logger:  logger,
		},
		Recorder: rec,
		Metrics:  edgeMetrics,
		Health:   e.health,
		Logger:   logger,
	})
	if cfg.ProbeAddr != "" {
		e.probe = NewProbeListener(cfg.ProbeAddr, e.health, logger)
	}
	return e, nil
}

func (e *Edge) Health() *Health { return e.health }

func (e *Edge) Run(ctx context.Context) error {
	e.logger.Info("edge node configured",
		"node_id", e.cfg.NodeID,
		"controller", e.cfg.ControllerAddr,
		"framing", e.cfg.Framing,
		"period", e.cfg.Period,
		"metrics_source", e.cfg.MetricsSource,
		"version", version.Version,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.node.Run(gctx)
	})
	if e.probe != nil {
		g.Go(func() error {
			return e.probe.Run(gctx)
		})
	}
	if e.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return lifecycle.ServeHTTP(gctx, e.cfg.MetricsAddr, e.httpHandler(), e.logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (e *Edge) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(e.registry))
	mux.Handle("/healthz", lifecycle.HealthHandler(func() map[string]any {
		snap := e.health.Snapshot()
		snap["version"] = version.Get("edge", e.cfg.NodeID)
		return snap
	}))
	return mux
}

// Shutdown releases the sample log and the libvirt connection.
func (e *Edge) Shutdown(context.Context) {
	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil {
			e.logger.Warn("close sample log failed", "error", err)
		}
	}
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			e.logger.Warn("close libvirt connection failed", "error", err)
		}
	}
}
