// Package controller runs the central telemetry server together with its
// metrics endpoint and the read-only profile API.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"edgepolicy/internal/config"
	"edgepolicy/internal/envelope"
	"edgepolicy/internal/lifecycle"
	"edgepolicy/internal/metrics"
	"edgepolicy/internal/profileapi"
	"edgepolicy/internal/server"
	"edgepolicy/internal/version"
)

type Controller struct {
	cfg      config.ControllerConfig
	logger   *slog.Logger
	server   *server.Server
	table    *server.ProfileTable
	registry *prometheus.Registry
	health   *Health
}

// New loads the master key and builds the telemetry server. A missing or
// malformed key is returned as an error so the process can exit before
// listening.
func New(cfg config.ControllerConfig, logger *slog.Logger) (*Controller, error) {
	keys := envelope.NewKeyStore(cfg.KeyFile, cfg.KeyLabel)
	if err := keys.Preload(); err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	framing, err := envelope.ParseFraming(cfg.Framing)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewControllerMetrics(registry)

	table := server.NewProfileTable()
	srv := server.New(server.Config{
		Addr:               cfg.ListenAddr,
		Framing:            framing,
		MaxFrame:           cfg.MaxFrameBytes,
		AcceptTimeout:      cfg.AcceptTimeout,
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		TrafficReadTimeout: cfg.TrafficReadTimeout,
		ShutdownGrace:      cfg.ShutdownGrace,
		MaxHandlers:        int64(cfg.MaxHandlers),
	}, keys, table, logger, m)

	return &Controller{
		cfg:      cfg,
		logger:   logger,
		server:   srv,
		table:    table,
		registry: registry,
		health:   NewHealth(),
	}, nil
}

func (c *Controller) Server() *server.Server { return c.server }

func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller configured",
		"listen_addr", c.cfg.ListenAddr,
		"framing", c.cfg.Framing,
		"metrics_addr", c.cfg.MetricsAddr,
		"status_addr", c.cfg.StatusAddr,
		"version", version.Version,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.health.SetListening(false)
		if err := c.server.Listen(); err != nil {
			return err
		}
		c.health.SetListening(true)
		stop := context.AfterFunc(gctx, c.server.Stop)
		defer stop()
		return c.server.Serve()
	})
	if c.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return lifecycle.ServeHTTP(gctx, c.cfg.MetricsAddr, c.httpHandler(), c.logger)
		})
	}
	if c.cfg.StatusAddr != "" {
		g.Go(func() error {
			defer c.health.SetStatusServing(false)
			srv := profileapi.NewGRPCServer(profileapi.NewTableService(c.table), c.logger)
			c.health.SetStatusServing(true)
			return profileapi.Serve(gctx, c.cfg.StatusAddr, srv, c.logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Controller) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(c.registry))
	mux.Handle("/healthz", lifecycle.HealthHandler(func() map[string]any {
		snap := c.health.Snapshot()
		snap["state"] = c.server.State().String()
		snap["profiles"] = c.table.Len()
		snap["version"] = version.Get("controller", "")
		return snap
	}))
	return mux
}
