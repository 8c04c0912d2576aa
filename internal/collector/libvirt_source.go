package collector

import (
	"context"
	"log/slog"
	"time"
)

// NodeLoad is implemented by libvirt.NodeLoadReader.
type NodeLoad interface {
	CPUPercent(ctx context.Context) (float64, error)
	RAMPercent(ctx context.Context) (float64, error)
}

// LibvirtSource reads host load through libvirt and falls back to /proc
// for any reading libvirt cannot provide.
type LibvirtSource struct {
	node     NodeLoad
	fallback *ProcSource
	window   time.Duration
	period   time.Duration
	blobSize int
	logger   *slog.Logger
}

func NewLibvirtSource(node NodeLoad, fallback ProcConfig, logger *slog.Logger) *LibvirtSource {
	proc := NewProcSource(fallback)
	return &LibvirtSource{
		node:     node,
		fallback: proc,
		window:   proc.cfg.Window,
		period:   proc.cfg.Period,
		blobSize: proc.cfg.BlobSize,
		logger:   logger,
	}
}

func (s *LibvirtSource) Sample(ctx context.Context) (Sample, error) {
	// The first CPU read primes the libvirt counters; the second one after
	// the window yields the percentage.
	_, primeErr := s.node.CPUPercent(ctx)
	if err := sleepContext(ctx, s.window); err != nil {
		return Sample{}, err
	}
	cpu, cpuErr := s.node.CPUPercent(ctx)
	if primeErr != nil && cpuErr == nil {
		cpuErr = primeErr
	}
	ram, ramErr := s.node.RAMPercent(ctx)
	if cpuErr == nil && ramErr == nil {
		return finish(cpu, ram, s.blobSize, s.period)
	}

	s.logger.Warn("libvirt node stats unavailable, using /proc", "cpu_error", cpuErr, "ram_error", ramErr)
	proc, err := s.fallback.Sample(ctx)
	if err != nil {
		return Sample{}, err
	}
	if cpuErr == nil {
		proc.CPU = clampPercent(cpu)
	}
	if ramErr == nil {
		proc.RAM = clampPercent(ram)
	}
	return proc, nil
}
