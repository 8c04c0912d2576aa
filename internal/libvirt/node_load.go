package libvirt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// NodeStatsClient is the subset of the libvirt RPC API used for host load.
type NodeStatsClient interface {
	NodeGetCPUStats(CPUNum int32, Nparams int32, Flags uint32) ([]golibvirt.NodeGetCPUStats, int32, error)
	NodeGetMemoryStats(Nparams int32, CellNum int32, Flags uint32) ([]golibvirt.NodeGetMemoryStats, int32, error)
}

type ClientSource interface {
	Client(ctx context.Context) (NodeStatsClient, error)
	Invalidate()
}

const (
	allCPUs  int32 = -1
	allCells int32 = -1
)

// NodeLoadReader turns cumulative libvirt node counters into percentages.
type NodeLoadReader struct {
	source ClientSource

	mu        sync.Mutex
	prevBusy  uint64
	prevTotal uint64
	primed    bool
}

func NewNodeLoadReader(source ClientSource) *NodeLoadReader {
	return &NodeLoadReader{source: source}
}

// CPUPercent returns busy CPU time since the previous call. The first call
// only primes the counters and reports 0.
func (r *NodeLoadReader) CPUPercent(ctx context.Context) (float64, error) {
	c, err := r.source.Client(ctx)
	if err != nil {
		return 0, err
	}
	stats, err := cpuStats(c)
	if err != nil {
		r.source.Invalidate()
		return 0, err
	}

	var total, idle, iowait uint64
	for _, st := range stats {
		switch strings.ToLower(st.Field) {
		case "idle":
			idle = st.Value
		case "iowait":
			iowait = st.Value
		case "utilization":
			// Reported instead of counters when a percentage is cheaper.
			return float64(st.Value), nil
		}
		total += st.Value
	}
	busy := total - idle - iowait

	r.mu.Lock()
	defer r.mu.Unlock()
	prevBusy, prevTotal, primed := r.prevBusy, r.prevTotal, r.primed
	r.prevBusy, r.prevTotal, r.primed = busy, total, true
	if !primed || total <= prevTotal || busy < prevBusy {
		return 0, nil
	}
	usage := float64(busy-prevBusy) / float64(total-prevTotal) * 100
	if usage > 100 {
		return 100, nil
	}
	return usage, nil
}

// RAMPercent reports used memory as total minus free, buffers and cache.
func (r *NodeLoadReader) RAMPercent(ctx context.Context) (float64, error) {
	c, err := r.source.Client(ctx)
	if err != nil {
		return 0, err
	}
	stats, err := memoryStats(c)
	if err != nil {
		r.source.Invalidate()
		return 0, err
	}
	vals := map[string]uint64{}
	for _, st := range stats {
		vals[strings.ToLower(st.Field)] = st.Value
	}
	total := vals["total"]
	if total == 0 {
		return 0, fmt.Errorf("libvirt memory stats: total is zero")
	}
	free := vals["free"] + vals["buffers"] + vals["cached"]
	if free > total {
		free = total
	}
	return float64(total-free) / float64(total) * 100, nil
}

// cpuStats follows the libvirt two-step protocol: ask for the parameter
// count, then fetch that many parameters.
func cpuStats(c NodeStatsClient) ([]golibvirt.NodeGetCPUStats, error) {
	stats, n, err := c.NodeGetCPUStats(allCPUs, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("NodeGetCPUStats: %w", err)
	}
	if len(stats) == 0 && n > 0 {
		stats, _, err = c.NodeGetCPUStats(allCPUs, n, 0)
		if err != nil {
			return nil, fmt.Errorf("NodeGetCPUStats: %w", err)
		}
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("empty node cpu stats")
	}
	return stats, nil
}

func memoryStats(c NodeStatsClient) ([]golibvirt.NodeGetMemoryStats, error) {
	stats, n, err := c.NodeGetMemoryStats(0, allCells, 0)
	if err != nil {
		return nil, fmt.Errorf("NodeGetMemoryStats: %w", err)
	}
	if len(stats) == 0 && n > 0 {
		stats, _, err = c.NodeGetMemoryStats(n, allCells, 0)
		if err != nil {
			return nil, fmt.Errorf("NodeGetMemoryStats: %w", err)
		}
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("empty node memory stats")
	}
	return stats, nil
}
