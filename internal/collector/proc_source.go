package collector

import (
	"context"
	"fmt"
	"time"

	"edgepolicy/internal/system"
)

type ProcConfig struct {
	StatPath    string
	MeminfoPath string
	// Window is how long CPU is measured; RAM is averaged over the same span.
	Window      time.Duration
	RAMInterval time.Duration
	Period      time.Duration
	BlobSize    int
}

// ProcSource samples host load from /proc.
type ProcSource struct {
	cfg ProcConfig
}

func NewProcSource(cfg ProcConfig) *ProcSource {
	if cfg.StatPath == "" {
		cfg.StatPath = system.ProcStatPath
	}
	if cfg.MeminfoPath == "" {
		cfg.MeminfoPath = system.ProcMeminfoPath
	}
	if cfg.RAMInterval <= 0 {
		cfg.RAMInterval = time.Second
	}
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Second
	}
	return &ProcSource{cfg: cfg}
}

func (s *ProcSource) Sample(ctx context.Context) (Sample, error) {
	start, err := system.ReadCPUCountersFrom(s.cfg.StatPath)
	if err != nil {
		return Sample{}, err
	}
	ram, err := s.averageRAM(ctx)
	if err != nil {
		return Sample{}, err
	}
	end, err := system.ReadCPUCountersFrom(s.cfg.StatPath)
	if err != nil {
		return Sample{}, err
	}
	return finish(system.CPUUsage(start, end), ram, s.cfg.BlobSize, s.cfg.Period)
}

// averageRAM reads meminfo at every RAMInterval tick across Window and
// returns the mean. A zero window takes a single reading.
func (s *ProcSource) averageRAM(ctx context.Context) (float64, error) {
	deadline := time.Now().Add(s.cfg.Window)
	var sum float64
	var n int
	for {
		mem, err := system.ReadMemoryInfoFrom(s.cfg.MeminfoPath)
		if err != nil {
			return 0, err
		}
		sum += mem.UsedPercent()
		n++

		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		if err := sleepContext(ctx, min(left, s.cfg.RAMInterval)); err != nil {
			return 0, fmt.Errorf("sample window: %w", err)
		}
	}
	return sum / float64(n), nil
}
