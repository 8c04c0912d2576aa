package system

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const ProcStatPath = "/proc/stat"

// CPUCounters are the aggregate jiffy counters from the "cpu" line.
type CPUCounters struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
	Total   uint64
}

func (c CPUCounters) Busy() uint64 {
	return c.Total - c.Idle - c.IOWait
}

func ReadCPUCounters() (CPUCounters, error) {
	return ReadCPUCountersFrom(ProcStatPath)
}

func ReadCPUCountersFrom(path string) (CPUCounters, error) {
	f, err := os.Open(path)
	if err != nil {
		return CPUCounters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ParseCPUCounters(f)
}

func ParseCPUCounters(r io.Reader) (CPUCounters, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 5 {
			return CPUCounters{}, fmt.Errorf("unexpected cpu line: %q", line)
		}
		vals := make([]uint64, 8)
		var total uint64
		for i, p := range parts[1:] {
			v, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return CPUCounters{}, fmt.Errorf("parse cpu stat %q: %w", p, err)
			}
			// guest and guest_nice are already counted in user and nice.
			if i < 8 {
				vals[i] = v
				total += v
			}
		}
		return CPUCounters{
			User:    vals[0],
			Nice:    vals[1],
			System:  vals[2],
			Idle:    vals[3],
			IOWait:  vals[4],
			IRQ:     vals[5],
			SoftIRQ: vals[6],
			Steal:   vals[7],
			Total:   total,
		}, nil
	}
	if err := s.Err(); err != nil {
		return CPUCounters{}, fmt.Errorf("scan cpu stats: %w", err)
	}
	return CPUCounters{}, fmt.Errorf("cpu aggregate line not found")
}

// CPUUsage is the busy share of the jiffies elapsed between two readings,
// clamped to [0, 100].
func CPUUsage(prev, cur CPUCounters) float64 {
	if cur.Total <= prev.Total {
		return 0
	}
	totalDelta := float64(cur.Total - prev.Total)
	idleDelta := float64(cur.Idle+cur.IOWait) - float64(prev.Idle+prev.IOWait)
	if idleDelta < 0 {
		idleDelta = 0
	}
	usage := (totalDelta - idleDelta) / totalDelta * 100
	switch {
	case usage < 0:
		return 0
	case usage > 100:
		return 100
	default:
		return usage
	}
}
