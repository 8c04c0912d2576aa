package libvirt

import (
	"context"
	"errors"
	"math"
	"testing"

	golibvirt "github.com/digitalocean/go-libvirt"
)

type fakeNode struct {
	cpu       [][]golibvirt.NodeGetCPUStats
	mem       []golibvirt.NodeGetMemoryStats
	err       error
	cpuCalls  int
	countOnly bool
}

func (f *fakeNode) NodeGetCPUStats(_ int32, nparams int32, _ uint32) ([]golibvirt.NodeGetCPUStats, int32, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	if f.countOnly && nparams == 0 {
		return nil, int32(len(f.cpu[0])), nil
	}
	i := f.cpuCalls
	if i >= len(f.cpu) {
		i = len(f.cpu) - 1
	}
	f.cpuCalls++
	return f.cpu[i], int32(len(f.cpu[i])), nil
}

func (f *fakeNode) NodeGetMemoryStats(nparams int32, _ int32, _ uint32) ([]golibvirt.NodeGetMemoryStats, int32, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	if f.countOnly && nparams == 0 {
		return nil, int32(len(f.mem)), nil
	}
	return f.mem, int32(len(f.mem)), nil
}

type fakeSource struct {
	client      NodeStatsClient
	err         error
	invalidated int
}

func (s *fakeSource) Client(context.Context) (NodeStatsClient, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

func (s *fakeSource) Invalidate() { s.invalidated++ }

func cpuSample(user, system, idle, iowait uint64) []golibvirt.NodeGetCPUStats {
	return []golibvirt.NodeGetCPUStats{
		{Field: "kernel", Value: system},
		{Field: "user", Value: user},
		{Field: "idle", Value: idle},
		{Field: "iowait", Value: iowait},
	}
}

func TestCPUPercentFromDeltas(t *testing.T) {
	node := &fakeNode{cpu: [][]golibvirt.NodeGetCPUStats{
		cpuSample(100, 100, 800, 0),
		cpuSample(400, 100, 1300, 200),
	}}
	r := NewNodeLoadReader(&fakeSource{client: node})

	first, err := r.CPUPercent(context.Background())
	if err != nil {
		t.Fatalf("first sample: %v", err)
	}
	if first != 0 {
		t.Fatalf("first sample should prime counters, got %v", first)
	}
	got, err := r.CPUPercent(context.Background())
	if err != nil {
		t.Fatalf("second sample: %v", err)
	}
	// busy 200 -> 500, total 1000 -> 2000
	if math.Abs(got-30) > 1e-9 {
		t.Fatalf("cpu = %v, want 30", got)
	}
}

func TestCPUPercentTwoStepParams(t *testing.T) {
	node := &fakeNode{countOnly: true, cpu: [][]golibvirt.NodeGetCPUStats{cpuSample(1, 1, 1, 1)}}
	r := NewNodeLoadReader(&fakeSource{client: node})
	if _, err := r.CPUPercent(context.Background()); err != nil {
		t.Fatalf("CPUPercent: %v", err)
	}
	if node.cpuCalls != 1 {
		t.Fatalf("expected one parameter fetch, got %d", node.cpuCalls)
	}
}

func TestRAMPercent(t *testing.T) {
	node := &fakeNode{mem: []golibvirt.NodeGetMemoryStats{
		{Field: "total", Value: 1000},
		{Field: "free", Value: 200},
		{Field: "buffers", Value: 50},
		{Field: "cached", Value: 150},
	}}
	r := NewNodeLoadReader(&fakeSource{client: node})
	got, err := r.RAMPercent(context.Background())
	if err != nil {
		t.Fatalf("RAMPercent: %v", err)
	}
	if math.Abs(got-60) > 1e-9 {
		t.Fatalf("ram = %v, want 60", got)
	}
}

func TestRAMPercentZeroTotal(t *testing.T) {
	node := &fakeNode{mem: []golibvirt.NodeGetMemoryStats{{Field: "free", Value: 1}}}
	r := NewNodeLoadReader(&fakeSource{client: node})
	if _, err := r.RAMPercent(context.Background()); err == nil {
		t.Fatal("expected error for zero total")
	}
}

func TestCallFailureInvalidatesConnection(t *testing.T) {
	src := &fakeSource{client: &fakeNode{err: errors.New("rpc closed")}}
	r := NewNodeLoadReader(src)
	if _, err := r.CPUPercent(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := r.RAMPercent(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if src.invalidated != 2 {
		t.Fatalf("invalidated = %d, want 2", src.invalidated)
	}
}

func TestConnectErrorIsReturned(t *testing.T) {
	want := errors.New("no daemon")
	r := NewNodeLoadReader(&fakeSource{err: want})
	if _, err := r.CPUPercent(context.Background()); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestParseURI(t *testing.T) {
	u, err := parseURI("")
	if err != nil || u.Scheme != "qemu" {
		t.Fatalf("default uri = %v, %v", u, err)
	}
	if _, err := parseURI("no-scheme"); err == nil {
		t.Fatal("expected error for uri without scheme")
	}
}
