package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFixtures(t *testing.T) ProcConfig {
	t.Helper()
	dir := t.TempDir()
	stat := filepath.Join(dir, "stat")
	mem := filepath.Join(dir, "meminfo")
	if err := os.WriteFile(stat, []byte("cpu  100 0 50 800 50 0 0 0 0 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mem, []byte("MemTotal: 1000 kB\nMemFree: 100 kB\nMemAvailable: 250 kB\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return ProcConfig{StatPath: stat, MeminfoPath: mem, Period: 10 * time.Second, BlobSize: 65536}
}

func TestTrafficMbps(t *testing.T) {
	tests := []struct {
		bytes  int
		period time.Duration
		want   float64
	}{
		{65536, 10 * time.Second, 0.05},
		{1_250_000, time.Second, 10},
		{0, time.Second, 0},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := TrafficMbps(tt.bytes, tt.period); got != tt.want {
			t.Errorf("TrafficMbps(%d, %s) = %v, want %v", tt.bytes, tt.period, got, tt.want)
		}
	}
}

func TestNewBlob(t *testing.T) {
	a, err := NewBlob(64)
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	b, _ := NewBlob(64)
	if len(a) != 64 || string(a) == string(b) {
		t.Fatalf("blobs should be 64 random bytes")
	}
	if empty, _ := NewBlob(0); empty != nil {
		t.Fatalf("zero size blob = %v", empty)
	}
}

func TestProcSourceSample(t *testing.T) {
	src := NewProcSource(writeFixtures(t))
	s, err := src.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.CPU != 0 {
		t.Fatalf("cpu from unchanged counters = %v", s.CPU)
	}
	if s.RAM != 75 {
		t.Fatalf("ram = %v, want 75", s.RAM)
	}
	if s.Traffic != "0.05Mbps" || len(s.Blob) != 65536 {
		t.Fatalf("traffic = %q blob = %d", s.Traffic, len(s.Blob))
	}
}

func TestProcSourceMissingFile(t *testing.T) {
	cfg := writeFixtures(t)
	cfg.MeminfoPath = filepath.Join(t.TempDir(), "absent")
	if _, err := NewProcSource(cfg).Sample(context.Background()); err == nil {
		t.Fatal("expected error for missing meminfo")
	}
}

func TestProcSourceWindowHonoursContext(t *testing.T) {
	cfg := writeFixtures(t)
	cfg.Window = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewProcSource(cfg).Sample(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

type fakeLoad struct {
	cpu, ram       float64
	cpuErr, ramErr error
}

func (f fakeLoad) CPUPercent(context.Context) (float64, error) { return f.cpu, f.cpuErr }
func (f fakeLoad) RAMPercent(context.Context) (float64, error) { return f.ram, f.ramErr }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLibvirtSourceUsesNodeStats(t *testing.T) {
	src := NewLibvirtSource(fakeLoad{cpu: 81.234, ram: 42}, writeFixtures(t), discard())
	s, err := src.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.CPU != 81.23 || s.RAM != 42 {
		t.Fatalf("sample = %+v", s)
	}
}

func TestLibvirtSourceFallsBackToProc(t *testing.T) {
	src := NewLibvirtSource(fakeLoad{cpu: 90, ramErr: errors.New("rpc down")}, writeFixtures(t), discard())
	s, err := src.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.CPU != 90 || s.RAM != 75 {
		t.Fatalf("sample = cpu %v ram %v, want 90 and 75", s.CPU, s.RAM)
	}
}
