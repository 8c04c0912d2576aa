package collector

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"time"

	"edgepolicy/internal/decision"
)

// Sample is one measurement window on the edge node.
type Sample struct {
	CPU     float64
	RAM     float64
	Traffic string
	Blob    []byte
	At      time.Time
}

type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// TrafficMbps reports the rate implied by sending n bytes once per period,
// rounded to two decimals.
func TrafficMbps(n int, period time.Duration) float64 {
	if period <= 0 {
		return 0
	}
	bps := float64(n) * 8 / period.Seconds()
	return math.Round(bps/1e6*100) / 100
}

// NewBlob returns n random bytes used as simulated traffic.
func NewBlob(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate traffic blob: %w", err)
	}
	return b, nil
}

func finish(cpu, ram float64, blobSize int, period time.Duration) (Sample, error) {
	blob, err := NewBlob(blobSize)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		CPU:     clampPercent(cpu),
		RAM:     clampPercent(ram),
		Traffic: decision.FormatTraffic(TrafficMbps(len(blob), period)),
		Blob:    blob,
		At:      time.Now(),
	}, nil
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return math.Round(v*100) / 100
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
