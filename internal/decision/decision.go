// Package decision maps edge load metrics to a policy profile.
package decision

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"edgepolicy/internal/model"
)

// FallbackProfile is assigned when metrics are missing or unreadable.
const FallbackProfile = model.ProfileLowActivity

var ErrMetric = errors.New("invalid metric")

// Decide classifies one sample. Rules are evaluated in order and the first
// match wins; traffic does not influence the result.
func Decide(cpu, ram float64, _ string) model.Profile {
	switch {
	case cpu > 70 && ram > 50:
		return model.ProfileCriticalTask
	case cpu > 70:
		return model.ProfileHighActivity
	case cpu > 30 && ram > 50:
		return model.ProfileHighActivity
	case cpu > 30:
		return model.ProfileLowActivity
	case cpu < 20 && ram < 25:
		return model.ProfileIdle
	default:
		return model.ProfileLowActivity
	}
}

// Result is the outcome of evaluating a decoded telemetry payload.
// Fallback is set when the profile is the default because a metric was
// missing or malformed.
type Result struct {
	Profile     model.Profile
	CPU         float64
	RAM         float64
	TrafficMbps float64
	Fallback    error
}

// Evaluate extracts cpu, ram and traffic from a decoded payload and decides.
func Evaluate(fields map[string]any) Result {
	cpu, err := percentField(fields, "cpu")
	if err != nil {
		return Result{Profile: FallbackProfile, Fallback: err}
	}
	ram, err := percentField(fields, "ram")
	if err != nil {
		return Result{Profile: FallbackProfile, Fallback: err}
	}
	rawTraffic, _ := fields["traffic"].(string)
	traffic, err := ParseTraffic(rawTraffic)
	if err != nil {
		return Result{Profile: FallbackProfile, CPU: cpu, RAM: ram, Fallback: err}
	}
	return Result{
		Profile:     Decide(cpu, ram, rawTraffic),
		CPU:         cpu,
		RAM:         ram,
		TrafficMbps: traffic,
	}
}

// ParseTraffic reads a "<float>Mbps" string.
func ParseTraffic(raw string) (float64, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, fmt.Errorf("%w: traffic missing", ErrMetric)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "Mbps")), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: traffic %q", ErrMetric, raw)
	}
	return f, nil
}

func FormatTraffic(mbps float64) string {
	return strconv.FormatFloat(mbps, 'f', -1, 64) + "Mbps"
}

func percentField(fields map[string]any, name string) (float64, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%w: %s missing", ErrMetric, name)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q", ErrMetric, name, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrMetric, name, raw)
	}
}
