package edge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"edgepolicy/internal/client"
	"edgepolicy/internal/collector"
	"edgepolicy/internal/firewall"
	"edgepolicy/internal/metrics"
	"edgepolicy/internal/model"
	"edgepolicy/internal/recorder"
)

// InitialProfile is reported until the controller assigns another one.
const InitialProfile = model.ProfileLowActivity

// ErrRejected wraps an error directive returned by the controller.
var ErrRejected = errors.New("controller rejected telemetry")

type Cycler interface {
	Cycle(ctx context.Context, t model.Telemetry, traffic []byte) (model.Directive, error)
}

type SampleRecorder interface {
	Record(row recorder.Row) error
}

// Node runs the report/apply loop. It is not safe for concurrent RunCycle
// calls; Run serializes them.
type Node struct {
	id       string
	period   time.Duration
	source   collector.Source
	client   Cycler
	applier  firewall.Applier
	recorder SampleRecorder
	metrics  *metrics.EdgeMetrics
	health   *Health
	logger   *slog.Logger

	current model.Profile
}

type NodeOptions struct {
	ID       string
	Period   time.Duration
	Source   collector.Source
	Client   Cycler
	Applier  firewall.Applier
	Recorder SampleRecorder
	Metrics  *metrics.EdgeMetrics
	Health   *Health
	Logger   *slog.Logger
}

func NewNode(opts NodeOptions) *Node {
	if opts.Period <= 0 {
		opts.Period = 10 * time.Second
	}
	if opts.Health == nil {
		opts.Health = NewHealth(InitialProfile)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Metrics.SetProfile(InitialProfile)
	return &Node{
		id:       opts.ID,
		period:   opts.Period,
		source:   opts.Source,
		client:   opts.Client,
		applier:  opts.Applier,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		health:   opts.Health,
		logger:   opts.Logger,
		current:  InitialProfile,
	}
}

func (n *Node) Current() model.Profile { return n.current }

// Run executes a cycle immediately and then once per period until ctx ends.
// Cycle failures are logged and never stop the loop.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.period)
	defer ticker.Stop()

	for {
		if err := n.RunCycle(ctx); err != nil && ctx.Err() == nil {
			n.logger.Debug("cycle ended with error", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle samples, reports and applies the returned profile when it differs
// from the current one. The current profile only changes after a successful
// apply.
func (n *Node) RunCycle(ctx context.Context) error {
	log := n.logger.With("cycle_id", uuid.NewString(), "node_id", n.id)

	s, err := n.source.Sample(ctx)
	if err != nil {
		n.metrics.Cycle(metrics.CycleSample)
		log.Error("sample failed", "error", err)
		return fmt.Errorf("sample: %w", err)
	}
	n.metrics.Sample(s.CPU, s.RAM)
	defer n.record(log, s)

	t := model.Telemetry{
		CPU:            s.CPU,
		RAM:            s.RAM,
		Traffic:        s.Traffic,
		CurrentProfile: n.current,
	}
	log.Info("reporting telemetry", "cpu", s.CPU, "ram", s.RAM, "traffic", s.Traffic, "current_profile", n.current.String())

	d, err := n.client.Cycle(ctx, t, s.Blob)
	if err != nil {
		var te *client.TransportError
		if errors.As(err, &te) {
			n.health.SetControllerReachable(false)
			n.metrics.Cycle(metrics.CycleTransport)
		} else {
			n.health.SetControllerReachable(true)
			n.metrics.Cycle(metrics.CycleProtocol)
		}
		log.Error("telemetry cycle failed", "error", err)
		return err
	}
	n.health.SetControllerReachable(true)
	n.health.MarkCycle(time.Now())

	if !d.IsOK() {
		n.metrics.Cycle(metrics.CycleRejected)
		log.Warn("controller returned error", "message", d.Message)
		return fmt.Errorf("%w: %s", ErrRejected, d.Message)
	}

	if d.Profile == n.current {
		n.metrics.Cycle(metrics.CycleOK)
		log.Debug("profile unchanged", "profile", d.Profile.String())
		return nil
	}

	err = n.applier.Apply(ctx, d.Profile)
	n.metrics.Applied(d.Profile, err)
	if err != nil {
		n.metrics.Cycle(metrics.CycleApply)
		log.Error("firewall apply failed, keeping current profile", "profile", d.Profile.String(), "current_profile", n.current.String(), "error", err)
		return err
	}
	log.Info("profile changed", "from", n.current.String(), "to", d.Profile.String())
	n.current = d.Profile
	n.health.MarkApplied(d.Profile, time.Now())
	n.metrics.SetProfile(d.Profile)
	n.metrics.Cycle(metrics.CycleOK)
	return nil
}

func (n *Node) record(log *slog.Logger, s collector.Sample) {
	if n.recorder == nil {
		return
	}
	row := recorder.Row{At: s.At, CPU: s.CPU, RAM: s.RAM, Traffic: s.Traffic, Profile: n.current}
	if err := n.recorder.Record(row); err != nil {
		log.Warn("sample log write failed", "error", err)
	}
}
