package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"edgepolicy/internal/envelope"
)

type MetricsSource string

const (
	MetricsSourceProc    MetricsSource = "proc"
	MetricsSourceLibvirt MetricsSource = "libvirt"
)

type EdgeConfig struct {
	NodeID          string        `yaml:"node_id"`
	ControllerAddr  string        `yaml:"controller_addr"`
	KeyFile         string        `yaml:"key_file"`
	KeyLabel        string        `yaml:"key_label"`
	Framing         string        `yaml:"framing"`
	MaxFrameBytes   int           `yaml:"max_frame_bytes"`
	Period          time.Duration `yaml:"period"`
	SampleWindow    time.Duration `yaml:"sample_window"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	CycleTimeout    time.Duration `yaml:"cycle_timeout"`
	TrafficBytes    int           `yaml:"traffic_bytes"`
	MetricsSource   MetricsSource `yaml:"metrics_source"`
	LibvirtURI      string        `yaml:"libvirt_uri"`
	FirewallScript  string        `yaml:"firewall_script"`
	FirewallSudo    bool          `yaml:"firewall_sudo"`
	FirewallTimeout time.Duration `yaml:"firewall_timeout"`
	SampleLog       string        `yaml:"sample_log"`
	ProbeAddr       string        `yaml:"probe_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogJSON         bool          `yaml:"log_json"`
}

func DefaultEdge() EdgeConfig {
	return EdgeConfig{
		NodeID:          hostname(),
		ControllerAddr:  "127.0.0.1:9999",
		KeyFile:         "key.conf",
		Framing:         string(envelope.FramingLengthPrefixed),
		MaxFrameBytes:   envelope.DefaultMaxFrame,
		Period:          10 * time.Second,
		SampleWindow:    time.Second,
		DialTimeout:     5 * time.Second,
		CycleTimeout:    10 * time.Second,
		TrafficBytes:    65536,
		MetricsSource:   MetricsSourceProc,
		LibvirtURI:      "qemu:///system",
		FirewallScript:  "./firewall.sh",
		FirewallSudo:    true,
		FirewallTimeout: 15 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
	}
}

// LoadEdge builds the edge config from defaults, the optional
// EDGE_CONFIG_FILE and EDGE_* variables, in that order.
func LoadEdge() (EdgeConfig, error) {
	cfg := DefaultEdge()
	if err := loadFile(env("EDGE_CONFIG_FILE", ""), &cfg); err != nil {
		return EdgeConfig{}, err
	}

	cfg.NodeID = env("EDGE_NODE_ID", cfg.NodeID)
	cfg.ControllerAddr = env("EDGE_CONTROLLER_ADDR", cfg.ControllerAddr)
	cfg.KeyFile = env("EDGE_KEY_FILE", cfg.KeyFile)
	cfg.KeyLabel = env("EDGE_KEY_LABEL", cfg.KeyLabel)
	cfg.Framing = strings.ToLower(env("EDGE_FRAMING", cfg.Framing))
	cfg.MaxFrameBytes = envInt("EDGE_MAX_FRAME_BYTES", cfg.MaxFrameBytes)
	cfg.Period = envDuration("EDGE_PERIOD", cfg.Period)
	cfg.SampleWindow = envDuration("EDGE_SAMPLE_WINDOW", cfg.SampleWindow)
	cfg.DialTimeout = envDuration("EDGE_DIAL_TIMEOUT", cfg.DialTimeout)
	cfg.CycleTimeout = envDuration("EDGE_CYCLE_TIMEOUT", cfg.CycleTimeout)
	cfg.TrafficBytes = envInt("EDGE_TRAFFIC_BYTES", cfg.TrafficBytes)
	cfg.MetricsSource = MetricsSource(strings.ToLower(env("EDGE_METRICS_SOURCE", string(cfg.MetricsSource))))
	cfg.LibvirtURI = env("EDGE_LIBVIRT_URI", cfg.LibvirtURI)
	cfg.FirewallScript = env("EDGE_FIREWALL_SCRIPT", cfg.FirewallScript)
	cfg.FirewallSudo = envBool("EDGE_FIREWALL_SUDO", cfg.FirewallSudo)
	cfg.FirewallTimeout = envDuration("EDGE_FIREWALL_TIMEOUT", cfg.FirewallTimeout)
	cfg.SampleLog = envOptional("EDGE_SAMPLE_LOG", cfg.SampleLog)
	cfg.ProbeAddr = envOptional("EDGE_PROBE_ADDR", cfg.ProbeAddr)
	cfg.MetricsAddr = envOptional("EDGE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.ShutdownTimeout = envDuration("EDGE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.LogLevel = strings.ToLower(env("EDGE_LOG_LEVEL", cfg.LogLevel))
	cfg.LogJSON = envBool("EDGE_LOG_JSON", cfg.LogJSON)

	if err := cfg.Validate(); err != nil {
		return EdgeConfig{}, err
	}
	return cfg, nil
}

func (c EdgeConfig) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return errors.New("EDGE_NODE_ID is required")
	}
	if strings.TrimSpace(c.ControllerAddr) == "" {
		return errors.New("EDGE_CONTROLLER_ADDR is required")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return errors.New("EDGE_KEY_FILE is required")
	}
	if _, err := envelope.ParseFraming(c.Framing); err != nil {
		return fmt.Errorf("EDGE_FRAMING: %w", err)
	}
	if c.MaxFrameBytes < envelope.Overhead {
		return fmt.Errorf("EDGE_MAX_FRAME_BYTES must be >= %d", envelope.Overhead)
	}
	if c.Period <= 0 {
		return errors.New("EDGE_PERIOD must be > 0")
	}
	if c.SampleWindow < 0 || c.SampleWindow >= c.Period {
		return errors.New("EDGE_SAMPLE_WINDOW must be >= 0 and shorter than EDGE_PERIOD")
	}
	if c.DialTimeout <= 0 || c.CycleTimeout <= 0 {
		return errors.New("EDGE_DIAL_TIMEOUT and EDGE_CYCLE_TIMEOUT must be > 0")
	}
	if c.TrafficBytes < 0 || c.TrafficBytes > c.MaxFrameBytes-envelope.Overhead {
		return fmt.Errorf("EDGE_TRAFFIC_BYTES must be between 0 and %d", c.MaxFrameBytes-envelope.Overhead)
	}
	switch c.MetricsSource {
	case MetricsSourceProc:
	case MetricsSourceLibvirt:
		if strings.TrimSpace(c.LibvirtURI) == "" {
			return errors.New("EDGE_LIBVIRT_URI is required for libvirt metrics")
		}
	default:
		return fmt.Errorf("unsupported metrics source %q", c.MetricsSource)
	}
	if strings.TrimSpace(c.FirewallScript) == "" {
		return errors.New("EDGE_FIREWALL_SCRIPT is required")
	}
	if c.FirewallTimeout <= 0 {
		return errors.New("EDGE_FIREWALL_TIMEOUT must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("EDGE_SHUTDOWN_TIMEOUT must be > 0")
	}
	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}
