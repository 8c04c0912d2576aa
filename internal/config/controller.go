package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"edgepolicy/internal/envelope"
)

type ControllerConfig struct {
	ListenAddr         string        `yaml:"listen_addr"`
	KeyFile            string        `yaml:"key_file"`
	KeyLabel           string        `yaml:"key_label"`
	Framing            string        `yaml:"framing"`
	AcceptTimeout      time.Duration `yaml:"accept_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	TrafficReadTimeout time.Duration `yaml:"traffic_read_timeout"`
	MaxHandlers        int           `yaml:"max_handlers"`
	MaxFrameBytes      int           `yaml:"max_frame_bytes"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	StatusAddr         string        `yaml:"status_addr"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	LogLevel           string        `yaml:"log_level"`
	LogJSON            bool          `yaml:"log_json"`
}

func DefaultController() ControllerConfig {
	return ControllerConfig{
		ListenAddr:         "0.0.0.0:9999",
		KeyFile:            "key.conf",
		Framing:            string(envelope.FramingLengthPrefixed),
		AcceptTimeout:      2 * time.Second,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       5 * time.Second,
		TrafficReadTimeout: 2 * time.Second,
		MaxHandlers:        64,
		MaxFrameBytes:      envelope.DefaultMaxFrame,
		ShutdownGrace:      5 * time.Second,
		MetricsAddr:        "0.0.0.0:9100",
		StatusAddr:         "127.0.0.1:9200",
		ShutdownTimeout:    15 * time.Second,
		LogLevel:           "info",
	}
}

// LoadController builds the controller config from defaults, the optional
// CONTROLLER_CONFIG_FILE and CONTROLLER_* variables, in that order.
func LoadController() (ControllerConfig, error) {
	cfg := DefaultController()
	if err := loadFile(env("CONTROLLER_CONFIG_FILE", ""), &cfg); err != nil {
		return ControllerConfig{}, err
	}

	cfg.ListenAddr = env("CONTROLLER_LISTEN_ADDR", cfg.ListenAddr)
	cfg.KeyFile = env("CONTROLLER_KEY_FILE", cfg.KeyFile)
	cfg.KeyLabel = env("CONTROLLER_KEY_LABEL", cfg.KeyLabel)
	cfg.Framing = strings.ToLower(env("CONTROLLER_FRAMING", cfg.Framing))
	cfg.AcceptTimeout = envDuration("CONTROLLER_ACCEPT_TIMEOUT", cfg.AcceptTimeout)
	cfg.ReadTimeout = envDuration("CONTROLLER_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = envDuration("CONTROLLER_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.TrafficReadTimeout = envDuration("CONTROLLER_TRAFFIC_READ_TIMEOUT", cfg.TrafficReadTimeout)
	cfg.MaxHandlers = envInt("CONTROLLER_MAX_HANDLERS", cfg.MaxHandlers)
	cfg.MaxFrameBytes = envInt("CONTROLLER_MAX_FRAME_BYTES", cfg.MaxFrameBytes)
	cfg.ShutdownGrace = envDuration("CONTROLLER_SHUTDOWN_GRACE", cfg.ShutdownGrace)
	cfg.MetricsAddr = envOptional("CONTROLLER_METRICS_ADDR", cfg.MetricsAddr)
	cfg.StatusAddr = envOptional("CONTROLLER_STATUS_ADDR", cfg.StatusAddr)
	cfg.ShutdownTimeout = envDuration("CONTROLLER_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.LogLevel = strings.ToLower(env("CONTROLLER_LOG_LEVEL", cfg.LogLevel))
	cfg.LogJSON = envBool("CONTROLLER_LOG_JSON", cfg.LogJSON)

	if err := cfg.Validate(); err != nil {
		return ControllerConfig{}, err
	}
	return cfg, nil
}

func (c ControllerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("CONTROLLER_LISTEN_ADDR is required")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return errors.New("CONTROLLER_KEY_FILE is required")
	}
	if _, err := envelope.ParseFraming(c.Framing); err != nil {
		return fmt.Errorf("CONTROLLER_FRAMING: %w", err)
	}
	if c.AcceptTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.TrafficReadTimeout <= 0 {
		return errors.New("controller timeouts must be > 0")
	}
	if c.MaxHandlers <= 0 {
		return errors.New("CONTROLLER_MAX_HANDLERS must be > 0")
	}
	if c.MaxFrameBytes < envelope.Overhead {
		return fmt.Errorf("CONTROLLER_MAX_FRAME_BYTES must be >= %d", envelope.Overhead)
	}
	if c.ShutdownGrace <= 0 {
		return errors.New("CONTROLLER_SHUTDOWN_GRACE must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("CONTROLLER_SHUTDOWN_TIMEOUT must be > 0")
	}
	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}
