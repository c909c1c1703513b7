// Package config loads the anovactl YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/anovactl/internal/anova"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Timing   TimingConfig  `yaml:"timing"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Metrics  MetricsConfig `yaml:"metrics"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig identifies the paired cooker.
type DeviceConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

// TimingConfig exposes the framing heuristic and command timing knobs.
// All values are seconds; the defaults were tuned against real hardware.
type TimingConfig struct {
	StatusSilenceWindow float64 `yaml:"status_silence_window"`
	StatusMinWait       float64 `yaml:"status_min_wait"`
	AckSilenceWindow    float64 `yaml:"ack_silence_window"`
	AckMinWait          float64 `yaml:"ack_min_wait"`
	CommandTimeout      float64 `yaml:"command_timeout"`
	InterCommandDelay   float64 `yaml:"inter_command_delay"`
	ConnectTimeout      float64 `yaml:"connect_timeout"`
	ConnectAttempts     int     `yaml:"connect_attempts"`
	PollInterval        float64 `yaml:"poll_interval"`
}

// MQTTConfig configures the Home Assistant bridge.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	TLS             bool   `yaml:"tls"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "anovactl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "Anova Precision Cooker",
		},
		Timing: TimingConfig{
			StatusSilenceWindow: 3.0,
			StatusMinWait:       1.5,
			AckSilenceWindow:    1.0,
			AckMinWait:          0.5,
			CommandTimeout:      5.0,
			InterCommandDelay:   0.2,
			ConnectTimeout:      10.0,
			ConnectAttempts:     3,
			PollInterval:        10.0,
		},
		MQTT: MQTTConfig{
			Port:            1883,
			TopicPrefix:     "anovactl",
			DiscoveryPrefix: "homeassistant",
		},
		Metrics: MetricsConfig{
			Listen: ":9809",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values. The device address is
// rejected here, before anything touches the radio.
func (c *Config) Validate() error {
	if c.Device.Address != "" {
		if _, err := anova.CanonicalAddress(c.Device.Address); err != nil {
			return fmt.Errorf("device.address: %w", err)
		}
	}

	for name, v := range map[string]float64{
		"timing.status_silence_window": c.Timing.StatusSilenceWindow,
		"timing.status_min_wait":       c.Timing.StatusMinWait,
		"timing.ack_silence_window":    c.Timing.AckSilenceWindow,
		"timing.ack_min_wait":          c.Timing.AckMinWait,
		"timing.command_timeout":       c.Timing.CommandTimeout,
		"timing.connect_timeout":       c.Timing.ConnectTimeout,
		"timing.poll_interval":         c.Timing.PollInterval,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Timing.InterCommandDelay < 0 {
		return fmt.Errorf("timing.inter_command_delay must be >= 0")
	}
	if c.Timing.ConnectAttempts < 1 {
		return fmt.Errorf("timing.connect_attempts must be >= 1")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return fmt.Errorf("mqtt.host must be set when mqtt is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port must be a valid port, got %d", c.MQTT.Port)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen must be set when metrics are enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ClientOptions translates the timing section into client options.
func (c *Config) ClientOptions() anova.ClientOptions {
	opts := anova.DefaultClientOptions()
	opts.CommandTimeout = seconds(c.Timing.CommandTimeout)
	opts.InterCommandDelay = seconds(c.Timing.InterCommandDelay)
	opts.StatusPolicy = anova.CompletionPolicy{
		SilenceWindow: seconds(c.Timing.StatusSilenceWindow),
		MinWait:       seconds(c.Timing.StatusMinWait),
	}
	opts.AckPolicy = anova.CompletionPolicy{
		SilenceWindow: seconds(c.Timing.AckSilenceWindow),
		MinWait:       seconds(c.Timing.AckMinWait),
	}
	return opts
}

// ConnectTimeout returns the per-attempt connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return seconds(c.Timing.ConnectTimeout)
}

// PollInterval returns the periodic refresh interval.
func (c *Config) PollInterval() time.Duration {
	return seconds(c.Timing.PollInterval)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
