package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Timing.StatusSilenceWindow != 3.0 {
		t.Errorf("StatusSilenceWindow = %v, want 3.0", cfg.Timing.StatusSilenceWindow)
	}
	if cfg.Timing.StatusMinWait != 1.5 {
		t.Errorf("StatusMinWait = %v, want 1.5", cfg.Timing.StatusMinWait)
	}
	if cfg.Timing.AckSilenceWindow != 1.0 {
		t.Errorf("AckSilenceWindow = %v, want 1.0", cfg.Timing.AckSilenceWindow)
	}
	if cfg.Timing.AckMinWait != 0.5 {
		t.Errorf("AckMinWait = %v, want 0.5", cfg.Timing.AckMinWait)
	}
	if cfg.Timing.PollInterval != 10.0 {
		t.Errorf("PollInterval = %v, want 10.0", cfg.Timing.PollInterval)
	}
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("DiscoveryPrefix = %q, want homeassistant", cfg.MQTT.DiscoveryPrefix)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  address: aa:bb:cc:dd:ee:ff
  name: Kitchen Cooker
timing:
  status_silence_window: 2.5
  poll_interval: 30
mqtt:
  enabled: true
  host: broker.local
log_level: debug
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Address != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("Device.Address = %q", cfg.Device.Address)
	}
	if cfg.Timing.StatusSilenceWindow != 2.5 {
		t.Errorf("StatusSilenceWindow = %v, want 2.5", cfg.Timing.StatusSilenceWindow)
	}
	// Unset fields keep their defaults.
	if cfg.Timing.AckSilenceWindow != 1.0 {
		t.Errorf("AckSilenceWindow = %v, want default 1.0", cfg.Timing.AckSilenceWindow)
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("MQTT.Port = %d, want default 1883", cfg.MQTT.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidateRejectsBadAddress(t *testing.T) {
	cfg := Default()
	cfg.Device.Address = "not-a-mac"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a malformed device address")
	}
}

func TestValidateRejectsBadTiming(t *testing.T) {
	cfg := Default()
	cfg.Timing.StatusSilenceWindow = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a zero silence window")
	}
}

func TestValidateRequiresMQTTHost(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted enabled MQTT without a host")
	}
}

func TestClientOptionsFromTiming(t *testing.T) {
	cfg := Default()
	opts := cfg.ClientOptions()
	if opts.StatusPolicy.SilenceWindow != 3*time.Second {
		t.Errorf("StatusPolicy.SilenceWindow = %v, want 3s", opts.StatusPolicy.SilenceWindow)
	}
	if opts.StatusPolicy.MinWait != 1500*time.Millisecond {
		t.Errorf("StatusPolicy.MinWait = %v, want 1.5s", opts.StatusPolicy.MinWait)
	}
	if opts.AckPolicy.MinWait != 500*time.Millisecond {
		t.Errorf("AckPolicy.MinWait = %v, want 500ms", opts.AckPolicy.MinWait)
	}
	if opts.CommandTimeout != 5*time.Second {
		t.Errorf("CommandTimeout = %v, want 5s", opts.CommandTimeout)
	}
}
