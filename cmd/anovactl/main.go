// Anovactl talks to an Anova Precision Cooker over Bluetooth LE.
//
// It provides device discovery, one-shot cooker commands, and a long-running
// serve mode that polls the cooker and exports its state to Home Assistant
// (MQTT discovery) and Prometheus.
//
// Usage:
//
//	anovactl [command] [flags]
//
// See 'anovactl --help' for available commands.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/anovactl/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anovactl",
	Short: "Anova Precision Cooker BLE controller",
	Long: `Control an Anova Precision Cooker over Bluetooth LE.

Supports device discovery, one-shot commands (status, set-temp, start, ...)
and a serve mode that polls the cooker and bridges it to Home Assistant
and Prometheus.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to config file (default: ~/.config/anovactl/config.yaml)")
}

// loadConfig resolves the config file, validates it and installs the logger.
// A missing default config file is fine; an explicitly named one is not.
func loadConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	explicit := path != ""
	if !explicit {
		path = config.DefaultConfigPath()
	}

	var err error
	cfg, err = config.Load(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: %w", err)
		}
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))
	return nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
