package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/anovactl/internal/anova"
	"github.com/chaz8081/anovactl/internal/ble"
	"github.com/chaz8081/anovactl/internal/config"
	"github.com/chaz8081/anovactl/internal/metrics"
	"github.com/chaz8081/anovactl/internal/mqtt"
	"github.com/chaz8081/anovactl/internal/poller"
)

var scanSeconds int

func init() {
	scanCmd.Flags().IntVar(&scanSeconds, "timeout", 5, "scan duration in seconds")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setTempCmd)
	rootCmd.AddCommand(setTimerCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(unitCmd)
	rootCmd.AddCommand(serveCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Anova cookers",
	Long: `Scan for Anova Precision Cookers advertising nearby.

Prints the name and address of each cooker found. Put the address in the
config file as device.address to pair with it.`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for Anova cookers (%ds)...\n", scanSeconds)

	devices, err := anova.Discover(ble.NewTinyGoAdapter(), time.Duration(scanSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("No cookers found. Make sure the cooker is powered on and nothing else is connected to it.")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("  %-30s %s\n", d.Name, d.Address)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the cooker status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, client *anova.Client) error {
			printStatus(client.GetStatus(ctx))
			return nil
		})
	},
}

var setTempCmd = &cobra.Command{
	Use:   "set-temp <celsius>",
	Short: "Set the target temperature (Celsius)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		celsius, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q", args[0])
		}
		return withClient(cmd.Context(), func(ctx context.Context, client *anova.Client) error {
			if !client.SetTemperature(ctx, celsius) {
				return fmt.Errorf("cooker did not acknowledge set-temp")
			}
			printStatus(client.CachedStatus())
			return nil
		})
	},
}

var setTimerCmd = &cobra.Command{
	Use:   "set-timer <minutes>",
	Short: "Set the cook timer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := strconv.Atoi(args[0])
		if err != nil || minutes < 0 {
			return fmt.Errorf("invalid timer %q", args[0])
		}
		return withClient(cmd.Context(), func(ctx context.Context, client *anova.Client) error {
			if !client.SetTimer(ctx, minutes) {
				return fmt.Errorf("cooker did not acknowledge set-timer")
			}
			printStatus(client.CachedStatus())
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start cooking",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, client *anova.Client) error {
			if !client.Start(ctx) {
				return fmt.Errorf("cooker did not acknowledge start")
			}
			printStatus(client.CachedStatus())
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop cooking",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, client *anova.Client) error {
			if !client.Stop(ctx) {
				return fmt.Errorf("cooker did not acknowledge stop")
			}
			printStatus(client.CachedStatus())
			return nil
		})
	},
}

var unitCmd = &cobra.Command{
	Use:   "unit <C|F>",
	Short: "Set the display unit on the cooker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unit := anova.Unit(args[0])
		if unit != anova.UnitCelsius && unit != anova.UnitFahrenheit {
			return fmt.Errorf("unit must be C or F, got %q", args[0])
		}
		return withClient(cmd.Context(), func(ctx context.Context, client *anova.Client) error {
			if !client.SetUnit(ctx, unit) {
				return fmt.Errorf("cooker did not acknowledge unit change")
			}
			printStatus(client.CachedStatus())
			return nil
		})
	},
}

// withClient builds a client from the config, connects, runs fn and tears the
// link down again. One-shot commands all go through here.
func withClient(ctx context.Context, fn func(ctx context.Context, client *anova.Client) error) error {
	client, err := newClient(cfg, cfg.ClientOptions())
	if err != nil {
		return err
	}
	defer client.Disconnect()

	if !client.Connect(ctx, cfg.Timing.ConnectAttempts, cfg.ConnectTimeout()) {
		return fmt.Errorf("could not connect to cooker %s", client.Identity().Address)
	}
	return fn(ctx, client)
}

func newClient(cfg *config.Config, opts anova.ClientOptions) (*anova.Client, error) {
	if cfg.Device.Address == "" {
		return nil, fmt.Errorf("no device address configured, run 'anovactl scan' and set device.address")
	}
	identity := anova.DeviceIdentity{
		Address: cfg.Device.Address,
		Name:    cfg.Device.Name,
	}
	return anova.NewClient(ble.NewTinyGoAdapter(), identity, opts)
}

func printStatus(status anova.Status) {
	fmt.Printf("Temperature: %s\n", formatTemp(status.CurrentTemp))
	fmt.Printf("Target:      %s\n", formatTemp(status.TargetTemp))
	fmt.Printf("Timer:       %s\n", formatTimer(status.TimerMinutes))
	fmt.Printf("Running:     %s\n", formatRunning(status.Running))
	fmt.Printf("Unit:        %s\n", formatUnit(status.Unit))
}

func formatTemp(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.1f °C", *v)
}

func formatTimer(v *int) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d min", *v)
}

func formatRunning(v *bool) string {
	if v == nil {
		return "unknown"
	}
	if *v {
		return "yes"
	}
	return "no"
}

func formatUnit(u anova.Unit) string {
	if u == anova.UnitUnknown {
		return "unknown"
	}
	return string(u)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the cooker and export state to MQTT and Prometheus",
	Long: `Run until interrupted, polling the cooker on the configured interval.

Each snapshot goes to the enabled sinks: the Home Assistant MQTT bridge
and the Prometheus endpoint. The BLE link reconnects on demand, so the
cooker can come and go without restarting.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	opts := cfg.ClientOptions()
	opts.Observer = collector

	client, err := newClient(cfg, opts)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	// Best effort; the poller reconnects on every refresh anyway.
	if !client.Connect(ctx, cfg.Timing.ConnectAttempts, cfg.ConnectTimeout()) {
		slog.Warn("[SERVE] cooker unreachable at startup, will keep retrying",
			"address", client.Identity().Address)
	}

	sinks := []poller.Sink{collector.ObserveStatus}

	if cfg.MQTT.Enabled {
		bridge, err := mqtt.NewBridge(cfg.MQTT, client)
		if err != nil {
			return err
		}
		defer bridge.Close()
		sinks = append(sinks, func(status anova.Status, _ bool) {
			bridge.Publish(status)
		})
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		server := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			slog.Info("[SERVE] metrics listening", "addr", cfg.Metrics.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("[SERVE] metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	poller.New(client, cfg.PollInterval(), sinks...).Run(ctx)
	return nil
}
