// Package poller drives the periodic status refresh. The client itself is
// reactive; this is the only long-lived loop in the system.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/anovactl/internal/anova"
)

// Source is the slice of the BLE client the poller reads.
type Source interface {
	GetStatus(ctx context.Context) anova.Status
	IsConnected() bool
}

// Sink receives each refreshed snapshot. Both the metrics collector and the
// MQTT bridge plug in here.
type Sink func(status anova.Status, connected bool)

// Poller refreshes the cooker status on a fixed interval.
type Poller struct {
	source   Source
	interval time.Duration
	sinks    []Sink
}

// New creates a poller. A non-positive interval falls back to 10 seconds,
// matching the cooker's comfortable polling rate.
func New(source Source, interval time.Duration, sinks ...Sink) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{source: source, interval: interval, sinks: sinks}
}

// Run polls until ctx is cancelled. The first refresh happens immediately.
// GetStatus already falls back to the cached snapshot when the device is
// unreachable, so every tick produces something for the sinks.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("[POLL] starting", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("[POLL] stopped")
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	status := p.source.GetStatus(ctx)
	connected := p.source.IsConnected()
	if !connected {
		slog.Debug("[POLL] device unreachable, publishing last known status")
	}
	for _, sink := range p.sinks {
		sink(status, connected)
	}
}
