// Package metrics exposes cooker and link health as prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaz8081/anovactl/internal/anova"
)

// Collector holds the anovactl metrics. It implements anova.Observer so the
// client reports link and command events directly.
type Collector struct {
	registry *prometheus.Registry

	connected   prometheus.Gauge
	currentTemp prometheus.Gauge
	targetTemp  prometheus.Gauge
	timer       prometheus.Gauge
	running     prometheus.Gauge
	lastRefresh prometheus.Gauge

	connectAttempts *prometheus.CounterVec
	disconnects     prometheus.Counter
	commands        *prometheus.CounterVec
}

// NewCollector creates and registers the anovactl metric set on a private
// registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anovactl_connected",
			Help: "1 while the BLE link to the cooker is open",
		}),
		currentTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anovactl_current_temperature_celsius",
			Help: "Current water temperature (Celsius)",
		}),
		targetTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anovactl_target_temperature_celsius",
			Help: "Target water temperature (Celsius)",
		}),
		timer: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anovactl_timer_minutes",
			Help: "Cook timer (minutes)",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anovactl_running",
			Help: "1 while the cooker reports running",
		}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anovactl_last_refresh_timestamp_seconds",
			Help: "Last successful status refresh (epoch seconds)",
		}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anovactl_connect_attempts_total",
			Help: "Connection attempts by result",
		}, []string{"result"}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anovactl_disconnects_total",
			Help: "Unsolicited link drops",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anovactl_commands_total",
			Help: "Write commands by outcome",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		c.connected, c.currentTemp, c.targetTemp, c.timer, c.running,
		c.lastRefresh, c.connectAttempts, c.disconnects, c.commands,
	)
	return c
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConnectAttempt(ok bool) {
	if ok {
		c.connectAttempts.WithLabelValues("success").Inc()
		c.connected.Set(1)
	} else {
		c.connectAttempts.WithLabelValues("failure").Inc()
	}
}

func (c *Collector) Disconnected() {
	c.disconnects.Inc()
	c.connected.Set(0)
}

func (c *Collector) CommandResult(outcome anova.AckOutcome) {
	c.commands.WithLabelValues(outcome.String()).Inc()
}

// ObserveStatus publishes a status snapshot. Unknown fields keep their last
// exported value.
func (c *Collector) ObserveStatus(status anova.Status, connected bool) {
	if connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
	if status.CurrentTemp != nil {
		c.currentTemp.Set(*status.CurrentTemp)
	}
	if status.TargetTemp != nil {
		c.targetTemp.Set(*status.TargetTemp)
	}
	if status.TimerMinutes != nil {
		c.timer.Set(float64(*status.TimerMinutes))
	}
	if status.Running != nil {
		if *status.Running {
			c.running.Set(1)
		} else {
			c.running.Set(0)
		}
	}
	if connected {
		c.lastRefresh.SetToCurrentTime()
	}
}

var _ anova.Observer = (*Collector)(nil)
