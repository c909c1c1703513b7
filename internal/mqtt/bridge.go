// Package mqtt publishes cooker state to Home Assistant over MQTT discovery
// and maps command topics back onto the BLE client.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/anovactl/internal/anova"
	"github.com/chaz8081/anovactl/internal/config"
)

const commandTimeout = 30 * time.Second

// Cooker is the slice of the BLE client the bridge drives.
type Cooker interface {
	Identity() anova.DeviceIdentity
	IsConnected() bool
	CachedStatus() anova.Status
	SetTemperature(ctx context.Context, celsius float64) bool
	SetTimer(ctx context.Context, minutes int) bool
	Start(ctx context.Context) bool
	Stop(ctx context.Context) bool
	SetUnit(ctx context.Context, unit anova.Unit) bool
}

// Bridge is the MQTT side of the integration: one cooker, one broker.
type Bridge struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	cooker   Cooker
	deviceID string
}

// NewBridge connects to the broker and announces the device. The broker's
// last-will marks the cooker unavailable if we vanish.
func NewBridge(cfg config.MQTTConfig, cooker Cooker) (*Bridge, error) {
	b := &Bridge{
		cfg:      cfg,
		cooker:   cooker,
		deviceID: deviceID(cooker.Identity().Address),
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID("anovactl-" + b.deviceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(b.topic("availability"), "offline", 0, true)
	opts.OnConnect = func(_ mqtt.Client) {
		b.announce()
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", token.Error())
	}
	b.client = client
	return b, nil
}

// Publish pushes a status snapshot and the availability flag.
func (b *Bridge) Publish(status anova.Status) {
	avail := "offline"
	if b.cooker.IsConnected() {
		avail = "online"
	}
	if err := b.publish(b.topic("availability"), []byte(avail), true); err != nil {
		slog.Warn("[MQTT] availability publish failed", "error", err)
		return
	}
	payload, err := stateJSON(status)
	if err != nil {
		slog.Error("[MQTT] state marshal failed", "error", err)
		return
	}
	if err := b.publish(b.topic("state"), payload, true); err != nil {
		slog.Warn("[MQTT] state publish failed", "error", err)
	}
}

// Close marks the device offline and drops the broker connection.
func (b *Bridge) Close() {
	_ = b.publish(b.topic("availability"), []byte("offline"), true)
	b.client.Disconnect(250)
}

// announce publishes the Home Assistant discovery configs and subscribes to
// the command topics. Runs on every (re)connect so a restarted broker
// relearns the device.
func (b *Bridge) announce() {
	slog.Info("[MQTT] connected, announcing device", "device", b.deviceID)
	for topic, payload := range b.discoveryConfigs() {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("[MQTT] discovery marshal failed", "topic", topic, "error", err)
			continue
		}
		if err := b.publish(topic, data, true); err != nil {
			slog.Warn("[MQTT] discovery publish failed", "topic", topic, "error", err)
		}
	}

	subscriptions := map[string]func(payload string){
		b.topic("set/temperature"): b.handleSetTemperature,
		b.topic("set/timer"):       b.handleSetTimer,
		b.topic("set/run"):         b.handleSetRun,
		b.topic("set/unit"):        b.handleSetUnit,
	}
	for topic, handler := range subscriptions {
		h := handler
		token := b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			h(string(msg.Payload()))
		})
		if token.Wait() && token.Error() != nil {
			slog.Warn("[MQTT] subscribe failed", "topic", topic, "error", token.Error())
		}
	}

	b.Publish(b.cooker.CachedStatus())
}

func (b *Bridge) handleSetTemperature(payload string) {
	celsius, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		slog.Warn("[MQTT] bad temperature payload", "payload", payload)
		return
	}
	b.runCommand("set temperature", func(ctx context.Context) bool {
		return b.cooker.SetTemperature(ctx, celsius)
	})
}

func (b *Bridge) handleSetTimer(payload string) {
	minutes, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil || minutes < 0 {
		slog.Warn("[MQTT] bad timer payload", "payload", payload)
		return
	}
	b.runCommand("set timer", func(ctx context.Context) bool {
		return b.cooker.SetTimer(ctx, minutes)
	})
}

func (b *Bridge) handleSetRun(payload string) {
	switch strings.ToUpper(strings.TrimSpace(payload)) {
	case "ON", "START":
		b.runCommand("start", b.cooker.Start)
	case "OFF", "STOP":
		b.runCommand("stop", b.cooker.Stop)
	default:
		slog.Warn("[MQTT] bad run payload", "payload", payload)
	}
}

func (b *Bridge) handleSetUnit(payload string) {
	unit := anova.Unit(strings.ToUpper(strings.TrimSpace(payload)))
	if unit != anova.UnitCelsius && unit != anova.UnitFahrenheit {
		slog.Warn("[MQTT] bad unit payload", "payload", payload)
		return
	}
	b.runCommand("set unit", func(ctx context.Context) bool {
		return b.cooker.SetUnit(ctx, unit)
	})
}

// runCommand executes a cooker command off the MQTT callback goroutine and
// publishes the refreshed state afterwards.
func (b *Bridge) runCommand(name string, fn func(ctx context.Context) bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if !fn(ctx) {
			slog.Warn("[MQTT] command failed", "command", name)
		}
		b.Publish(b.cooker.CachedStatus())
	}()
}

func (b *Bridge) publish(topic string, payload []byte, retain bool) error {
	token := b.client.Publish(topic, 0, retain, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (b *Bridge) topic(suffix string) string {
	return b.cfg.TopicPrefix + "/" + b.deviceID + "/" + suffix
}

// deviceID derives a topic-safe identifier from the BLE address.
func deviceID(address string) string {
	return strings.ToLower(strings.ReplaceAll(address, ":", ""))
}

// stateMessage is the JSON document on the state topic. Temperatures are
// Celsius; Home Assistant does its own display conversion.
type stateMessage struct {
	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	TimerMinutes       *int     `json:"timer_minutes,omitempty"`
	Running            *bool    `json:"running,omitempty"`
	Unit               string   `json:"unit,omitempty"`
}

func stateJSON(status anova.Status) ([]byte, error) {
	return json.Marshal(stateMessage{
		CurrentTemperature: status.CurrentTemp,
		TargetTemperature:  status.TargetTemp,
		TimerMinutes:       status.TimerMinutes,
		Running:            status.Running,
		Unit:               string(status.Unit),
	})
}

// discoveryConfigs builds the Home Assistant MQTT discovery payloads:
// a temperature sensor, a target-temperature number, a running switch and a
// timer number — the same entity set the device would get from a native
// integration.
func (b *Bridge) discoveryConfigs() map[string]map[string]any {
	name := b.cooker.Identity().Name
	device := map[string]any{
		"identifiers":  []string{"anovactl_" + b.deviceID},
		"name":         name,
		"manufacturer": "Anova",
		"model":        "Precision Cooker",
	}
	state := b.topic("state")
	avail := b.topic("availability")

	prefix := b.cfg.DiscoveryPrefix
	return map[string]map[string]any{
		prefix + "/sensor/" + b.deviceID + "/current_temperature/config": {
			"unique_id":           "anovactl_" + b.deviceID + "_current_temperature",
			"name":                name + " Temperature",
			"state_topic":         state,
			"availability_topic":  avail,
			"value_template":      "{{ value_json.current_temperature }}",
			"unit_of_measurement": "°C",
			"device_class":        "temperature",
			"device":              device,
		},
		prefix + "/number/" + b.deviceID + "/target_temperature/config": {
			"unique_id":           "anovactl_" + b.deviceID + "_target_temperature",
			"name":                name + " Target Temperature",
			"state_topic":         state,
			"availability_topic":  avail,
			"command_topic":       b.topic("set/temperature"),
			"value_template":      "{{ value_json.target_temperature }}",
			"unit_of_measurement": "°C",
			"min":                 20,
			"max":                 95,
			"step":                0.5,
			"device":              device,
		},
		prefix + "/switch/" + b.deviceID + "/running/config": {
			"unique_id":          "anovactl_" + b.deviceID + "_running",
			"name":               name + " Cooking",
			"state_topic":        state,
			"availability_topic": avail,
			"command_topic":      b.topic("set/run"),
			"value_template":     "{{ 'ON' if value_json.running else 'OFF' }}",
			"payload_on":         "ON",
			"payload_off":        "OFF",
			"device":             device,
		},
		prefix + "/number/" + b.deviceID + "/timer/config": {
			"unique_id":           "anovactl_" + b.deviceID + "_timer",
			"name":                name + " Timer",
			"state_topic":         state,
			"availability_topic":  avail,
			"command_topic":       b.topic("set/timer"),
			"value_template":      "{{ value_json.timer_minutes }}",
			"unit_of_measurement": "min",
			"min":                 0,
			"max":                 6000,
			"step":                1,
			"device":              device,
		},
	}
}
