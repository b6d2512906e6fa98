package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/limwakra/youless-bridge/internal/meter"
	"github.com/limwakra/youless-bridge/internal/metrics"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Controller receives commands arriving on the per-meter set topics.
type Controller interface {
	Control(name, command string) error
}

// Bridge publishes meter telemetry and status to MQTT and forwards
// commands from the per-meter set topics back to the manager.
type Bridge struct {
	client  pahomqtt.Client
	control Controller
	events  *meter.EventBus
	prefix  string
	logger  *slog.Logger
	unsub   func()
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(control Controller, events *meter.EventBus, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		control: control,
		events:  events,
		prefix:  cfg.TopicPrefix,
		logger:  logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("youless-bridge").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to meter events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.events.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event meter.Event) {
	switch event.Type {
	case meter.EventTelemetry:
		msg, ok := event.Data.(meter.TelemetryMessage)
		if !ok || msg.Record == nil {
			return
		}
		b.publish(msg.Topic, mustJSON(msg.Record), true)
	case meter.EventStatus:
		if event.Meter == "" {
			return
		}
		b.publish(b.prefix+"/"+event.Meter+"/status", mustJSON(event.Data), true)
	case meter.EventMeterRemoved:
		if event.Meter == "" {
			return
		}
		// Clear retained messages for the removed meter.
		b.publish(b.prefix+"/"+event.Meter, nil, true)
		b.publish(b.prefix+"/"+event.Meter+"/status", nil, true)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/+/set"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		b.logger.Warn("MQTT subscribe timeout", "topic", topic)
	} else if err := token.Error(); err != nil {
		b.logger.Warn("MQTT subscribe error", "topic", topic, "err", err)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	name := meterNameFromTopic(b.prefix, topic)
	if name == "" || name == "bridge" {
		return
	}
	command := strings.TrimSpace(string(payload))
	if err := b.control.Control(name, command); err != nil {
		b.logger.Warn("MQTT command failed", "meter", name, "command", command, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			metrics.MQTTPublishFailures.Inc()
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			metrics.MQTTPublishFailures.Inc()
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// meterNameFromTopic extracts the meter name from `<prefix>/<name>/set`.
// Returns "" when the topic does not match that form.
func meterNameFromTopic(prefix, topic string) string {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return ""
	}
	name, ok := strings.CutSuffix(rest, "/set")
	if !ok || name == "" || strings.Contains(name, "/") {
		return ""
	}
	return name
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
