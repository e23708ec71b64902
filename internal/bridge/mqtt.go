// v2
// internal/bridge/mqtt.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Rlpzx/auto-riego/internal/bus"
	"github.com/Rlpzx/auto-riego/internal/control"
	"github.com/Rlpzx/auto-riego/internal/metrics"
	"github.com/Rlpzx/auto-riego/internal/zone"
)

const (
	mqttQueueSize      = 256
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttIngestTimeout  = 10 * time.Second
)

// Ingester is the slice of the coordinator the bridge needs.
type Ingester interface {
	Ingest(ctx context.Context, zoneID string, r zone.Reading) (control.Result, error)
}

// pahoClient is the subset of paho.Client the bridge uses, so tests can
// substitute a fake.
type pahoClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

// MQTTConfig holds the bridge's runtime options. The prefix shapes both
// directions: <prefix><zone>/reading in, <prefix><zone>/valve out.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// valveCommand is the actuator-facing message. It is published retained so a
// valve controller that reconnects immediately sees the current position.
type valveCommand struct {
	Valve          string `json:"valve"`
	Reason         string `json:"reason,omitempty"`
	ManualOverride bool   `json:"manualOverride"`
	UpdatedAt      string `json:"updatedAt"`
}

// MQTTBridge connects the controller to field devices: device readings come
// in over <prefix>+/reading and feed the coordinator like any other ingress,
// and valve transitions go out on <prefix><zone>/valve. Broker-level auth is
// trusted; there is no API key on this path.
type MQTTBridge struct {
	cfg      MQTTConfig
	log      *slog.Logger
	client   pahoClient
	ing      Ingester
	sub      *bus.Subscription
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu   sync.Mutex
	last map[string]valveCommand
}

// NewMQTTBridge connects to the broker and starts both directions.
func NewMQTTBridge(cfg MQTTConfig, hub *bus.Hub, ing Ingester, log *slog.Logger) (*MQTTBridge, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return newMQTTBridgeWithClient(cfg, hub, ing, client, log)
}

// newMQTTBridgeWithClient wires the provided client in. Used in tests.
func newMQTTBridgeWithClient(cfg MQTTConfig, hub *bus.Hub, ing Ingester, client pahoClient, log *slog.Logger) (*MQTTBridge, error) {
	b := &MQTTBridge{
		cfg:    cfg,
		log:    log.With(slog.String("component", "mqtt_bridge")),
		client: client,
		ing:    ing,
		last:   map[string]valveCommand{},
	}
	filter := cfg.TopicPrefix + "+/reading"
	token := client.Subscribe(filter, 1, b.onReading)
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", filter, err)
	}
	b.sub = hub.Subscribe(mqttQueueSize, bus.TopicSensorUpdate, bus.TopicControlUpdate)
	b.wg.Add(1)
	go b.run()
	b.log.Info("mqtt_bridge_started", slog.String("broker", cfg.Broker), slog.String("filter", filter))
	return b, nil
}

// Stop detaches from the bus, drains queued events, and disconnects.
func (b *MQTTBridge) Stop() {
	b.stopOnce.Do(func() {
		b.sub.Close()
		b.wg.Wait()
		b.client.Disconnect(250)
		b.log.Info("mqtt_bridge_stopped")
	})
}

// onReading handles one inbound device message. Malformed messages are
// logged and dropped; the broker does not get an error channel.
func (b *MQTTBridge) onReading(_ paho.Client, msg paho.Message) {
	zoneID, ok := zoneFromTopic(msg.Topic(), b.cfg.TopicPrefix)
	if !ok {
		b.log.Warn("mqtt_topic_ignored", slog.String("topic", msg.Topic()))
		return
	}
	var r zone.Reading
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		b.log.Warn("mqtt_reading_malformed", slog.String("zone", zoneID), slog.Any("err", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mqttIngestTimeout)
	defer cancel()
	if _, err := b.ing.Ingest(ctx, zoneID, r); err != nil {
		b.log.Warn("mqtt_ingest_rejected", slog.String("zone", zoneID), slog.Any("err", err))
	}
}

func (b *MQTTBridge) run() {
	defer b.wg.Done()
	for env := range b.sub.C {
		zoneID, cmd, ok := commandFrom(env.Payload)
		if !ok || zoneID == "" {
			continue
		}
		if !b.commandChanged(zoneID, cmd) {
			continue
		}
		b.publishCommand(zoneID, cmd)
	}
}

// commandChanged records cmd as the latest for the zone and reports whether
// it differs from the previous one. Readings that leave the valve alone
// produce events too; only actual transitions reach the actuator.
func (b *MQTTBridge) commandChanged(zoneID string, cmd valveCommand) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, seen := b.last[zoneID]
	if seen && prev.Valve == cmd.Valve && prev.Reason == cmd.Reason && prev.ManualOverride == cmd.ManualOverride {
		return false
	}
	b.last[zoneID] = cmd
	return true
}

func (b *MQTTBridge) publishCommand(zoneID string, cmd valveCommand) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		metrics.IncBridgePublish("mqtt", "fail")
		b.log.Error("mqtt_encode_err", slog.Any("err", err), slog.String("zone", zoneID))
		return
	}
	topic := b.cfg.TopicPrefix + zoneID + "/valve"
	token := b.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		metrics.IncBridgePublish("mqtt", "fail")
		b.log.Error("mqtt_publish_timeout", slog.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		metrics.IncBridgePublish("mqtt", "fail")
		b.log.Error("mqtt_publish_err", slog.Any("err", err), slog.String("topic", topic))
		return
	}
	metrics.IncBridgePublish("mqtt", "ok")
	b.log.Info("valve_command_published", slog.String("topic", topic), slog.String("valve", cmd.Valve))
}

// commandFrom projects a bus payload onto the actuator command. Both event
// kinds carry the post-change state, so either can drive the valve.
func commandFrom(payload any) (string, valveCommand, bool) {
	var zoneID string
	var st zone.State
	switch p := payload.(type) {
	case control.SensorEvent:
		zoneID, st = p.ZoneID, p.State
	case control.ControlEvent:
		zoneID, st = p.ZoneID, p.State
	default:
		return "", valveCommand{}, false
	}
	return zoneID, valveCommand{
		Valve:          st.Valve,
		Reason:         st.Reason,
		ManualOverride: st.ManualOverride,
		UpdatedAt:      st.LastUpdated,
	}, true
}

// zoneFromTopic extracts the zone segment from <prefix><zone>/reading.
func zoneFromTopic(topic, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", false
	}
	zoneID, tail, ok := strings.Cut(rest, "/")
	if !ok || zoneID == "" || tail != "reading" {
		return "", false
	}
	return zoneID, true
}
