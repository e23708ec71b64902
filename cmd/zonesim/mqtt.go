// v1
// cmd/zonesim/mqtt.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mqttEmitter publishes readings to <prefix><zone>/reading and follows the
// retained valve commands the controller publishes on <prefix><zone>/valve.
type mqttEmitter struct {
	log          *slog.Logger
	sim          *Simulator
	client       paho.Client
	readingTopic string
}

func newMQTTEmitter(cfg SimConfig, sim *Simulator, log *slog.Logger) (*mqttEmitter, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID("zonesim-" + cfg.ZoneID).
		SetAutoReconnect(true)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	e := &mqttEmitter{
		log:          log,
		sim:          sim,
		client:       client,
		readingTopic: cfg.MQTTTopicPrefix + cfg.ZoneID + "/reading",
	}
	valveTopic := cfg.MQTTTopicPrefix + cfg.ZoneID + "/valve"
	tok := client.Subscribe(valveTopic, 1, e.onValve)
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("subscribe %s: timeout", valveTopic)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", valveTopic, err)
	}
	log.Info("mqtt emitter connected", "broker", cfg.MQTTBroker, "topic", e.readingTopic)
	return e, nil
}

func (e *mqttEmitter) emit(_ context.Context) {
	payload, _ := json.Marshal(e.sim.reading())
	token := e.client.Publish(e.readingTopic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		e.log.Warn("reading publish timeout", "topic", e.readingTopic)
		return
	}
	if err := token.Error(); err != nil {
		e.log.Warn("reading publish failed", "err", err)
	}
}

func (e *mqttEmitter) onValve(_ paho.Client, msg paho.Message) {
	var cmd struct {
		Valve string `json:"valve"`
	}
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		e.log.Warn("valve command malformed", "err", err)
		return
	}
	e.sim.setValve(cmd.Valve)
}

func (e *mqttEmitter) stop() {
	e.client.Disconnect(250)
}
