// Package emitter publishes activity events to an MQTT broker so home
// automation can react to motion and display changes.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/config"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// MQTTEmitter publishes events to an MQTT broker.
type MQTTEmitter struct {
	cfg        config.MQTTConfig
	instanceID string
	client     mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter. No connection is made until Connect.
func NewMQTTEmitter(cfg config.MQTTConfig, instanceID string) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:        cfg,
		instanceID: instanceID,
		published:  make(map[string]uint64),
	}
}

// Connect establishes the broker connection with automatic reconnection.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.instanceID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
			"max_retry_interval", "30s",
			"action", "waiting for automatic reconnection")
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// PublishEvent publishes one activity event to its per-kind topic.
func (e *MQTTEmitter) PublishEvent(ev types.Event) error {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt not connected")
	}

	// Topic layout: wakeonpi/{instance_id}/events/{kind}
	topic := fmt.Sprintf("%s/%s", e.cfg.Topics.Events, ev.Kind)
	qos := e.getQoS(string(ev.Kind))

	payload, err := json.Marshal(ev)
	if err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := e.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("event published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)

	return nil
}

// PublishHealth publishes a health beacon payload.
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	if !e.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	topic := e.cfg.Topics.Health
	qos := e.cfg.QoS["health"]

	token := e.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}

	return token.Error()
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// getQoS returns the QoS level for a given event kind.
func (e *MQTTEmitter) getQoS(kind string) byte {
	if qos, ok := e.cfg.QoS[kind]; ok {
		return qos
	}
	return 0
}
