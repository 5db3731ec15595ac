package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"camera_capture_system/internal/capture"
)

// MQTTConfig selects the broker and topic prefix.
type MQTTConfig struct {
	// Broker is host:port or a full URL such as tcp://host:1883.
	Broker   string
	Topic    string
	ClientID string
}

// MQTTEmitter publishes session events to an MQTT broker, one topic per
// event kind under the configured prefix.
type MQTTEmitter struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

var _ capture.Observer = (*MQTTEmitter)(nil)

// NewMQTTEmitter creates an emitter. Nothing is dialed until Connect.
func NewMQTTEmitter(cfg MQTTConfig, logger *slog.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:    cfg,
		logger: logger.With("component", "mqtt", "broker", cfg.Broker),
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes connection to the broker.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	e.client = mqtt.NewClient(opts)
	e.logger.Info("connecting to mqtt broker")

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Notify publishes ev as JSON to <topic>/<kind>. Failures are logged and
// counted, never returned to the capture loop.
func (e *MQTTEmitter) Notify(ev capture.Event) {
	if err := e.publish(ev); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		e.logger.Warn("failed to publish event", "kind", ev.Kind, "error", err)
	}
}

func (e *MQTTEmitter) publish(ev capture.Event) error {
	if !e.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	topic := e.topic(ev.Kind)

	// Chunk boundaries matter to downstream consumers, so ask for delivery.
	token := e.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	e.logger.Debug("event published", "topic", topic, "size", len(payload))
	return nil
}

func (e *MQTTEmitter) topic(kind capture.EventKind) string {
	return strings.TrimSuffix(e.cfg.Topic, "/") + "/" + string(kind)
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns how many events were published and how many failed.
func (e *MQTTEmitter) Stats() (published, errors uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published, e.errors
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
