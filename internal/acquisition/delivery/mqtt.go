package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lightcar-iot/lightcar/internal/readings"
)

const (
	publishQoS    = 1
	quiesceMillis = 250
)

// MQTTConfig holds the broker settings of the MQTT output.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

// publisher is the subset of mqtt.Client used to publish readings.
type publisher interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes readings on a topic.
type MQTT struct {
	client  publisher
	topic   string
	timeout time.Duration
}

type mqttOptions struct {
	newClient func(*mqtt.ClientOptions) publisher
}

// MQTTOptions represents an optional function to override MQTT default values.
type MQTTOptions func(*mqttOptions)

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig, args ...MQTTOptions) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("no broker configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("no topic configured")
	}

	opts := mqttOptions{
		newClient: func(o *mqtt.ClientOptions) publisher { return mqtt.NewClient(o) },
	}
	for _, opt := range args {
		opt(&opts)
	}

	mo := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	c := opts.newClient(mo)

	t := c.Connect()
	if !t.WaitTimeout(cfg.Timeout) {
		// Stops the pending connection attempt.
		c.Disconnect(quiesceMillis)
		return nil, fmt.Errorf("%w: connecting to %s", ErrTimeout, cfg.Broker)
	}
	if err := t.Error(); err != nil {
		c.Disconnect(quiesceMillis)
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return &MQTT{client: c, topic: cfg.Topic, timeout: cfg.Timeout}, nil
}

// Name identifies the output in logs.
func (m *MQTT) Name() string {
	return "mqtt"
}

// Send publishes in with at least once delivery and waits for the broker acknowledgement.
func (m *MQTT) Send(ctx context.Context, in readings.Inbound) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %v", err)
	}

	t := m.client.Publish(m.topic, publishQoS, false, payload)
	select {
	case <-t.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: publishing to %s", ErrTimeout, m.topic)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(quiesceMillis)
	return nil
}
