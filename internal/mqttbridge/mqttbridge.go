// Package mqttbridge ingests readings published on an MQTT topic through the reading service.
package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lightcar-iot/lightcar/internal/readings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	subscribeQoS   = 1
	connectTimeout = 10 * time.Second
	quiesceMillis  = 250
)

// Message results, used as metric label values.
const (
	resultStored    = "stored"
	resultInvalid   = "invalid"
	resultForbidden = "forbidden"
	resultFailed    = "failed"
)

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// Ingester stores decoded readings.
type Ingester interface {
	Create(ctx context.Context, in readings.Inbound) (readings.Reading, error)
}

// client is the subset of mqtt.Client used by the bridge.
type client interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Bridge subscribes to a topic and stores every valid reading received on it.
type Bridge struct {
	client client
	topic  string
	svc    Ingester

	ctx      context.Context
	messages *prometheus.CounterVec
	log      *slog.Logger
}

type options struct {
	logger    *slog.Logger
	newClient func(*mqtt.ClientOptions) client
}

// Options represents an optional function to override Bridge default values.
type Options func(*options)

// WithLogger sets the logger used by the bridge.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a bridge feeding svc. It does not connect until Start is called.
func New(cfg Config, svc Ingester, reg prometheus.Registerer, args ...Options) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.New("no broker configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("no topic configured")
	}

	opts := options{
		logger:    slog.Default(),
		newClient: func(o *mqtt.ClientOptions) client { return mqtt.NewClient(o) },
	}
	for _, opt := range args {
		opt(&opts)
	}

	b := &Bridge{
		topic: cfg.Topic,
		svc:   svc,
		ctx:   context.Background(),
		log:   opts.logger,
		messages: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lightcar_mqtt_messages_total",
			Help: "Tracks the number of readings received over MQTT by result.",
		}, []string{"result"}),
	}
	for _, r := range []string{resultStored, resultInvalid, resultForbidden, resultFailed} {
		b.messages.WithLabelValues(r)
	}

	// A persistent session keeps the subscription across automatic reconnections.
	mo := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(false).
		SetResumeSubs(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn("MQTT connection lost", "broker", cfg.Broker, "err", err)
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			b.log.Info("Reconnecting to MQTT broker", "broker", cfg.Broker)
		})
	if cfg.Username != "" {
		mo.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		mo.SetPassword(cfg.Password)
	}
	b.client = opts.newClient(mo)

	return b, nil
}

// Start connects to the broker and subscribes to the topic.
// Readings are stored with ctx until Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx

	if t := b.client.Connect(); t.Wait() && t.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", t.Error())
	}

	if t := b.client.Subscribe(b.topic, subscribeQoS, b.handle); t.Wait() && t.Error() != nil {
		b.client.Disconnect(quiesceMillis)
		return fmt.Errorf("failed to subscribe to %q: %w", b.topic, t.Error())
	}

	b.log.Info("Ingesting readings from MQTT", "topic", b.topic)
	return nil
}

// Stop disconnects from the broker, letting in flight messages complete.
func (b *Bridge) Stop() {
	b.client.Disconnect(quiesceMillis)
	b.log.Info("MQTT bridge stopped")
}

func (b *Bridge) handle(_ mqtt.Client, msg mqtt.Message) {
	in, err := readings.Decode(msg.Payload())
	if err != nil {
		b.messages.WithLabelValues(resultInvalid).Inc()
		b.log.Warn("Dropping invalid MQTT reading", "topic", msg.Topic(), "err", err)
		return
	}

	r, err := b.svc.Create(b.ctx, in)
	switch {
	case errors.Is(err, readings.ErrForbidden):
		b.messages.WithLabelValues(resultForbidden).Inc()
		b.log.Warn("Dropping MQTT reading from unknown device", "device_id", in.DeviceID)
	case err != nil:
		b.messages.WithLabelValues(resultFailed).Inc()
		b.log.Error("Failed to store MQTT reading", "device_id", in.DeviceID, "err", err)
	default:
		b.messages.WithLabelValues(resultStored).Inc()
		b.log.Debug("Stored MQTT reading", "id", r.ID, "device_id", r.DeviceID)
	}
}
