package mqttbridge

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
)

// WithClient replaces the paho client, capturing the options it would have been built with.
func WithClient(c *FakeClient) Options {
	return func(o *options) {
		o.newClient = func(mo *mqtt.ClientOptions) client {
			c.Options = mo
			return c
		}
	}
}

// Handle processes a message as if it were received on the subscription.
func (b *Bridge) Handle(msg mqtt.Message) {
	b.handle(nil, msg)
}

// FakeClient records the calls made by the bridge.
type FakeClient struct {
	ConnectErr   error
	SubscribeErr error

	Options      *mqtt.ClientOptions
	Subscribed   string
	QoS          byte
	Callback     mqtt.MessageHandler
	Disconnected bool
}

func (c *FakeClient) Connect() mqtt.Token {
	return &fakeToken{err: c.ConnectErr}
}

func (c *FakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.Subscribed, c.QoS, c.Callback = topic, qos, callback
	return &fakeToken{err: c.SubscribeErr}
}

func (c *FakeClient) Disconnect(uint) {
	c.Disconnected = true
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// FakeMessage is an MQTT message carrying Body.
type FakeMessage struct {
	Body []byte
}

func (m FakeMessage) Duplicate() bool   { return false }
func (m FakeMessage) Qos() byte         { return 1 }
func (m FakeMessage) Retained() bool    { return false }
func (m FakeMessage) Topic() string     { return "lightcar/readings" }
func (m FakeMessage) MessageID() uint16 { return 1 }
func (m FakeMessage) Payload() []byte   { return m.Body }
func (m FakeMessage) Ack()              {}

// Messages returns the counter of messages handled with result.
func (b *Bridge) Messages(result string) prometheus.Counter {
	return b.messages.WithLabelValues(result)
}
