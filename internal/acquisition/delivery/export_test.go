package delivery

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// WithPublisher replaces the paho client, capturing the options it would have been built with.
func WithPublisher(p *FakePublisher) MQTTOptions {
	return func(o *mqttOptions) {
		o.newClient = func(mo *mqtt.ClientOptions) publisher {
			p.Options = mo
			return p
		}
	}
}

// FakePublisher records the calls made by the MQTT output.
type FakePublisher struct {
	ConnectErr  error
	ConnectHang bool
	PublishErr  error
	PublishHang bool

	Options      *mqtt.ClientOptions
	Topic        string
	QoS          byte
	Payloads     [][]byte
	Disconnected bool

	mu sync.Mutex
}

func (p *FakePublisher) Connect() mqtt.Token {
	return newFakeToken(p.ConnectErr, p.ConnectHang)
}

func (p *FakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Topic, p.QoS = topic, qos
	p.Payloads = append(p.Payloads, payload.([]byte))
	return newFakeToken(p.PublishErr, p.PublishHang)
}

func (p *FakePublisher) Disconnect(uint) {
	p.Disconnected = true
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error, hang bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if !hang {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }
