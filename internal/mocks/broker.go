package mocks

import (
	"strings"
	"sync"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
)

// Published is one message seen by a FakeBroker.
type Published struct {
	Topic    string
	QOS      byte
	Retained bool
	Payload  []byte
}

// FakeBroker is an in-memory MQTT middleware. It records publishes and hands
// injected messages to matching subscriptions.
type FakeBroker struct {
	mu            sync.Mutex
	published     []Published
	subscriptions map[string]mqttLib.MessageHandler
	PublishErr    error
}

// NewFakeBroker creates an empty broker.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{subscriptions: make(map[string]mqttLib.MessageHandler)}
}

func (b *FakeBroker) Init(_ interface{}) error { return nil }

func (b *FakeBroker) SetNext(_ mqtt_middleware.MQTTMiddleware) {}

func (b *FakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	data, err := utils.ToPayload(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, Published{Topic: topic, QOS: qos, Retained: retained, Payload: data})
	b.mu.Unlock()
	return nil
}

func (b *FakeBroker) Subscribe(topic string, _ byte, callback mqttLib.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[topic] = callback
	return nil
}

func (b *FakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.subscriptions, t)
	}
	return nil
}

// Deliver hands a message to every subscription whose filter matches topic.
func (b *FakeBroker) Deliver(topic string, payload []byte) {
	b.deliver(NewMockMessage(topic, payload))
}

// DeliverRetained replays a retained message, as the broker does on subscribe.
func (b *FakeBroker) DeliverRetained(topic string, payload []byte) {
	b.deliver(NewRetainedMockMessage(topic, payload))
}

func (b *FakeBroker) deliver(msg *MockMessage) {
	topic := msg.Topic()
	b.mu.Lock()
	var handlers []mqttLib.MessageHandler
	for filter, h := range b.subscriptions {
		if TopicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(nil, msg)
	}
}

// Subscribed reports whether a subscription exists for filter.
func (b *FakeBroker) Subscribed(filter string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subscriptions[filter]
	return ok
}

// Messages returns every publish to topic, oldest first.
func (b *FakeBroker) Messages(topic string) []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Published
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Last returns the newest publish to topic and whether there was one.
func (b *FakeBroker) Last(topic string) (Published, bool) {
	msgs := b.Messages(topic)
	if len(msgs) == 0 {
		return Published{}, false
	}
	return msgs[len(msgs)-1], true
}

// All returns every publish.
func (b *FakeBroker) All() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// TopicMatches applies MQTT wildcard rules for + and #.
func TopicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
