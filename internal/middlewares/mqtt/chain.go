package mqtt_middleware

import (
	"errors"
	"fmt"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/soapboxderby/derbynet-agent/pkg/mqtt"
)

// TokenTimeout bounds how long a publish, subscribe or unsubscribe waits for
// the broker to acknowledge it.
const TokenTimeout = 10 * time.Second

// ErrTokenTimeout is returned when the broker did not acknowledge in time.
var ErrTokenTimeout = errors.New("timed out waiting for broker acknowledgement")

// ChainedMQTTClient is the entry point services publish through. Calls walk
// the middlewares in order and end at the broker client.
type ChainedMQTTClient struct {
	middlewares []MQTTMiddleware
	head        MQTTMiddleware
	mqttClient  mqtt.MQTTClient
}

// NewChainedMQTTClient links middlewares in order, terminating at mqttClient.
func NewChainedMQTTClient(mqttClient mqtt.MQTTClient, middlewares []MQTTMiddleware) *ChainedMQTTClient {
	var next MQTTMiddleware = &directMQTTClient{mqttClient: mqttClient}
	for i := len(middlewares) - 1; i >= 0; i-- {
		middlewares[i].SetNext(next)
		next = middlewares[i]
	}
	return &ChainedMQTTClient{
		middlewares: middlewares,
		head:        next,
		mqttClient:  mqttClient,
	}
}

// Init initializes every middleware in chain order.
func (c *ChainedMQTTClient) Init(params interface{}) error {
	for i, mw := range c.middlewares {
		if err := mw.Init(params); err != nil {
			return fmt.Errorf("failed to init middleware %d: %w", i, err)
		}
	}
	return nil
}

func (c *ChainedMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	return c.head.Publish(topic, qos, retained, payload)
}

func (c *ChainedMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) error {
	return c.head.Subscribe(topic, qos, callback)
}

func (c *ChainedMQTTClient) Unsubscribe(topics ...string) error {
	return c.head.Unsubscribe(topics...)
}

// SetNext is a no-op; the chain entry point has no successor.
func (c *ChainedMQTTClient) SetNext(_ MQTTMiddleware) {}

// IsConnected reports the state of the underlying broker connection.
func (c *ChainedMQTTClient) IsConnected() bool {
	return c.mqttClient.IsConnected()
}

type directMQTTClient struct {
	mqttClient mqtt.MQTTClient
}

func (d *directMQTTClient) Init(_ interface{}) error {
	return nil
}

func (d *directMQTTClient) SetNext(_ MQTTMiddleware) {}

func (d *directMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	return awaitToken(d.mqttClient.Publish(topic, qos, retained, payload))
}

func (d *directMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) error {
	return awaitToken(d.mqttClient.Subscribe(topic, qos, callback))
}

func (d *directMQTTClient) Unsubscribe(topics ...string) error {
	return awaitToken(d.mqttClient.Unsubscribe(topics...))
}

func awaitToken(token mqttLib.Token) error {
	if !token.WaitTimeout(TokenTimeout) {
		return ErrTokenTimeout
	}
	return token.Error()
}
