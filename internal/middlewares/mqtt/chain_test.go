package mqtt_middleware_test

import (
	"errors"
	"testing"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestChainedMQTTClient_DirectPublish(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "derbynet/race/led", byte(1), true, []byte("Red")).Return(mocks.NewDoneToken(nil))
	chain := mqtt_middleware.NewChainedMQTTClient(client, nil)

	// Execute
	err := chain.Publish("derbynet/race/led", 1, true, []byte("Red"))

	// Assert
	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestChainedMQTTClient_ThroughMiddleware(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", "derbynet/lane/+/state", byte(1), mock.Anything).Return(mocks.NewDoneToken(errors.New("denied")))
	client.On("Unsubscribe", []string{"derbynet/lane/+/state"}).Return(mocks.NewDoneToken(nil))
	client.On("IsConnected").Return(true)

	mw := &passThrough{}
	chain := mqtt_middleware.NewChainedMQTTClient(client, []mqtt_middleware.MQTTMiddleware{mw})

	err := chain.Subscribe("derbynet/lane/+/state", 1, func(mqttLib.Client, mqttLib.Message) {})
	assert.EqualError(t, err, "denied")
	assert.NoError(t, chain.Unsubscribe("derbynet/lane/+/state"))
	assert.Equal(t, 2, mw.calls)
	assert.True(t, chain.IsConnected())
}

// passThrough counts calls and forwards them.
type passThrough struct {
	next  mqtt_middleware.MQTTMiddleware
	calls int
}

func (p *passThrough) Init(interface{}) error { return nil }

func (p *passThrough) SetNext(next mqtt_middleware.MQTTMiddleware) { p.next = next }

func (p *passThrough) Publish(t string, q byte, r bool, v interface{}) error {
	p.calls++
	return p.next.Publish(t, q, r, v)
}

func (p *passThrough) Subscribe(t string, q byte, cb mqttLib.MessageHandler) error {
	p.calls++
	return p.next.Subscribe(t, q, cb)
}

func (p *passThrough) Unsubscribe(topics ...string) error {
	p.calls++
	return p.next.Unsubscribe(topics...)
}

func TestChainedMQTTClient_PublishTimesOut(t *testing.T) {
	// Setup
	token := new(mocks.MockToken)
	token.On("WaitTimeout", mqtt_middleware.TokenTimeout).Return(false)
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "derbynet/race/time", byte(0), false, []byte("{}")).Return(token)
	chain := mqtt_middleware.NewChainedMQTTClient(client, nil)

	// Execute
	err := chain.Publish("derbynet/race/time", 0, false, []byte("{}"))

	// Assert
	assert.ErrorIs(t, err, mqtt_middleware.ErrTokenTimeout)
	token.AssertNotCalled(t, "Error")
}
