package mocks

import (
	mqttLib "github.com/eclipse/paho.mqtt.golang"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/stretchr/testify/mock"
)

// MockMQTTMiddleware is a testify mock of the MQTT middleware chain.
type MockMQTTMiddleware struct {
	mock.Mock
}

func (m *MockMQTTMiddleware) Init(params interface{}) error {
	args := m.Called(params)
	return args.Error(0)
}

func (m *MockMQTTMiddleware) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	args := m.Called(topic, qos, retained, payload)
	return args.Error(0)
}

func (m *MockMQTTMiddleware) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) error {
	args := m.Called(topic, qos, callback)
	return args.Error(0)
}

func (m *MockMQTTMiddleware) Unsubscribe(topics ...string) error {
	args := m.Called(topics)
	return args.Error(0)
}

// SetNext is a no-op so the mock can terminate a chain.
func (m *MockMQTTMiddleware) SetNext(_ mqtt_middleware.MQTTMiddleware) {}
