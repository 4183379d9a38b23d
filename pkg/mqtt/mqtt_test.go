package mqtt

import (
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/stretchr/testify/assert"
)

func TestMqttService_SubscribeWhileOffline(t *testing.T) {
	s := NewMqttService(file.NewFileService(), zerolog.Nop())

	token := s.Subscribe("derbynet/lane/+/state", 1, func(mqtt.Client, mqtt.Message) {})
	assert.True(t, token.Wait())
	assert.NoError(t, token.Error())
	assert.Contains(t, s.subscriptions, "derbynet/lane/+/state")

	token = s.Unsubscribe("derbynet/lane/+/state")
	assert.True(t, token.Wait())
	assert.NotContains(t, s.subscriptions, "derbynet/lane/+/state")
	assert.False(t, s.IsConnected())
}

func TestMqttService_BadCACertificate(t *testing.T) {
	s := NewMqttService(file.NewFileService(), zerolog.Nop())

	err := s.Initialize(Options{Broker: "tcp://127.0.0.1:1", ClientID: "t", CACertPath: "/nonexistent/ca.pem"})
	assert.ErrorContains(t, err, "failed to read CA certificate")
}
