package services_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/mocks"
	"github.com/soapboxderby/derbynet-agent/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusService_Lifecycle(t *testing.T) {
	// Setup
	broker := mocks.NewFakeBroker()
	deviceInfo := mocks.NewStaticDeviceInfo("ft-01", "finishtimer")
	s := services.NewStatusService(10*time.Millisecond, 1, deviceInfo, broker, zerolog.Nop())

	// Execute
	require.NoError(t, s.Start())
	err := s.Start()

	// Assert
	assert.EqualError(t, err, "status service is already running")
	assert.Eventually(t, func() bool {
		return len(broker.Messages("derbynet/device/ft-01/status")) >= 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	last, ok := broker.Last("derbynet/device/ft-01/status")
	require.True(t, ok)
	assert.Equal(t, "offline", string(last.Payload))
	assert.True(t, last.Retained)

	assert.EqualError(t, s.Stop(), "status service is not running")
}

func TestStatusService_HandleReconnect(t *testing.T) {
	broker := mocks.NewFakeBroker()
	s := services.NewStatusService(time.Hour, 1, mocks.NewStaticDeviceInfo("c1", "coordinator"), broker, zerolog.Nop())

	s.HandleReconnect()
	assert.Empty(t, broker.All(), "not running yet")

	require.NoError(t, s.Start())
	defer s.Stop()
	s.HandleReconnect()

	msgs := broker.Messages("derbynet/device/c1/status")
	require.Len(t, msgs, 2)
	assert.Equal(t, "online", string(msgs[1].Payload))
}
