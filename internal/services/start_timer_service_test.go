package services_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/mocks"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenGate struct{}

func (brokenGate) Read() (bool, error) { return false, errors.New("gpio unexported") }

func startSignals(t *testing.T, broker *mocks.FakeBroker) []string {
	t.Helper()
	var states []string
	for _, m := range broker.Messages("derbynet/device/starttimer/state") {
		var signal models.StartSignal
		require.NoError(t, json.Unmarshal(m.Payload, &signal))
		assert.True(t, m.Retained)
		assert.NotZero(t, signal.Timestamp)
		states = append(states, signal.State)
	}
	return states
}

func TestStartTimer_PublishesEdges(t *testing.T) {
	// Setup
	gate := &fakeButton{}
	broker := mocks.NewFakeBroker()
	s := services.NewStartTimerService(gate, time.Hour, 1, broker, zerolog.Nop())
	require.NoError(t, s.Start())
	defer s.Stop()

	// Execute
	published, err := s.Check()
	require.NoError(t, err)
	assert.False(t, published, "the level at start is the baseline")

	gate.on.Store(true)
	published, err = s.Check()
	require.NoError(t, err)
	assert.True(t, published)

	published, err = s.Check()
	require.NoError(t, err)
	assert.False(t, published)

	gate.on.Store(false)
	_, err = s.Check()
	require.NoError(t, err)

	// Assert
	assert.Equal(t, []string{"GO", "STOP"}, startSignals(t, broker))
}

func TestStartTimer_WatchesGate(t *testing.T) {
	// Setup
	gate := &fakeButton{}
	broker := mocks.NewFakeBroker()
	s := services.NewStartTimerService(gate, time.Millisecond, 1, broker, zerolog.Nop())

	// Execute
	require.NoError(t, s.Start())
	assert.EqualError(t, s.Start(), "start timer service is already running")
	gate.on.Store(true)

	// Assert
	assert.Eventually(t, func() bool {
		return len(broker.Messages("derbynet/device/starttimer/state")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.EqualError(t, s.Stop(), "start timer service is not running")
	assert.Equal(t, []string{"GO"}, startSignals(t, broker))
}

func TestStartTimer_StartFailsWithoutGate(t *testing.T) {
	s := services.NewStartTimerService(brokenGate{}, time.Millisecond, 1, mocks.NewFakeBroker(), zerolog.Nop())

	assert.EqualError(t, s.Start(), "gpio unexported")
	assert.EqualError(t, s.Stop(), "start timer service is not running")
}
