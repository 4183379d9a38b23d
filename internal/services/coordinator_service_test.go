package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/mocks"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/internal/services"
	"github.com/soapboxderby/derbynet-agent/internal/state_managers"
	"github.com/soapboxderby/derbynet-agent/pkg/derbynet"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	idleStatus   = &derbynet.RaceStatus{Active: false}
	stagedStatus = &derbynet.RaceStatus{
		Active:  true,
		RoundID: 3,
		Heat:    2,
		Class:   "Juniors",
		Lanes: []derbynet.LaneAssignment{
			{Lane: 1, Name: "Ada", CarNumber: "7"},
			{Lane: 2, Name: "Grace", CarNumber: "123"},
		},
	}
)

func newCoordinator(api *mocks.MockDerbyAPI, broker *mocks.FakeBroker, opts services.CoordinatorOptions) *services.CoordinatorService {
	race := state_managers.NewRaceStateManager(4, 90*time.Second, "", file.NewFileService(), zerolog.Nop())
	opts.QOS = 1
	return services.NewCoordinatorService(opts, api, race, broker, zerolog.Nop())
}

func payloads(msgs []mocks.Published) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Payload))
	}
	return out
}

func TestCoordinator_PollPublishesLEDsAndPinnies(t *testing.T) {
	// Setup
	api := new(mocks.MockDerbyAPI)
	api.On("GetRaceStatus", mock.Anything).Return(idleStatus, nil).Once()
	api.On("GetRaceStatus", mock.Anything).Return(stagedStatus, nil).Once()
	broker := mocks.NewFakeBroker()
	c := newCoordinator(api, broker, services.CoordinatorOptions{})

	// Execute
	require.NoError(t, c.Poll(testContext(t)))
	require.NoError(t, c.Poll(testContext(t)))

	// Assert
	for _, lane := range []string{"1", "2", "3", "4"} {
		msgs := broker.Messages("derbynet/lane/" + lane + "/led")
		assert.Equal(t, []string{"red", "blue"}, payloads(msgs), "lane %s", lane)
		assert.True(t, msgs[0].Retained)
	}
	assert.Equal(t, []string{"0000", "0007"}, payloads(broker.Messages("derbynet/lane/1/pinny")))
	assert.Equal(t, []string{"0000", "0123"}, payloads(broker.Messages("derbynet/lane/2/pinny")))
	assert.Equal(t, []string{"0000"}, payloads(broker.Messages("derbynet/lane/3/pinny")))
	assert.Equal(t, []string{"Red", "Blue"}, payloads(broker.Messages("derbynet/race/led")))

	last, ok := broker.Last("derbynet/race/state")
	require.True(t, ok)
	var snap models.RaceSnapshot
	require.NoError(t, json.Unmarshal(last.Payload, &snap))
	assert.Equal(t, "STAGING", string(snap.State))
	assert.Equal(t, 3, snap.RoundID)
	assert.Equal(t, 2, snap.Heat)
	assert.Equal(t, []int{1, 2}, snap.Lanes)
	api.AssertExpectations(t)
}

func TestCoordinator_UnchangedPollPublishesNothing(t *testing.T) {
	api := new(mocks.MockDerbyAPI)
	api.On("GetRaceStatus", mock.Anything).Return(stagedStatus, nil)
	broker := mocks.NewFakeBroker()
	c := newCoordinator(api, broker, services.CoordinatorOptions{})

	require.NoError(t, c.Poll(testContext(t)))
	published := len(broker.All())
	require.NoError(t, c.Poll(testContext(t)))

	assert.Len(t, broker.All(), published)
}

func TestCoordinator_PollErrorKeepsState(t *testing.T) {
	api := new(mocks.MockDerbyAPI)
	api.On("GetRaceStatus", mock.Anything).Return(nil, errors.New("connection refused"))
	broker := mocks.NewFakeBroker()
	c := newCoordinator(api, broker, services.CoordinatorOptions{})

	err := c.Poll(testContext(t))

	assert.EqualError(t, err, "connection refused")
	assert.Empty(t, broker.All())
}

func TestCoordinator_FullHeat(t *testing.T) {
	// Setup
	api := new(mocks.MockDerbyAPI)
	api.On("GetRaceStatus", mock.Anything).Return(stagedStatus, nil)
	api.On("SendStart", mock.Anything).Return(nil).Once()
	api.On("SendFinish", mock.Anything, 3, 2, mock.MatchedBy(func(times map[int]float64) bool {
		_, one := times[1]
		_, two := times[2]
		return len(times) == 2 && one && two
	})).Return(nil).Once()
	broker := mocks.NewFakeBroker()
	c := newCoordinator(api, broker, services.CoordinatorOptions{})
	require.NoError(t, c.Poll(testContext(t)))

	// Execute: lane state before the start is not a finish
	c.HandleLaneState(nil, mocks.NewMockMessage("derbynet/lane/1/state", []byte(`{"time":1,"toggle":true}`)))
	c.HandleStartSignal(nil, mocks.NewMockMessage("derbynet/device/starttimer/state", []byte(`{"state":"STOP"}`)))
	c.HandleStartSignal(nil, mocks.NewMockMessage("derbynet/device/starttimer/state", []byte(`{"state":"GO","timestamp":5}`)))
	c.HandleStartSignal(nil, mocks.NewMockMessage("derbynet/device/starttimer/state", []byte(`{"state":"GO","timestamp":6}`)))

	led, _ := broker.Last("derbynet/lane/1/led")
	assert.Equal(t, "green", string(led.Payload))
	led, _ = broker.Last("derbynet/race/led")
	assert.Equal(t, "Green", string(led.Payload))

	c.HandleLaneState(nil, mocks.NewMockMessage("derbynet/lane/1/state", []byte(`{"toggle":false}`)))
	c.HandleLaneState(nil, mocks.NewMockMessage("derbynet/lane/3/state", []byte(`{"toggle":false}`)))
	c.HandleLaneState(nil, mocks.NewMockMessage("derbynet/lane/1/state", []byte(`{"toggle":true}`)))
	api.AssertNotCalled(t, "SendFinish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	c.HandleLaneState(nil, mocks.NewMockMessage("derbynet/lane/2/state", []byte(`{"toggle":false}`)))

	// Assert
	api.AssertExpectations(t)
	for _, lane := range []string{"1", "2", "3", "4"} {
		led, _ := broker.Last("derbynet/lane/" + lane + "/led")
		assert.Equal(t, "red", string(led.Payload), "lane %s", lane)
	}
	last, _ := broker.Last("derbynet/race/state")
	var snap models.RaceSnapshot
	require.NoError(t, json.Unmarshal(last.Payload, &snap))
	assert.Equal(t, "STOPPED", string(snap.State))
	assert.Empty(t, snap.LaneTimes)
}

func TestCoordinator_HeartbeatIsRateLimited(t *testing.T) {
	api := new(mocks.MockDerbyAPI)
	api.On("SendTimerHeartbeat", mock.Anything).Return(nil)
	c := newCoordinator(api, mocks.NewFakeBroker(), services.CoordinatorOptions{HeartbeatInterval: time.Hour})

	msg := []byte(`{"lane":1,"hwid":"aa","ready":true}`)
	c.HandleLaneTelemetry(nil, mocks.NewMockMessage("derbynet/lane/1/telemetry", msg))
	c.HandleLaneTelemetry(nil, mocks.NewMockMessage("derbynet/lane/1/telemetry", msg))
	c.HandleLaneTelemetry(nil, mocks.NewMockMessage("derbynet/lane/x/telemetry", msg))
	c.HandleLaneTelemetry(nil, mocks.NewMockMessage("derbynet/lane/2/telemetry", []byte(`nope`)))

	api.AssertNumberOfCalls(t, "SendTimerHeartbeat", 1)
}

type fakeButton struct{ on atomic.Bool }

func (b *fakeButton) Read() (bool, error) { return b.on.Load(), nil }

func TestCoordinator_StartLoopAndButton(t *testing.T) {
	// Setup
	api := new(mocks.MockDerbyAPI)
	api.On("GetRaceStatus", mock.Anything).Return(stagedStatus, nil)
	started := make(chan struct{}, 1)
	api.On("SendStart", mock.Anything).Return(nil).Run(func(mock.Arguments) { started <- struct{}{} }).Once()
	broker := mocks.NewFakeBroker()
	button := &fakeButton{}
	c := newCoordinator(api, broker, services.CoordinatorOptions{
		PollInterval: 10 * time.Millisecond,
		StartButton:  button,
		ButtonPoll:   time.Millisecond,
	})

	// Execute
	require.NoError(t, c.Start())
	assert.EqualError(t, c.Start(), "coordinator service is already running")
	assert.True(t, broker.Subscribed("derbynet/lane/+/telemetry"))
	assert.True(t, broker.Subscribed("derbynet/lane/+/state"))
	assert.True(t, broker.Subscribed("derbynet/device/starttimer/state"))

	assert.Eventually(t, func() bool {
		led, ok := broker.Last("derbynet/race/led")
		return ok && string(led.Payload) == "Blue"
	}, time.Second, 5*time.Millisecond)
	button.on.Store(true)

	// Assert
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("start button did not start the race")
	}
	require.NoError(t, c.Stop())
	assert.False(t, broker.Subscribed("derbynet/lane/+/state"))
	assert.EqualError(t, c.Stop(), "coordinator service is not running")
	api.AssertNumberOfCalls(t, "SendStart", 1)
}

func TestCoordinator_ReplayedMessagesDoNotDriveTheHeat(t *testing.T) {
	// Setup
	api := new(mocks.MockDerbyAPI)
	api.On("GetRaceStatus", mock.Anything).Return(stagedStatus, nil)
	api.On("SendStart", mock.Anything).Return(nil).Once()
	broker := mocks.NewFakeBroker()
	c := newCoordinator(api, broker, services.CoordinatorOptions{})
	require.NoError(t, c.Poll(testContext(t)))

	// Execute: a retained GO from the gate is not a start
	c.HandleStartSignal(nil, mocks.NewRetainedMockMessage("derbynet/device/starttimer/state", []byte(`{"state":"GO","timestamp":5}`)))
	api.AssertNotCalled(t, "SendStart", mock.Anything)

	c.HandleStartSignal(nil, mocks.NewMockMessage("derbynet/device/starttimer/state", []byte(`{"state":"GO"}`)))

	// retained toggles and toggles stamped before the start are not finishes
	c.HandleLaneState(nil, mocks.NewRetainedMockMessage("derbynet/lane/1/state", []byte(`{"toggle":true}`)))
	stale, err := json.Marshal(models.LaneState{Time: time.Now().Add(-time.Hour).Unix(), Toggle: true})
	require.NoError(t, err)
	c.HandleLaneState(nil, mocks.NewMockMessage("derbynet/lane/2/state", stale))

	// Assert
	last, _ := broker.Last("derbynet/race/state")
	var snap models.RaceSnapshot
	require.NoError(t, json.Unmarshal(last.Payload, &snap))
	assert.Equal(t, "RACING", string(snap.State))
	assert.Empty(t, snap.LaneTimes)
	api.AssertNotCalled(t, "SendFinish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	api.AssertExpectations(t)

	live, err := json.Marshal(models.LaneState{Time: time.Now().Unix(), Toggle: true})
	require.NoError(t, err)
	c.HandleLaneState(nil, mocks.NewMockMessage("derbynet/lane/1/state", live))
	last, _ = broker.Last("derbynet/race/state")
	require.NoError(t, json.Unmarshal(last.Payload, &snap))
	assert.Len(t, snap.LaneTimes, 1)
}

// testContext mirrors testing.T.Context (Go 1.24+) for older toolchains:
// the returned context is cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
