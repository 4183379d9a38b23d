package services_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/mocks"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRaceTime(t *testing.T) {
	loc := time.FixedZone("MDT", -6*3600)
	now := time.Date(2026, 6, 14, 19, 5, 9, 0, time.UTC) // 13:05:09 MDT

	rt := services.BuildRaceTime(now, loc, 321)

	assert.Equal(t, now.Unix(), rt.Timestamp)
	assert.Equal(t, "2026-06-14 13:05:09 MDT", rt.Datetime)
	assert.Equal(t, 1, rt.ClockHour)
	assert.Equal(t, 5, rt.ClockMinute)
	assert.Equal(t, 9, rt.ClockSecond)
	assert.Equal(t, 321.0, rt.Uptime)
}

func TestBuildRaceTime_MidnightAndNoonAreTwelve(t *testing.T) {
	midnight := services.BuildRaceTime(time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC), time.UTC, 0)
	noon := services.BuildRaceTime(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), time.UTC, 0)

	assert.Equal(t, 12, midnight.ClockHour)
	assert.Equal(t, 12, noon.ClockHour)
}

func TestRaceClockService_Publishes(t *testing.T) {
	// Setup
	broker := mocks.NewFakeBroker()
	s := services.NewRaceClockService(10*time.Millisecond, "UTC", broker, zerolog.Nop())
	s.Uptime = func() (uint64, error) { return 42, nil }

	// Execute
	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool {
		_, ok := broker.Last("derbynet/race/time")
		return ok
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	// Assert
	msg, _ := broker.Last("derbynet/race/time")
	assert.Equal(t, byte(0), msg.QOS)
	assert.False(t, msg.Retained)

	var rt models.RaceTime
	require.NoError(t, json.Unmarshal(msg.Payload, &rt))
	assert.Equal(t, 42.0, rt.Uptime)
	assert.Contains(t, rt.Datetime, "UTC")
	assert.EqualError(t, s.Stop(), "race clock service is not running")
}
