package derbynet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRaceStatus_IdleHeat(t *testing.T) {
	status, err := ParseRaceStatus([]byte(`{"current-heat":{"now_racing":false,"roundid":null},"racers":[]}`))

	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Zero(t, status.RoundID)
	assert.Empty(t, status.LaneNumbers())
}

func TestParseRaceStatus_StringFlags(t *testing.T) {
	status, err := ParseRaceStatus([]byte(`{"current-heat":{"now_racing":"true","roundid":"12","heat":3.0}}`))

	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, 12, status.RoundID)
	assert.Equal(t, 3, status.Heat)
}

func TestParseRaceStatus_Invalid(t *testing.T) {
	_, err := ParseRaceStatus([]byte(`<html>`))
	assert.Error(t, err)

	_, err = ParseRaceStatus([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestParseOutcome(t *testing.T) {
	ok, err := parseOutcome([]byte(`<action-response><success/></action-response>`))
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = parseOutcome([]byte(`<action-response><failure code="x">no</failure></action-response>`))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = parseOutcome([]byte(`<action-response/>`))
	assert.ErrorIs(t, err, ErrNotConfirmed)

	ok, err = parseOutcome([]byte(`{"outcome":{"code":"success"}}`))
	assert.NoError(t, err)
	assert.True(t, ok)
}
