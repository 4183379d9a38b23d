package utils_test

import (
	"bytes"
	"testing"

	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := utils.NewLogger(utils.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Nil(t, closer)

	logger.Info().Msg("hidden")
	logger.Warn().Str("lane", "2").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"lane":"2"`)
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, _, err := utils.NewLogger(utils.LoggingConfig{Level: "loud"}, nil)
	assert.Error(t, err)
}
