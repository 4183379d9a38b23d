package utils_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coordinatorYAML = `
mqtt:
  broker: tcp://192.168.100.10:1883
identity:
  role: coordinator
derbynet:
  url: http://localhost/derbynet/action.php
services:
  coordinator:
    enabled: true
    poll_interval: 2s
  race_clock:
    enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, file.NewFileService().WriteFile(path, body))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := utils.LoadConfig(writeConfig(t, coordinatorYAML), file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Services.Coordinator.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Services.Coordinator.HeartbeatWindow)
	assert.Equal(t, 4, cfg.Services.Coordinator.LaneCount)
	assert.Equal(t, 950*time.Millisecond, cfg.Services.RaceClock.Interval)
	assert.Equal(t, "America/Edmonton", cfg.Services.RaceClock.Timezone)
	assert.Equal(t, "Timer", cfg.DerbyNet.Role)
	assert.Equal(t, 5*time.Second, cfg.DerbyNet.Timeout)
	assert.Equal(t, 1400, cfg.Services.FinishTimer.Battery.MinRaw)
	assert.Equal(t, 1865, cfg.Services.FinishTimer.Battery.MaxRaw)
	assert.Equal(t, "/boot/firmware/derbyid.txt", cfg.Identity.DeviceIDFile)
}

func TestLoadConfig_Validation(t *testing.T) {
	body := `
mqtt:
  broker: ""
services:
  coordinator:
    enabled: true
  finish_timer:
    enabled: true
    gpio:
      dip_pins: [1, 2]
`
	_, err := utils.LoadConfig(writeConfig(t, body), file.NewFileService())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.broker is required")
	assert.Contains(t, err.Error(), "derbynet.url is required")
	assert.Contains(t, err.Error(), "needs 4 pins")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := utils.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), file.NewFileService())
	assert.Error(t, err)
}
