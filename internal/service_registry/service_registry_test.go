package service_registry_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/mocks"
	"github.com/soapboxderby/derbynet-agent/internal/service_registry"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name     string
	startErr error
	log      *[]string
}

func (s *recordingService) Start() error {
	*s.log = append(*s.log, "start "+s.name)
	return s.startErr
}

func (s *recordingService) Stop() error {
	*s.log = append(*s.log, "stop "+s.name)
	return nil
}

func loadTestConfig(t *testing.T, body string) *utils.Config {
	t.Helper()
	fs := file.NewFileService()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, fs.WriteFile(path, body))
	cfg, err := utils.LoadConfig(path, fs)
	require.NoError(t, err)
	return cfg
}

func TestServiceRegistry_RegisterServicesInOrder(t *testing.T) {
	// Setup
	queueDir := filepath.Join(t.TempDir(), "queue")
	cfg := loadTestConfig(t, fmt.Sprintf(`
mqtt:
  broker: tcp://localhost:1883
derbynet:
  url: http://localhost/derbynet/action.php
services:
  offline_queue: {enabled: true, queue_dir: %s}
  status: {enabled: true}
  telemetry: {enabled: true}
  finish_timer:
    enabled: true
    gpio: {dip_pins: [5, 6, 13, 19]}
  update: {enabled: true}
  lane_relay: {enabled: true, min_device_version: 0.5.0}
  race_clock: {enabled: true, timezone: UTC}
  coordinator: {enabled: true}
`, queueDir))

	client := new(mocks.MockMQTTClient)
	sr := service_registry.NewServiceRegistry(client, file.NewFileService(), zerolog.Nop())

	// Execute
	err := sr.RegisterServices(cfg, mocks.NewStaticDeviceInfo("c1", "coordinator"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{
		"offline_queue", "status", "telemetry", "finish_timer",
		"update", "lane_relay", "race_clock", "coordinator",
	}, sr.Names())
	assert.DirExists(t, queueDir)

	_, ok := sr.Get("coordinator")
	assert.True(t, ok)
	_, ok = sr.Get("video")
	assert.False(t, ok)
}

func TestServiceRegistry_DisabledServicesAreSkipped(t *testing.T) {
	cfg := loadTestConfig(t, `
mqtt:
  broker: tcp://localhost:1883
services:
  race_clock: {enabled: true}
`)
	sr := service_registry.NewServiceRegistry(new(mocks.MockMQTTClient), file.NewFileService(), zerolog.Nop())

	require.NoError(t, sr.RegisterServices(cfg, mocks.NewStaticDeviceInfo("c1", "coordinator")))

	assert.Equal(t, []string{"race_clock"}, sr.Names())
}

func TestServiceRegistry_StartGateDevice(t *testing.T) {
	cfg := loadTestConfig(t, `
mqtt:
  broker: tcp://localhost:1883
identity:
  role: starttimer
services:
  status: {enabled: true}
  start_timer: {enabled: true, pin: 13}
`)
	sr := service_registry.NewServiceRegistry(new(mocks.MockMQTTClient), file.NewFileService(), zerolog.Nop())

	require.NoError(t, sr.RegisterServices(cfg, mocks.NewStaticDeviceInfo("gate", "starttimer")))

	assert.Equal(t, []string{"status", "start_timer"}, sr.Names())
	assert.Equal(t, 100*time.Millisecond, cfg.Services.StartTimer.PollInterval)
}

func TestServiceRegistry_InvalidLaneRelayVersion(t *testing.T) {
	cfg := loadTestConfig(t, `
mqtt:
  broker: tcp://localhost:1883
services:
  lane_relay: {enabled: true, min_device_version: banana}
`)
	sr := service_registry.NewServiceRegistry(new(mocks.MockMQTTClient), file.NewFileService(), zerolog.Nop())

	err := sr.RegisterServices(cfg, mocks.NewStaticDeviceInfo("c1", "coordinator"))

	assert.ErrorContains(t, err, "failed to create lane_relay service")
}

func TestServiceRegistry_StartRollsBackOnFailure(t *testing.T) {
	// Setup
	var log []string
	sr := service_registry.NewServiceRegistry(new(mocks.MockMQTTClient), file.NewFileService(), zerolog.Nop())
	sr.RegisterService("a", &recordingService{name: "a", log: &log})
	sr.RegisterService("b", &recordingService{name: "b", log: &log})
	sr.RegisterService("b", &recordingService{name: "duplicate", log: &log})
	sr.RegisterService("c", &recordingService{name: "c", log: &log, startErr: errors.New("boom")})

	// Execute
	err := sr.StartServices()

	// Assert
	assert.EqualError(t, err, "failed to start c: boom")
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, log)
}

func TestServiceRegistry_StopInReverse(t *testing.T) {
	var log []string
	sr := service_registry.NewServiceRegistry(new(mocks.MockMQTTClient), file.NewFileService(), zerolog.Nop())
	sr.RegisterService("a", &recordingService{name: "a", log: &log})
	sr.RegisterService("b", &recordingService{name: "b", log: &log})

	require.NoError(t, sr.StartServices())
	require.NoError(t, sr.StopServices())

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}
