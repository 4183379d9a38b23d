package metrics_collectors_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/metrics_collectors"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procWireless = `Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
 wlan0: 0000   58.  -52.  -256        0      0      0      0     12        0
`

func TestParseWirelessLevel(t *testing.T) {
	level, ok := metrics_collectors.ParseWirelessLevel(procWireless)
	require.True(t, ok)
	assert.Equal(t, -52.0, level)

	_, ok = metrics_collectors.ParseWirelessLevel("Inter-| sta-|\n face | tus |\n")
	assert.False(t, ok)
}

func TestWirelessCollector_ReadsFile(t *testing.T) {
	fs := file.NewFileService()
	path := filepath.Join(t.TempDir(), "wireless")
	require.NoError(t, fs.WriteFile(path, procWireless))

	c := &metrics_collectors.WirelessMetricCollector{Logger: zerolog.Nop(), File: path, Files: fs}
	assert.Equal(t, -52.0, c.Collect(context.Background()))

	missing := &metrics_collectors.WirelessMetricCollector{Logger: zerolog.Nop(), File: path + ".nope", Files: fs}
	assert.Nil(t, missing.Collect(context.Background()))
}

func TestTemperatureCollector_ThermalZone(t *testing.T) {
	fs := file.NewFileService()
	path := filepath.Join(t.TempDir(), "temp")
	require.NoError(t, fs.WriteFile(path, "48312\n"))

	c := &metrics_collectors.TemperatureMetricCollector{Logger: zerolog.Nop(), ThermalFile: path, Files: fs}
	assert.Equal(t, 48.3, c.Collect(context.Background()))
}

func TestDefaultRegistry_EnabledFlags(t *testing.T) {
	cfg := &models.TelemetryConfig{MonitorCPU: true, MonitorWireless: true}
	r := metrics_collectors.NewDefaultRegistry(cfg, file.NewFileService(), zerolog.Nop())

	assert.Equal(t, []string{"cpu_temp", "cpu_usage", "disk", "goroutines", "memory_usage", "network", "uptime", "wifi_rssi"}, r.Names())

	var enabled []string
	for _, name := range r.Names() {
		if r.GetCollectors()[name].IsEnabled(cfg) {
			enabled = append(enabled, name)
		}
	}
	assert.Equal(t, []string{"cpu_usage", "wifi_rssi"}, enabled)
}

func TestHostCollectors(t *testing.T) {
	cfg := &models.TelemetryConfig{MonitorGoroutines: true}
	collectors := metrics_collectors.HostCollectors(zerolog.Nop())
	require.Len(t, collectors, 3)

	byName := map[string]*metrics_collectors.HostMetricCollector{}
	for _, c := range collectors {
		byName[c.Name()] = c
	}
	goroutines := byName["goroutines"]
	require.NotNil(t, goroutines)
	assert.True(t, goroutines.IsEnabled(cfg))
	assert.False(t, byName["cpu_usage"].IsEnabled(cfg))
	assert.Equal(t, "count", goroutines.Unit())

	n, ok := goroutines.Collect(context.Background()).(int)
	require.True(t, ok)
	assert.Positive(t, n)
}

func failingRead(context.Context) (interface{}, error) {
	return nil, errors.New("no sensor")
}

func TestHostMetricCollector_ReadError(t *testing.T) {
	c := &metrics_collectors.HostMetricCollector{
		Field:  "broken",
		Read:   failingRead,
		Logger: zerolog.Nop(),
	}

	assert.Nil(t, c.Collect(context.Background()))
	assert.False(t, c.IsEnabled(&models.TelemetryConfig{}))
}

func TestDiskCollector(t *testing.T) {
	c := &metrics_collectors.DiskMetricCollector{Logger: zerolog.Nop(), Path: t.TempDir()}

	fields, ok := c.Collect(context.Background()).(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fields, "disk_used")
	assert.Contains(t, fields, "disk_free_mb")
}
