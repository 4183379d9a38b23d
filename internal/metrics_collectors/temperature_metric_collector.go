package metrics_collectors

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/host"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

const defaultThermalFile = "/sys/class/thermal/thermal_zone0/temp"

// TemperatureMetricCollector reads the SoC temperature.
type TemperatureMetricCollector struct {
	Logger      zerolog.Logger
	ThermalFile string
	Files       file.FileOperations
}

func (t *TemperatureMetricCollector) Name() string {
	return "cpu_temp"
}

// Collect reads the thermal zone in millidegrees, falling back to the first
// sensor gopsutil reports.
func (t *TemperatureMetricCollector) Collect(ctx context.Context) interface{} {
	path := t.ThermalFile
	if path == "" {
		path = defaultThermalFile
	}
	if t.Files != nil {
		if raw, err := t.Files.ReadFile(path); err == nil {
			if milli, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
				return round1(milli / 1000)
			}
		}
	}

	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(sensors) == 0 {
		t.Logger.Debug().Err(err).Msg("No temperature sensors available")
		return nil
	}
	return round1(sensors[0].Temperature)
}

func (t *TemperatureMetricCollector) IsEnabled(config *models.TelemetryConfig) bool {
	return config.MonitorTemperature
}

func (t *TemperatureMetricCollector) Unit() string {
	return "celsius"
}

func (t *TemperatureMetricCollector) Description() string {
	return "SoC temperature."
}
