package metrics_collectors

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/host"
	"github.com/soapboxderby/derbynet-agent/internal/models"
)

// UptimeMetricCollector reports seconds since boot.
type UptimeMetricCollector struct {
	Logger zerolog.Logger
}

func (u *UptimeMetricCollector) Name() string {
	return "uptime"
}

func (u *UptimeMetricCollector) Collect(ctx context.Context) interface{} {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		u.Logger.Error().Err(err).Msg("Failed to read uptime")
		return nil
	}
	return uptime
}

func (u *UptimeMetricCollector) IsEnabled(config *models.TelemetryConfig) bool {
	return config.MonitorUptime
}

func (u *UptimeMetricCollector) Unit() string {
	return "seconds"
}

func (u *UptimeMetricCollector) Description() string {
	return "Seconds since the device booted."
}
