package metrics_collectors

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/disk"
	"github.com/soapboxderby/derbynet-agent/internal/models"
)

// DiskMetricCollector reports how full the SD card holding Path is.
type DiskMetricCollector struct {
	Logger zerolog.Logger
	Path   string
}

func (d *DiskMetricCollector) Name() string {
	return "disk"
}

// Collect returns disk_used (percent) and disk_free_mb for Path, "/" when unset.
func (d *DiskMetricCollector) Collect(ctx context.Context) interface{} {
	path := d.Path
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		d.Logger.Error().Err(err).Str("path", path).Msg("Failed to get disk usage")
		return nil
	}
	return map[string]interface{}{
		"disk_used":    round1(usage.UsedPercent),
		"disk_free_mb": usage.Free / (1024 * 1024),
	}
}

func (d *DiskMetricCollector) IsEnabled(config *models.TelemetryConfig) bool {
	return config.MonitorDisk
}

func (d *DiskMetricCollector) Unit() string {
	return "percentage"
}

func (d *DiskMetricCollector) Description() string {
	return "Used percentage and free megabytes of the filesystem holding the agent data."
}
