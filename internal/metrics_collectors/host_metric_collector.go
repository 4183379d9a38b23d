package metrics_collectors

import (
	"context"
	"errors"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/soapboxderby/derbynet-agent/internal/models"
)

// HostMetricCollector publishes one host reading under a single telemetry
// field. Readings that need no state of their own are declared as a table
// in HostCollectors.
type HostMetricCollector struct {
	Field   string
	Units   string
	Summary string
	Enabled func(config *models.TelemetryConfig) bool
	Read    func(ctx context.Context) (interface{}, error)
	Logger  zerolog.Logger
}

func (h *HostMetricCollector) Name() string {
	return h.Field
}

func (h *HostMetricCollector) Collect(ctx context.Context) interface{} {
	value, err := h.Read(ctx)
	if err != nil {
		h.Logger.Error().Err(err).Str("field", h.Field).Msg("Failed to read host metric")
		return nil
	}
	return value
}

func (h *HostMetricCollector) IsEnabled(config *models.TelemetryConfig) bool {
	return h.Enabled != nil && h.Enabled(config)
}

func (h *HostMetricCollector) Unit() string {
	return h.Units
}

func (h *HostMetricCollector) Description() string {
	return h.Summary
}

// HostCollectors returns the cpu_usage, memory_usage and goroutines collectors.
func HostCollectors(logger zerolog.Logger) []*HostMetricCollector {
	return []*HostMetricCollector{
		{
			Field:   "cpu_usage",
			Units:   "percentage",
			Summary: "CPU utilization across all cores.",
			Enabled: func(c *models.TelemetryConfig) bool { return c.MonitorCPU },
			Read:    readCPUPercent,
			Logger:  logger,
		},
		{
			Field:   "memory_usage",
			Units:   "percentage",
			Summary: "Used virtual memory.",
			Enabled: func(c *models.TelemetryConfig) bool { return c.MonitorMemory },
			Read:    readMemoryPercent,
			Logger:  logger,
		},
		{
			Field:   "goroutines",
			Units:   "count",
			Summary: "Active goroutines in the agent.",
			Enabled: func(c *models.TelemetryConfig) bool { return c.MonitorGoroutines },
			Read:    readGoroutines,
			Logger:  logger,
		},
	}
}

func readCPUPercent(ctx context.Context) (interface{}, error) {
	percent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(percent) == 0 {
		return nil, errors.New("no cpu samples")
	}
	return round1(percent[0]), nil
}

func readMemoryPercent(ctx context.Context) (interface{}, error) {
	stats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return round1(stats.UsedPercent), nil
}

func readGoroutines(context.Context) (interface{}, error) {
	return runtime.NumGoroutine(), nil
}
