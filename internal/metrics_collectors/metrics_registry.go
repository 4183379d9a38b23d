package metrics_collectors

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

// MetricsRegistry holds the collectors a telemetry service runs.
type MetricsRegistry struct {
	collectors map[string]MetricCollector
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		collectors: make(map[string]MetricCollector),
	}
}

// NewDefaultRegistry registers every built-in collector, configured from cfg.
func NewDefaultRegistry(cfg *models.TelemetryConfig, fileClient file.FileOperations, logger zerolog.Logger) *MetricsRegistry {
	r := NewMetricsRegistry()
	for _, c := range HostCollectors(logger) {
		r.Register(c)
	}
	r.Register(&DiskMetricCollector{Logger: logger, Path: cfg.DiskPath})
	r.Register(&NetworkMetricCollector{Logger: logger, Interfaces: cfg.InterfaceNames})
	r.Register(&TemperatureMetricCollector{Logger: logger, ThermalFile: cfg.ThermalFile, Files: fileClient})
	r.Register(&UptimeMetricCollector{Logger: logger})
	r.Register(&WirelessMetricCollector{Logger: logger, File: cfg.WirelessFile, Files: fileClient})
	return r
}

// Register adds a new metric collector to the registry.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	r.collectors[collector.Name()] = collector
}

// GetCollectors returns all the metric collectors registered in the registry.
func (r *MetricsRegistry) GetCollectors() map[string]MetricCollector {
	return r.collectors
}

// Names returns the registered collector names in order.
func (r *MetricsRegistry) Names() []string {
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
