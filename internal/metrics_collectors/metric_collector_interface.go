package metrics_collectors

import (
	"context"
	"math"

	"github.com/soapboxderby/derbynet-agent/internal/models"
)

// MetricCollector defines the interface for collecting a specific metric.
type MetricCollector interface {
	Name() string                                  // Telemetry field the value is published under
	Collect(ctx context.Context) interface{}       // Collect the metric data, nil when unavailable
	IsEnabled(config *models.TelemetryConfig) bool // Check if the metric is enabled in the config
	Unit() string                                  // Unit of the metric (e.g., "percentage", "bytes")
	Description() string                           // Description of the metric
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
