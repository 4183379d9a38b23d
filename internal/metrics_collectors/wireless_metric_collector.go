package metrics_collectors

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

const defaultWirelessFile = "/proc/net/wireless"

// WirelessMetricCollector reports the WiFi signal level.
type WirelessMetricCollector struct {
	Logger zerolog.Logger
	File   string
	Files  file.FileOperations
}

func (w *WirelessMetricCollector) Name() string {
	return "wifi_rssi"
}

func (w *WirelessMetricCollector) Collect(ctx context.Context) interface{} {
	path := w.File
	if path == "" {
		path = defaultWirelessFile
	}
	raw, err := w.Files.ReadFile(path)
	if err != nil {
		w.Logger.Debug().Err(err).Msg("Wireless statistics unavailable")
		return nil
	}
	rssi, ok := ParseWirelessLevel(raw)
	if !ok {
		return nil
	}
	return rssi
}

// ParseWirelessLevel extracts the signal level in dBm of the first interface
// listed in /proc/net/wireless.
func ParseWirelessLevel(contents string) (float64, bool) {
	lines := strings.Split(contents, "\n")
	// two header lines, then "wlan0: 0000   70.  -40.  -256 ..."
	for _, line := range lines[min(2, len(lines)):] {
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ":") {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			return 0, false
		}
		return level, true
	}
	return 0, false
}

func (w *WirelessMetricCollector) IsEnabled(config *models.TelemetryConfig) bool {
	return config.MonitorWireless
}

func (w *WirelessMetricCollector) Unit() string {
	return "dBm"
}

func (w *WirelessMetricCollector) Description() string {
	return "WiFi signal level of the first wireless interface."
}
