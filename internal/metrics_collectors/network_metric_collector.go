package metrics_collectors

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/net"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
)

// NetworkMetricCollector reports the primary address and I/O rates.
type NetworkMetricCollector struct {
	Logger     zerolog.Logger
	Interfaces []string // limit to these interface names, empty means any

	// cache previous values for rate calculation
	lastIn   uint64
	lastOut  uint64
	lastTime time.Time
}

// Name returns the identifier for the network metric collector.
func (n *NetworkMetricCollector) Name() string {
	return "network"
}

// Collect returns ip, mac, interface, network_in and network_out. The rate
// fields are missing on the first call.
func (n *NetworkMetricCollector) Collect(ctx context.Context) interface{} {
	out := map[string]interface{}{}

	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		n.Logger.Error().Err(err).Msg("Failed to list network interfaces")
	} else if iface, ip := n.primary(ifaces); iface != nil {
		out["interface"] = iface.Name
		out["mac"] = iface.HardwareAddr
		out["ip"] = ip
	}

	counters, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		n.Logger.Debug().Err(err).Msg("No network statistics available")
		return out
	}
	curr := counters[0]
	now := time.Now()

	if !n.lastTime.IsZero() {
		if secs := now.Sub(n.lastTime).Seconds(); secs > 0 {
			out["network_in"] = round1(float64(curr.BytesRecv-n.lastIn) / secs)
			out["network_out"] = round1(float64(curr.BytesSent-n.lastOut) / secs)
		}
	}
	n.lastIn = curr.BytesRecv
	n.lastOut = curr.BytesSent
	n.lastTime = now

	return out
}

// primary picks the first non-loopback interface with an IPv4 address.
func (n *NetworkMetricCollector) primary(ifaces []psnet.InterfaceStat) (*psnet.InterfaceStat, string) {
	allowed := utils.SliceToSet(n.Interfaces)
	for i := range ifaces {
		iface := &ifaces[i]
		if len(allowed) > 0 {
			if _, ok := allowed[iface.Name]; !ok {
				continue
			}
		}
		if iface.HardwareAddr == "" {
			continue
		}
		for _, addr := range iface.Addrs {
			ip := strings.SplitN(addr.Addr, "/", 2)[0]
			if strings.Contains(ip, ".") && !strings.HasPrefix(ip, "127.") {
				return iface, ip
			}
		}
	}
	return nil, ""
}

// IsEnabled checks if network monitoring is enabled in the configuration.
func (n *NetworkMetricCollector) IsEnabled(config *models.TelemetryConfig) bool {
	return config.MonitorNetwork
}

// Unit specifies the unit for the network I/O rate metric.
func (n *NetworkMetricCollector) Unit() string {
	return "bytes per second"
}

// Description provides a summary of the network metric collected.
func (n *NetworkMetricCollector) Description() string {
	return "Primary address plus receive/send rate in bytes per second."
}
