package models

// TelemetryConfig selects which host collectors run on a device.
type TelemetryConfig struct {
	MonitorCPU         bool     `yaml:"monitor_cpu"`
	MonitorMemory      bool     `yaml:"monitor_memory"`
	MonitorDisk        bool     `yaml:"monitor_disk"`
	MonitorNetwork     bool     `yaml:"monitor_network"`
	MonitorTemperature bool     `yaml:"monitor_temperature"`
	MonitorUptime      bool     `yaml:"monitor_uptime"`
	MonitorWireless    bool     `yaml:"monitor_wireless"`
	MonitorGoroutines  bool     `yaml:"monitor_goroutines"`
	DiskPath           string   `yaml:"disk_path"`
	ThermalFile        string   `yaml:"thermal_file"`
	WirelessFile       string   `yaml:"wireless_file"`
	InterfaceNames     []string `yaml:"interface_names"`
}

// DeviceTelemetry is the subset of a device's telemetry payload the race side reads.
// Devices publish more fields than these; unknown ones are ignored.
type DeviceTelemetry struct {
	HWID         string   `json:"hwid"`
	DIP          string   `json:"dip"`
	DIPSwitch    string   `json:"dip_switch"`
	Uptime       *float64 `json:"uptime"`
	WifiRSSI     *float64 `json:"wifi_rssi"`
	BatteryLevel *float64 `json:"battery_level"`
	ReadyToRace  bool     `json:"readyToRace"`
	Version      string   `json:"version"`
	Time         int64    `json:"time"`
}

// DIPCode returns whichever DIP field the device populated.
func (t DeviceTelemetry) DIPCode() string {
	if t.DIPSwitch != "" {
		return t.DIPSwitch
	}
	return t.DIP
}
