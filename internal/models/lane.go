package models

// LaneTelemetry is the relayed, lane-addressed view of a finish timer.
type LaneTelemetry struct {
	Lane         int     `json:"lane"`
	HWID         string  `json:"hwid"`
	LastUpdate   int64   `json:"lastupdate"`
	RSSI         float64 `json:"rssi"`
	Uptime       float64 `json:"uptime"`
	BatteryLevel float64 `json:"battery_level"`
	Ready        bool    `json:"ready"`
	Version      string  `json:"version,omitempty"`
	Outdated     bool    `json:"outdated,omitempty"`
}

// LaneState is a relayed toggle event for one lane.
type LaneState struct {
	Time   int64 `json:"time"`
	Toggle bool  `json:"toggle"`
}
