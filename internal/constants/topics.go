package constants

import "fmt"

// Topic layout on the race broker.
const (
	TopicRoot = "derbynet"

	// Raw per-device topics, keyed by hardware id.
	DeviceTelemetryWildcard = "derbynet/device/+/telemetry"
	DeviceStateWildcard     = "derbynet/device/+/state"

	// Per-lane topics produced by the lane relay and the coordinator.
	LaneTelemetryWildcard = "derbynet/lane/+/telemetry"
	LaneStateWildcard     = "derbynet/lane/+/state"

	RaceTimeTopic  = "derbynet/race/time"
	RaceStateTopic = "derbynet/race/state"
	RaceLEDTopic   = "derbynet/race/led"

	// StartTimerID is the hardware id the start gate publishes under.
	StartTimerID = "starttimer"
)

// DeviceTopic builds derbynet/device/{hwid}/{leaf}.
func DeviceTopic(hwid, leaf string) string {
	return fmt.Sprintf("%s/device/%s/%s", TopicRoot, hwid, leaf)
}

// LaneTopic builds derbynet/lane/{lane}/{leaf}.
func LaneTopic(lane int, leaf string) string {
	return fmt.Sprintf("%s/lane/%d/%s", TopicRoot, lane, leaf)
}

// Topic leaves.
const (
	LeafTelemetry = "telemetry"
	LeafState     = "state"
	LeafStatus    = "status"
	LeafLED       = "led"
	LeafPinny     = "pinny"
	LeafUpdate    = "update"
)
