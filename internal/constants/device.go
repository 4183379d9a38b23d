package constants

import "time"

// Device status values published retained on derbynet/device/{hwid}/status.
const (
	StatusOnline   = "online"
	StatusOffline  = "offline"
	StatusUpdating = "updating"
)

// UpdateTrigger is the payload that asks a device to run its update script.
const UpdateTrigger = "update"

const (
	DefaultOutputSizeLimit  = 64 * 1024 // 64KB
	DefaultMaxExecutionTime = 10 * time.Minute
)

// Device roles.
const (
	RoleCoordinator = "coordinator"
	RoleFinishTimer = "finishtimer"
	RoleStartTimer  = "starttimer"
)

// AgentVersion is reported in telemetry and used by the lane relay firmware gate.
var AgentVersion = "0.6.0"
