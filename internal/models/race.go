package models

import (
	"time"

	"github.com/soapboxderby/derbynet-agent/internal/constants"
)

// TimerHeartbeat is the last time a lane's finish timer was heard from.
type TimerHeartbeat struct {
	LastSeen time.Time `json:"last_seen"`
	Ready    bool      `json:"ready"`
}

// RaceSnapshot is the coordinator state published on derbynet/race/state.
type RaceSnapshot struct {
	State     constants.RaceState    `json:"state"`
	RoundID   int                    `json:"roundid"`
	Heat      int                    `json:"heatid"`
	Class     string                 `json:"class"`
	LaneCount int                    `json:"lane_count"`
	Lanes     []int                  `json:"lanes"`
	LaneTimes map[int]float64        `json:"lanetimes"`
	StartTime *time.Time             `json:"start_time,omitempty"`
	Timers    map[int]TimerHeartbeat `json:"timers,omitempty"`
	LED       string                 `json:"led"`
}

// RaceResult is produced once every expected lane has finished.
type RaceResult struct {
	RoundID   int             `json:"roundid"`
	Heat      int             `json:"heat"`
	LaneTimes map[int]float64 `json:"lanetimes"`
	StartTime time.Time       `json:"start_time"`
}
